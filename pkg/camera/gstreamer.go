package camera

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// gstSource captures fixed-shape RGB frames from a V4L2 device through a
// GStreamer pipeline:
//
//	v4l2src ! videoconvert ! videoscale ! capsfilter(RGB WxH) ! appsink
//
// Frames are pulled synchronously from the appsink; the sink keeps only the
// newest buffer so a slow consumer never accumulates latency.
type gstSource struct {
	cfg      Config
	pipeline *gst.Pipeline
	sink     *app.Sink
	running  bool
}

func newGstSource(cfg Config) *gstSource {
	return &gstSource{cfg: cfg}
}

func (s *gstSource) Start() error {
	if s.running {
		return nil
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("create v4l2src: %w", err)
	}
	if err := src.SetProperty("device", s.cfg.Device); err != nil {
		return fmt.Errorf("set device: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", s.cfg.Width, s.cfg.Height)
	if s.cfg.FPS > 0 {
		capsStr += fmt.Sprintf(",framerate=%d/1", s.cfg.FPS)
	}
	if err := capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr)); err != nil {
		return fmt.Errorf("set caps: %w", err)
	}

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", uint(1))
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("assemble pipeline: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("link pipeline: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	s.pipeline = pipeline
	s.sink = appsink
	s.running = true
	return nil
}

func (s *gstSource) Stop() error {
	if !s.running {
		return nil
	}
	s.running = false
	err := s.pipeline.SetState(gst.StateNull)
	s.pipeline = nil
	s.sink = nil
	return err
}

func (s *gstSource) Grab() (Frame, error) {
	if !s.running {
		return Frame{}, &CaptureFault{Attempts: 0, Err: fmt.Errorf("source not started")}
	}

	want := s.cfg.Width * s.cfg.Height * 3
	attempts := s.cfg.retries()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		sample := s.sink.PullSample()
		if sample == nil {
			lastErr = fmt.Errorf("appsink returned no sample")
			continue
		}

		buffer := sample.GetBuffer()
		if buffer == nil {
			lastErr = fmt.Errorf("sample has no buffer")
			continue
		}

		mapInfo := buffer.Map(gst.MapRead)
		data := mapInfo.Bytes()
		if len(data) != want {
			buffer.Unmap()
			lastErr = fmt.Errorf("frame has %d bytes, want %d", len(data), want)
			continue
		}

		pix := make([]byte, want)
		copy(pix, data)
		buffer.Unmap()

		return Frame{Width: s.cfg.Width, Height: s.cfg.Height, Pix: pix}, nil
	}

	return Frame{}, &CaptureFault{Attempts: attempts, Err: lastErr}
}
