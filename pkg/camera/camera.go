// Package camera provides frame sources for the control loop. Backends form
// a closed set chosen once at construction; afterwards the loop talks to a
// single Source interface with no runtime type checks.
package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Backend names accepted by New.
const (
	BackendGStreamer = "gstreamer"
	BackendLoop      = "loop"
)

// CaptureFault reports a frame grab that failed after the backend's bounded
// internal retries. The caller decides whether to reuse a previous frame or
// skip the tick.
type CaptureFault struct {
	Attempts int
	Err      error
}

func (f *CaptureFault) Error() string {
	return fmt.Sprintf("capture failed after %d attempts: %v", f.Attempts, f.Err)
}

func (f *CaptureFault) Unwrap() error { return f.Err }

// Frame is one fixed-shape RGB image: Width*Height*3 bytes, row major.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// EncodeJPEG encodes the frame for transport. Called by the producer before
// any shared lock is taken.
func (f Frame) EncodeJPEG(quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := (y*f.Width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst+0] = f.Pix[src+0]
			img.Pix[dst+1] = f.Pix[src+1]
			img.Pix[dst+2] = f.Pix[src+2]
			img.Pix[dst+3] = 0xff
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Source produces one fixed-shape RGB frame per Grab. Start and Stop are
// idempotent. Grab blocks with bounded latency and returns a *CaptureFault
// once the backend's internal retries are exhausted.
type Source interface {
	Start() error
	Stop() error
	Grab() (Frame, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	// Backend is one of BackendGStreamer or BackendLoop.
	Backend string `json:"backend"`
	// Device is the capture device for the gstreamer backend, e.g. "/dev/video0".
	Device string `json:"device"`
	// Dir is the frame directory for the loop backend; empty synthesizes a
	// test pattern.
	Dir    string `json:"dir"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
	// Retries bounds Grab's internal retry count. Zero means 3.
	Retries int `json:"retries"`
}

func (c Config) retries() int {
	if c.Retries <= 0 {
		return 3
	}
	return c.Retries
}

// Validate fails fast on an unusable configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendGStreamer, BackendLoop:
	default:
		return fmt.Errorf("camera: unknown backend %q", c.Backend)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("camera: invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.Backend == BackendGStreamer && c.Device == "" {
		return fmt.Errorf("camera: gstreamer backend requires a device")
	}
	return nil
}

// New constructs the configured backend. The set of backends is closed: a
// name outside it is a configuration error, not a plugin lookup.
func New(cfg Config) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendGStreamer:
		return newGstSource(cfg), nil
	case BackendLoop:
		return newLoopSource(cfg), nil
	}
	// Unreachable after Validate.
	return nil, fmt.Errorf("camera: unknown backend %q", cfg.Backend)
}
