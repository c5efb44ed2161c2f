package camera

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// loopSource replays JPEG frames from a directory in a cycle, or synthesizes
// a moving test pattern when no directory is configured. It stands in for a
// real camera during development and tests.
type loopSource struct {
	cfg     Config
	frames  []Frame
	next    int
	running bool
}

func newLoopSource(cfg Config) *loopSource {
	return &loopSource{cfg: cfg}
}

func (s *loopSource) Start() error {
	if s.running {
		return nil
	}
	if s.cfg.Dir != "" {
		frames, err := loadFrames(s.cfg)
		if err != nil {
			return err
		}
		s.frames = frames
	}
	s.next = 0
	s.running = true
	return nil
}

func (s *loopSource) Stop() error {
	s.running = false
	return nil
}

func (s *loopSource) Grab() (Frame, error) {
	if !s.running {
		return Frame{}, &CaptureFault{Attempts: 0, Err: fmt.Errorf("source not started")}
	}
	if len(s.frames) == 0 {
		f := testPattern(s.cfg.Width, s.cfg.Height, s.next)
		s.next++
		return f, nil
	}
	f := s.frames[s.next%len(s.frames)]
	s.next++
	out := Frame{Width: f.Width, Height: f.Height, Pix: make([]byte, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out, nil
}

func loadFrames(cfg Config) ([]Frame, error) {
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			paths = append(paths, filepath.Join(cfg.Dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no JPEG frames in %s", cfg.Dir)
	}
	sort.Strings(paths)

	frames := make([]Frame, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		img, err := jpeg.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		b := img.Bounds()
		if b.Dx() != cfg.Width || b.Dy() != cfg.Height {
			return nil, fmt.Errorf("%s is %dx%d, want %dx%d", p, b.Dx(), b.Dy(), cfg.Width, cfg.Height)
		}
		frames = append(frames, fromImage(img, cfg.Width, cfg.Height))
	}
	return frames, nil
}

func fromImage(img image.Image, w, h int) Frame {
	pix := make([]byte, w*h*3)
	b := img.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*w + x) * 3
			pix[i+0] = byte(r >> 8)
			pix[i+1] = byte(g >> 8)
			pix[i+2] = byte(bb >> 8)
		}
	}
	return Frame{Width: w, Height: h, Pix: pix}
}

// testPattern renders a horizontally scrolling gradient so successive frames
// differ.
func testPattern(w, h, phase int) Frame {
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			pix[i+0] = byte((x + phase) % 256)
			pix[i+1] = byte(y % 256)
			pix[i+2] = byte((x + y + phase) % 256)
		}
	}
	return Frame{Width: w, Height: h, Pix: pix}
}
