// Package control runs the fixed-rate episode loop: read state, grab a
// frame, resolve a policy action, clamp it, command the arm, record
// telemetry, sleep out the tick budget.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/substrate-robotics/armloop/pkg/camera"
	"github.com/substrate-robotics/armloop/pkg/config"
	"github.com/substrate-robotics/armloop/pkg/fuser"
	"github.com/substrate-robotics/armloop/pkg/policy"
	"github.com/substrate-robotics/armloop/pkg/robot"
	"github.com/substrate-robotics/armloop/pkg/safety"
	"github.com/substrate-robotics/armloop/pkg/telemetry"
)

// State is the loop's lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Abort reasons reported in the episode summary.
const (
	AbortHardwareStop = "hardware stop engaged"
	AbortDriftFrozen  = "drift watchdog froze output"
	AbortOracleFault  = "policy oracle failed"
	AbortHardwareIO   = "hardware io failed"
	AbortShutdown     = "shutdown requested"
)

// Summary describes how an episode ended. Produced regardless of exit
// reason.
type Summary struct {
	State       State
	Steps       int
	Elapsed     time.Duration
	Violations  int
	AbortReason string
	EpisodeID   string
}

// Config wires the loop's collaborators. Link, Camera, Oracle, Guard and
// Fuser become exclusively owned by the loop goroutine for the episode; Hub
// is the only shared object.
type Config struct {
	Link   robot.Link
	Camera camera.Source
	Oracle policy.Oracle
	Guard  *safety.Guard
	Fuser  fuser.Fuser
	Hub    *telemetry.Hub

	Hz            int
	MaxSteps      int
	EnableControl bool
	// ActionMode is config.ActionModeDelta or config.ActionModeAbsolute.
	ActionMode string
	// EpisodeID tags telemetry status; may be empty.
	EpisodeID string
	// JPEGQuality for telemetry frames; zero means 80.
	JPEGQuality int
}

func (c Config) validate() error {
	if c.Link == nil || c.Camera == nil || c.Oracle == nil || c.Guard == nil || c.Fuser == nil || c.Hub == nil {
		return errors.New("control: all collaborators must be set")
	}
	if c.Hz < 1 {
		return fmt.Errorf("control: hz must be >= 1, got %d", c.Hz)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("control: max steps must be >= 1, got %d", c.MaxSteps)
	}
	switch c.ActionMode {
	case config.ActionModeDelta, config.ActionModeAbsolute:
	default:
		return fmt.Errorf("control: unknown action mode %q", c.ActionMode)
	}
	return nil
}

// Loop is the episode orchestrator.
type Loop struct {
	cfg   Config
	state State
	logCh chan string
}

// New creates a loop. The loop starts Idle; RunEpisode drives it to
// Completed or Aborted.
func New(cfg Config) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 80
	}
	return &Loop{
		cfg:   cfg,
		logCh: make(chan string, 32),
	}, nil
}

// Logs returns a channel of human-readable loop events. Messages are
// dropped, not queued, when nobody drains it.
func (l *Loop) Logs() <-chan string {
	return l.logCh
}

// State returns the loop's lifecycle state.
func (l *Loop) State() State {
	return l.state
}

func (l *Loop) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case l.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// RunEpisode runs one episode to completion or abort. Cancellation is
// cooperative: the context is checked once per iteration boundary, so an
// in-flight hardware command always completes before shutdown takes effect.
func (l *Loop) RunEpisode(ctx context.Context) (Summary, error) {
	if l.state == Running {
		return Summary{}, errors.New("control: episode already running")
	}
	l.state = Running

	start := time.Now()
	summary := Summary{EpisodeID: l.cfg.EpisodeID}

	// Fresh per-episode state in every collaborator.
	l.cfg.Guard.Reset()
	l.cfg.Fuser.Reset()
	if err := l.cfg.Oracle.Reset(); err != nil {
		l.state = Aborted
		summary.State = Aborted
		summary.AbortReason = AbortOracleFault
		return summary, fmt.Errorf("reset oracle: %w", err)
	}

	if err := l.cfg.Link.Connect(ctx); err != nil {
		l.state = Aborted
		summary.State = Aborted
		summary.AbortReason = AbortHardwareIO
		return summary, fmt.Errorf("connect link: %w", err)
	}
	if err := l.cfg.Camera.Start(); err != nil {
		if derr := l.cfg.Link.Disconnect(); derr != nil {
			l.log("disconnect after failed camera start: %v", derr)
		}
		l.state = Aborted
		summary.State = Aborted
		summary.AbortReason = AbortHardwareIO
		return summary, fmt.Errorf("start camera: %w", err)
	}

	// Cleanup of each resource is attempted independently so one failure
	// cannot leak the other.
	defer func() {
		if err := l.cfg.Link.Stop(context.Background()); err != nil {
			l.log("stop link: %v", err)
		}
		if err := l.cfg.Link.Disconnect(); err != nil {
			l.log("disconnect link: %v", err)
		}
		if err := l.cfg.Camera.Stop(); err != nil {
			l.log("stop camera: %v", err)
		}
	}()

	period := time.Second / time.Duration(l.cfg.Hz)
	dt := period.Seconds()

	var (
		lastFrame camera.Frame
		haveFrame bool
		runErr    error
	)

	l.log("episode started at %d Hz, %d steps max, control=%v",
		l.cfg.Hz, l.cfg.MaxSteps, l.cfg.EnableControl)

	for step := 0; step < l.cfg.MaxSteps; step++ {
		if ctx.Err() != nil {
			summary.AbortReason = AbortShutdown
			break
		}
		tickStart := time.Now()

		state, err := l.cfg.Link.State(ctx)
		if err != nil {
			summary.AbortReason = AbortHardwareIO
			runErr = fmt.Errorf("read state: %w", err)
			break
		}

		if step == 0 {
			l.cfg.Guard.SetInitialReference(state.Q)
			l.publishStatus(true)
		}

		frame, err := l.cfg.Camera.Grab()
		if err != nil {
			if !haveFrame {
				// No frame has ever succeeded: skip the tick
				// entirely, no command is sent.
				l.log("step %d: capture failed with no prior frame, skipping tick: %v", step, err)
				l.sleepRemaining(step, tickStart, period)
				continue
			}
			l.log("step %d: capture failed, reusing last frame: %v", step, err)
			frame = lastFrame
		} else {
			lastFrame = frame
			haveFrame = true
		}

		inferStart := time.Now()
		raw, err := l.cfg.Fuser.Resolve(ctx, step, func(ctx context.Context) (policy.ActionChunk, error) {
			return l.cfg.Oracle.Predict(ctx, state, frame.Pix)
		})
		if err != nil {
			// No safe synthetic fallback action exists.
			summary.AbortReason = AbortOracleFault
			runErr = fmt.Errorf("resolve action: %w", err)
			break
		}
		inferDt := time.Since(inferStart)

		target := make([]float64, len(raw))
		if l.cfg.ActionMode == config.ActionModeDelta {
			floats.AddTo(target, state.Q, raw)
		} else {
			copy(target, raw)
		}

		safe, clamped := l.cfg.Guard.Clamp(target, state.Q, dt)

		if l.cfg.EnableControl {
			if err := l.cfg.Link.Command(ctx, safe, period); err != nil {
				summary.AbortReason = AbortHardwareIO
				runErr = fmt.Errorf("command link: %w", err)
				break
			}
		}

		if l.cfg.Link.ProtectiveStopped() || l.cfg.Link.EmergencyStopped() {
			summary.AbortReason = AbortHardwareStop
		} else if l.cfg.Guard.Frozen() {
			summary.AbortReason = AbortDriftFrozen
		}

		// Encode outside the hub's lock, then hand off.
		if jpeg, err := frame.EncodeJPEG(l.cfg.JPEGQuality); err == nil {
			l.cfg.Hub.RecordImage(jpeg)
		}
		l.cfg.Hub.RecordStep(telemetry.StepRecord{
			Step:          step,
			Timestamp:     tickStart,
			CurrentQ:      state.Q,
			TargetQ:       safe,
			RawAction:     raw,
			WasClamped:    clamped,
			LoopDtMs:      float64(time.Since(tickStart)) / float64(time.Millisecond),
			InferenceDtMs: float64(inferDt) / float64(time.Millisecond),
			BufferDepth:   l.cfg.Fuser.Depth(),
			DriftRad:      l.driftFrom(safe),
		})
		l.publishStatus(true)
		summary.Steps = step + 1

		if summary.AbortReason != "" {
			break
		}

		l.sleepRemaining(step, tickStart, period)
	}

	summary.Elapsed = time.Since(start)
	summary.Violations = l.cfg.Guard.Violations()
	if summary.AbortReason == "" && ctx.Err() != nil {
		summary.AbortReason = AbortShutdown
	}
	if summary.AbortReason == "" {
		l.state = Completed
	} else {
		l.state = Aborted
	}
	summary.State = l.state
	l.publishStatus(false)

	l.log("episode %s: %d steps in %s, %d violations%s",
		l.state, summary.Steps, summary.Elapsed.Round(time.Millisecond),
		summary.Violations, reasonSuffix(summary.AbortReason))
	return summary, runErr
}

// sleepRemaining sleeps out the tick budget. An overrun is logged, never
// compensated: the next tick starts late rather than the loop busy-spinning
// to catch up.
func (l *Loop) sleepRemaining(step int, tickStart time.Time, period time.Duration) {
	elapsed := time.Since(tickStart)
	if elapsed >= period {
		l.log("step %d: tick overran budget by %s", step, (elapsed - period).Round(time.Microsecond))
		return
	}
	time.Sleep(period - elapsed)
}

func (l *Loop) driftFrom(q []float64) []float64 {
	ref := l.cfg.Guard.Reference()
	if ref == nil {
		return nil
	}
	drift := make([]float64, len(q))
	for j := range q {
		drift[j] = math.Abs(q[j] - ref[j])
	}
	return drift
}

func (l *Loop) publishStatus(running bool) {
	l.cfg.Hub.SetStatus(telemetry.Status{
		Running:    running,
		Frozen:     l.cfg.Guard.Frozen(),
		EpisodeID:  l.cfg.EpisodeID,
		Violations: l.cfg.Guard.Violations(),
	})
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}
