package robot

import (
	"context"
	"fmt"
	"time"
)

// Sim is an in-memory Link used for dry runs and tests. Joints track the
// last commanded target with a first-order lag, and the stop flags can be
// toggled to exercise abort paths.
type Sim struct {
	q         []float64
	target    []float64
	lastRead  time.Time
	connected bool

	// Lag is the fraction of the remaining distance covered per read.
	Lag float64

	Protective bool
	Emergency  bool

	// FailState, when set, makes the next State call fail.
	FailState error
}

// NewSim creates a simulator at the given initial pose (zeros if nil).
func NewSim(initial []float64) *Sim {
	q := make([]float64, NumJoints)
	copy(q, initial)
	target := make([]float64, NumJoints)
	copy(target, q)
	return &Sim{q: q, target: target, Lag: 0.5}
}

func (s *Sim) Connect(ctx context.Context) error {
	s.connected = true
	return nil
}

func (s *Sim) Disconnect() error {
	s.connected = false
	return nil
}

func (s *Sim) State(ctx context.Context) (JointState, error) {
	if !s.connected {
		return JointState{}, ErrNotConnected
	}
	if s.FailState != nil {
		err := s.FailState
		s.FailState = nil
		return JointState{}, err
	}

	now := time.Now()
	state := JointState{
		Q:         make([]float64, NumJoints),
		Dq:        make([]float64, NumJoints),
		Timestamp: now,
	}
	dt := 0.0
	if !s.lastRead.IsZero() {
		dt = now.Sub(s.lastRead).Seconds()
	}
	for i := range s.q {
		prev := s.q[i]
		s.q[i] += (s.target[i] - s.q[i]) * s.Lag
		state.Q[i] = s.q[i]
		if dt > 0 {
			state.Dq[i] = (s.q[i] - prev) / dt
		}
	}
	s.lastRead = now
	return state, nil
}

func (s *Sim) Command(ctx context.Context, target []float64, dt time.Duration) error {
	if !s.connected {
		return ErrNotConnected
	}
	if len(target) != NumJoints {
		return fmt.Errorf("command has %d joints, want %d", len(target), NumJoints)
	}
	copy(s.target, target)
	return nil
}

func (s *Sim) MoveTo(ctx context.Context, target []float64, speed float64) error {
	if err := s.Command(ctx, target, 0); err != nil {
		return err
	}
	copy(s.q, target)
	return nil
}

func (s *Sim) ProtectiveStopped() bool { return s.Protective }
func (s *Sim) EmergencyStopped() bool  { return s.Emergency }

func (s *Sim) Stop(ctx context.Context) error {
	copy(s.target, s.q)
	return nil
}

// Positions returns the simulator's current joint vector (test helper).
func (s *Sim) Positions() []float64 {
	out := make([]float64, len(s.q))
	copy(out, s.q)
	return out
}

// CommandedTarget returns the last commanded target (test helper).
func (s *Sim) CommandedTarget() []float64 {
	out := make([]float64, len(s.target))
	copy(out, s.target)
	return out
}
