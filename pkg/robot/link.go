package robot

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by link operations before Connect succeeds.
var ErrNotConnected = errors.New("robot link not connected")

// JointState is one synchronous reading of the arm: positions in radians,
// velocities in rad/s, and the monotonic time of the read. Immutable once
// returned.
type JointState struct {
	Q         []float64
	Dq        []float64
	Timestamp time.Time
}

// Clone returns a deep copy of the state.
func (s JointState) Clone() JointState {
	out := JointState{
		Q:         make([]float64, len(s.Q)),
		Dq:        make([]float64, len(s.Dq)),
		Timestamp: s.Timestamp,
	}
	copy(out.Q, s.Q)
	copy(out.Dq, s.Dq)
	return out
}

// Link is the hardware boundary of the control loop. State and MoveTo are
// blocking bounded-latency calls; Command is a low-latency position command
// that does not wait for the motion to complete.
//
// A Link is owned by a single goroutine for the lifetime of an episode and
// needs no internal locking beyond what its transport requires.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect() error

	// State reads current joint positions and velocities.
	State(ctx context.Context) (JointState, error)

	// Command issues a position target to be reached within roughly dt.
	// Fire-and-forget: errors report transport failure, not motion outcome.
	Command(ctx context.Context, target []float64, dt time.Duration) error

	// MoveTo moves to target at the given speed (rad/s) and blocks until
	// the motion completes. Used outside the hot loop, e.g. homing.
	MoveTo(ctx context.Context, target []float64, speed float64) error

	// ProtectiveStopped reports whether the link considers the hardware
	// halted by a protective fault.
	ProtectiveStopped() bool

	// EmergencyStopped reports whether an emergency stop is engaged.
	EmergencyStopped() bool

	// Stop halts motion and releases holding torque.
	Stop(ctx context.Context) error
}
