package policy

import (
	"context"

	"github.com/substrate-robotics/armloop/pkg/robot"
)

// Scripted is an in-process oracle for tests and dry runs. Each Predict call
// invokes Next with the call index since the last Reset.
type Scripted struct {
	// Next produces the chunk for the given call index.
	Next func(call int, state robot.JointState) (ActionChunk, error)

	calls int
}

// Hold returns a scripted oracle whose chunks repeat the observed pose:
// a policy that asks the arm to stay where it is.
func Hold(horizon int) *Scripted {
	return &Scripted{
		Next: func(_ int, state robot.JointState) (ActionChunk, error) {
			actions := make([][]float64, horizon)
			for i := range actions {
				a := make([]float64, len(state.Q))
				copy(a, state.Q)
				actions[i] = a
			}
			return ActionChunk{Actions: actions}, nil
		},
	}
}

func (s *Scripted) Reset() error {
	s.calls = 0
	return nil
}

func (s *Scripted) Predict(ctx context.Context, state robot.JointState, image []byte) (ActionChunk, error) {
	call := s.calls
	s.calls++
	return s.Next(call, state)
}

// Calls returns how many predictions have been made since the last Reset.
func (s *Scripted) Calls() int { return s.calls }
