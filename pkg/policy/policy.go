// Package policy defines the oracle boundary: an opaque component that maps
// a state+image observation to a chunk of future actions.
package policy

import (
	"context"
	"fmt"

	"github.com/substrate-robotics/armloop/pkg/robot"
)

// ActionChunk is an ordered sequence of future action vectors produced by one
// inference call. Origin is the absolute tick at which the chunk was
// produced: a chunk predicts ticks Origin .. Origin+Len()-1. It is stamped by
// the consumer at handoff, and the chunk is owned by the consumer thereafter.
type ActionChunk struct {
	Actions [][]float64
	Origin  int
}

// Len returns the number of action vectors in the chunk.
func (c ActionChunk) Len() int { return len(c.Actions) }

// At returns a copy of the action vector at the given offset into the chunk.
func (c ActionChunk) At(offset int) []float64 {
	out := make([]float64, len(c.Actions[offset]))
	copy(out, c.Actions[offset])
	return out
}

// Validate checks the chunk shape against the expected horizon and joint
// count.
func (c ActionChunk) Validate(horizon, joints int) error {
	if len(c.Actions) != horizon {
		return fmt.Errorf("chunk has %d actions, want %d", len(c.Actions), horizon)
	}
	for i, a := range c.Actions {
		if len(a) != joints {
			return fmt.Errorf("chunk action %d has %d joints, want %d", i, len(a), joints)
		}
	}
	return nil
}

// Oracle is the policy boundary. Predict is treated as pure and
// side-effect-free by the control loop; any caching or statefulness is the
// oracle's own concern. Implementations must bound their latency themselves
// (hard timeout or bounded retry surfacing as an error).
type Oracle interface {
	// Reset prepares the oracle for a new episode.
	Reset() error

	// Predict maps one observation to a chunk of future actions.
	Predict(ctx context.Context, state robot.JointState, image []byte) (ActionChunk, error)
}
