// Package fuser converts a stream of multi-step action chunks into exactly
// one action per control tick.
//
// Two modes exist, chosen at construction: a chunk buffer that plays each
// chunk out before asking the oracle again, and a temporal ensemble that
// queries the oracle every tick and blends all chunks predicting the current
// tick with exponentially decaying weights. The ensemble smooths the
// discontinuities a chunk boundary would otherwise cause.
package fuser

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/substrate-robotics/armloop/pkg/policy"
)

// OracleCall requests one fresh chunk from the policy.
type OracleCall func(ctx context.Context) (policy.ActionChunk, error)

// Fuser yields one action per tick from overlapping action chunks. A Fuser
// is owned by the control-loop goroutine; Reset must be called once per
// episode before the first Resolve.
type Fuser interface {
	// Resolve returns the action for the given absolute tick, invoking
	// the oracle as the mode requires.
	Resolve(ctx context.Context, tick int, call OracleCall) ([]float64, error)

	// Reset discards all buffered or retained chunks.
	Reset()

	// Depth reports how many future actions (buffer mode) or retained
	// chunks (ensemble mode) are currently held.
	Depth() int
}

// ChunkBuffer is the simple FIFO mode: one oracle call yields L actions which
// are consumed over the next L ticks.
type ChunkBuffer struct {
	queue [][]float64
}

// NewChunkBuffer creates a buffer-mode fuser.
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

func (b *ChunkBuffer) Resolve(ctx context.Context, tick int, call OracleCall) ([]float64, error) {
	if len(b.queue) > 0 {
		head := b.queue[0]
		b.queue = b.queue[1:]
		return head, nil
	}

	chunk, err := call(ctx)
	if err != nil {
		return nil, err
	}
	if chunk.Len() == 0 {
		return nil, fmt.Errorf("fuser: oracle returned empty chunk")
	}

	head := chunk.At(0)
	for i := 1; i < chunk.Len(); i++ {
		b.queue = append(b.queue, chunk.At(i))
	}
	return head, nil
}

func (b *ChunkBuffer) Reset() {
	b.queue = nil
}

func (b *ChunkBuffer) Depth() int {
	return len(b.queue)
}

// TemporalEnsemble queries the oracle every tick and fuses every retained
// chunk covering the current tick with weight exp(-coeff * age), where age is
// the chunk's offset to the tick. coeff = 0 degenerates to an unweighted
// mean; a very large coeff follows only the newest chunk.
type TemporalEnsemble struct {
	coeff    float64
	retained []policy.ActionChunk
}

// NewTemporalEnsemble creates an ensemble-mode fuser. coeff must be
// non-negative.
func NewTemporalEnsemble(coeff float64) (*TemporalEnsemble, error) {
	if coeff < 0 || math.IsNaN(coeff) {
		return nil, fmt.Errorf("fuser: ensemble coefficient must be non-negative, got %f", coeff)
	}
	return &TemporalEnsemble{coeff: coeff}, nil
}

func (e *TemporalEnsemble) Resolve(ctx context.Context, tick int, call OracleCall) ([]float64, error) {
	chunk, err := call(ctx)
	if err != nil {
		return nil, err
	}
	if chunk.Len() == 0 {
		return nil, fmt.Errorf("fuser: oracle returned empty chunk")
	}
	chunk.Origin = tick
	e.retained = append(e.retained, chunk)

	var fused []float64
	var totalWeight float64
	for _, c := range e.retained {
		offset := tick - c.Origin
		if offset < 0 || offset >= c.Len() {
			continue
		}
		w := math.Exp(-e.coeff * float64(offset))
		if fused == nil {
			fused = make([]float64, len(c.Actions[offset]))
		}
		floats.AddScaled(fused, w, c.Actions[offset])
		totalWeight += w
	}
	if fused == nil || totalWeight == 0 {
		return nil, fmt.Errorf("fuser: no retained chunk covers tick %d", tick)
	}
	floats.Scale(1/totalWeight, fused)

	// Drop chunks that can never contribute again.
	kept := e.retained[:0]
	for _, c := range e.retained {
		if c.Origin+c.Len()-1 >= tick {
			kept = append(kept, c)
		}
	}
	e.retained = kept

	return fused, nil
}

func (e *TemporalEnsemble) Reset() {
	e.retained = nil
}

func (e *TemporalEnsemble) Depth() int {
	return len(e.retained)
}
