package fuser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-robotics/armloop/pkg/policy"
)

// constChunks returns an oracle call producing chunks of the given horizon
// whose every action is a constant equal to the call index, and a counter.
func constChunks(horizon int) (OracleCall, *int) {
	calls := 0
	call := func(ctx context.Context) (policy.ActionChunk, error) {
		actions := make([][]float64, horizon)
		for i := range actions {
			actions[i] = []float64{float64(calls)}
		}
		calls++
		return policy.ActionChunk{Actions: actions}, nil
	}
	return call, &calls
}

func TestChunkBuffer_PlaysChunkInOrder(t *testing.T) {
	const horizon = 5
	ctx := context.Background()

	calls := 0
	call := func(ctx context.Context) (policy.ActionChunk, error) {
		actions := make([][]float64, horizon)
		for i := range actions {
			actions[i] = []float64{float64(calls*100 + i)}
		}
		calls++
		return policy.ActionChunk{Actions: actions}, nil
	}

	b := NewChunkBuffer()
	b.Reset()

	// L consecutive resolves return the L chunk elements in order, from a
	// single oracle call.
	for i := 0; i < horizon; i++ {
		a, err := b.Resolve(ctx, i, call)
		require.NoError(t, err)
		assert.Equal(t, []float64{float64(i)}, a, "tick %d", i)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Depth())

	// The (L+1)-th resolve triggers exactly one new call.
	a, err := b.Resolve(ctx, horizon, call)
	require.NoError(t, err)
	assert.Equal(t, []float64{100}, a)
	assert.Equal(t, 2, calls)
	assert.Equal(t, horizon-1, b.Depth())
}

func TestChunkBuffer_ResetDropsQueue(t *testing.T) {
	ctx := context.Background()
	call, calls := constChunks(4)

	b := NewChunkBuffer()
	_, err := b.Resolve(ctx, 0, call)
	require.NoError(t, err)
	require.Equal(t, 3, b.Depth())

	b.Reset()
	assert.Equal(t, 0, b.Depth())

	_, err = b.Resolve(ctx, 0, call)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
}

func TestChunkBuffer_OracleErrorPropagates(t *testing.T) {
	boom := errors.New("inference exploded")
	b := NewChunkBuffer()
	_, err := b.Resolve(context.Background(), 0, func(ctx context.Context) (policy.ActionChunk, error) {
		return policy.ActionChunk{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestTemporalEnsemble_ZeroCoeffIsUnweightedMean(t *testing.T) {
	const horizon = 3
	ctx := context.Background()
	call, calls := constChunks(horizon)

	e, err := NewTemporalEnsemble(0)
	require.NoError(t, err)
	e.Reset()

	// Tick 0: only chunk 0 contributes.
	a, err := e.Resolve(ctx, 0, call)
	require.NoError(t, err)
	assert.InDelta(t, 0, a[0], 1e-12)

	// Tick 1: chunks 0 and 1 cover it; mean of {0, 1}.
	a, err = e.Resolve(ctx, 1, call)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, a[0], 1e-12)

	// Tick 2: chunks 0, 1, 2 cover it; mean of {0, 1, 2}.
	a, err = e.Resolve(ctx, 2, call)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, a[0], 1e-12)

	// Tick 3: chunk 0 expired (covers ticks 0-2); mean of {1, 2, 3}.
	a, err = e.Resolve(ctx, 3, call)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, a[0], 1e-12)

	assert.Equal(t, 4, *calls, "ensemble queries the oracle every tick")
}

func TestTemporalEnsemble_LargeCoeffFollowsNewestChunk(t *testing.T) {
	const horizon = 4
	ctx := context.Background()
	call, _ := constChunks(horizon)

	e, err := NewTemporalEnsemble(50)
	require.NoError(t, err)

	var got []float64
	for tick := 0; tick < horizon; tick++ {
		got, err = e.Resolve(ctx, tick, call)
		require.NoError(t, err)
	}
	// The newest chunk at tick 3 is chunk 3, contributing at offset 0.
	assert.InDelta(t, 3.0, got[0], 1e-6)
}

func TestTemporalEnsemble_EvictsExpiredChunks(t *testing.T) {
	const horizon = 2
	ctx := context.Background()
	call, _ := constChunks(horizon)

	e, err := NewTemporalEnsemble(0.1)
	require.NoError(t, err)

	for tick := 0; tick < 5; tick++ {
		_, err = e.Resolve(ctx, tick, call)
		require.NoError(t, err)
		// Only chunks whose window still reaches the current tick are
		// retained: with horizon 2 that is at most 2.
		assert.LessOrEqual(t, e.Depth(), horizon, "tick %d", tick)
	}
}

func TestTemporalEnsemble_RejectsNegativeCoeff(t *testing.T) {
	_, err := NewTemporalEnsemble(-0.5)
	assert.Error(t, err)
}
