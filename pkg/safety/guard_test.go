package safety

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wideLimits() Limits {
	lower := make([]float64, 6)
	upper := make([]float64, 6)
	for j := range lower {
		lower[j] = -10
		upper[j] = 10
	}
	return Limits{
		MaxDelta: 0.05,
		MaxVel:   100,
		MaxDrift: 0.5,
		Lower:    lower,
		Upper:    upper,
	}
}

func TestClamp_DeltaBound(t *testing.T) {
	g, err := New(wideLimits())
	require.NoError(t, err)

	current := []float64{0, 0, 0, 0, 0, 0}
	target := []float64{1, -1, 0.04, 2, -0.01, 0.05}

	out, clamped := g.Clamp(target, current, 1.0/30)
	assert.True(t, clamped)
	for j := range out {
		assert.LessOrEqual(t, math.Abs(out[j]-current[j]), 0.05+1e-12, "joint %d", j)
	}
}

func TestClamp_PositionBound(t *testing.T) {
	l := wideLimits()
	l.MaxDelta = 100
	l.Lower = []float64{-0.1, -0.1, -0.1, -0.1, -0.1, -0.1}
	l.Upper = []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	g, err := New(l)
	require.NoError(t, err)

	current := []float64{0, 0, 0, 0, 0, 0}
	target := []float64{5, -5, 0.05, 0.2, -0.2, 0}

	out, _ := g.Clamp(target, current, 1.0/30)
	for j := range out {
		assert.GreaterOrEqual(t, out[j], l.Lower[j], "joint %d", j)
		assert.LessOrEqual(t, out[j], l.Upper[j], "joint %d", j)
	}
}

func TestClamp_ScenarioA(t *testing.T) {
	g, err := New(wideLimits())
	require.NoError(t, err)

	current := []float64{0, 0, 0, 0, 0, 0}
	target := []float64{1, 1, 1, 1, 1, 1}

	out, clamped := g.Clamp(target, current, 1.0/30)
	assert.True(t, clamped)
	for j := range out {
		assert.InDelta(t, 0.05, out[j], 1e-12, "joint %d", j)
	}
	assert.Equal(t, 1, g.Violations(), "one call, one violation")
}

func TestClamp_VelocityScaleIsUniform(t *testing.T) {
	l := wideLimits()
	l.MaxDelta = 1
	l.MaxVel = 0.5
	g, err := New(l)
	require.NoError(t, err)

	current := []float64{0, 0, 0, 0, 0, 0}
	target := []float64{0.1, 0.05, 0.025, 0, 0, 0}
	dt := 0.1 // implied velocities 1.0, 0.5, 0.25 rad/s

	out, clamped := g.Clamp(target, current, dt)
	assert.True(t, clamped)

	// The fastest joint is brought down to exactly MaxVel...
	assert.InDelta(t, 0.5, math.Abs(out[0]-current[0])/dt, 1e-9)
	// ...and the direction is preserved: all joints scaled by the same factor.
	assert.InDelta(t, out[0]/2, out[1], 1e-9)
	assert.InDelta(t, out[0]/4, out[2], 1e-9)
}

func TestClamp_ZeroDtSkipsVelocityStage(t *testing.T) {
	l := wideLimits()
	l.MaxDelta = 1
	l.MaxVel = 0.001
	g, err := New(l)
	require.NoError(t, err)

	current := make([]float64, 6)
	target := []float64{0.5, 0, 0, 0, 0, 0}

	out, clamped := g.Clamp(target, current, 0)
	assert.False(t, clamped)
	assert.InDelta(t, 0.5, out[0], 1e-12)
}

func TestClamp_ScenarioB_DriftFreeze(t *testing.T) {
	g, err := New(wideLimits())
	require.NoError(t, err)
	g.SetInitialReference([]float64{0, 0, 0, 0, 0, 0})

	current := []float64{0, 0, 0, 0, 0, 0}
	for i := 0; i < 10; i++ {
		target := append([]float64(nil), current...)
		target[0] += 0.05
		out, clamped := g.Clamp(target, current, 1.0/30)
		require.False(t, clamped, "step %d should be accepted unaltered", i)
		require.False(t, g.Frozen(), "step %d must not freeze", i)
		current = out
	}
	assert.InDelta(t, 0.5, current[0], 1e-9)

	// The 11th application takes cumulative drift to 0.55 > 0.5.
	target := append([]float64(nil), current...)
	target[0] += 0.05
	out, clamped := g.Clamp(target, current, 1.0/30)
	assert.True(t, clamped)
	assert.True(t, g.Frozen())
	assert.Equal(t, current, out, "freeze returns current unchanged")
}

func TestClamp_FrozenIsTerminal(t *testing.T) {
	// Trip the watchdog directly.
	far := []float64{0.6, 0, 0, 0, 0, 0}
	l := wideLimits()
	l.MaxDelta = 10
	g, err := New(l)
	require.NoError(t, err)
	g.SetInitialReference([]float64{0, 0, 0, 0, 0, 0})
	_, _ = g.Clamp(far, []float64{0.58, 0, 0, 0, 0, 0}, 0)
	require.True(t, g.Frozen())

	violations := g.Violations()
	for _, current := range [][]float64{
		{1, 2, 3, 4, 5, 6},
		{-1, 0, 0, 0, 0, 0},
	} {
		out, clamped := g.Clamp([]float64{9, 9, 9, 9, 9, 9}, current, 1.0/30)
		assert.Equal(t, current, out)
		assert.False(t, clamped)
	}
	assert.Equal(t, violations, g.Violations(), "frozen calls do not count violations")

	g.Reset()
	assert.False(t, g.Frozen())
	assert.Equal(t, 0, g.Violations())
	assert.Nil(t, g.Reference())
}

func TestClamp_WatchdogDisabled(t *testing.T) {
	l := wideLimits()
	l.MaxDelta = 10
	g, err := New(l)
	require.NoError(t, err)
	g.SetInitialReference([]float64{0, 0, 0, 0, 0, 0})
	g.SetDriftWatchdogEnabled(false)

	current := []float64{0.9, 0, 0, 0, 0, 0}
	out, clamped := g.Clamp([]float64{1, 0, 0, 0, 0, 0}, current, 0)
	assert.False(t, g.Frozen(), "drift stage disabled")
	assert.False(t, clamped)
	assert.InDelta(t, 1.0, out[0], 1e-12)

	// Per-tick stages stay active regardless.
	out, clamped = g.Clamp([]float64{100, 0, 0, 0, 0, 0}, current, 0)
	assert.True(t, clamped)
	assert.LessOrEqual(t, out[0], 10.0)
}

func TestSetInitialReference_LatchesOnce(t *testing.T) {
	g, err := New(wideLimits())
	require.NoError(t, err)

	g.SetInitialReference([]float64{1, 1, 1, 1, 1, 1})
	g.SetInitialReference([]float64{2, 2, 2, 2, 2, 2})
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1}, g.Reference())
}

func TestNew_RejectsBadLimits(t *testing.T) {
	_, err := New(Limits{Lower: []float64{0, 0}, Upper: []float64{1}})
	assert.Error(t, err)

	_, err = New(Limits{Lower: []float64{1}, Upper: []float64{0}})
	assert.Error(t, err)

	_, err = New(Limits{MaxDelta: -1, Lower: []float64{0}, Upper: []float64{1}})
	assert.Error(t, err)
}
