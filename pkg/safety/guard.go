// Package safety turns raw desired joint targets into targets that are safe
// to send to hardware, and detects unrecoverable drift.
package safety

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Limits holds the per-episode clamp bounds. Lower and Upper are per-joint
// position limits in radians; the scalar limits apply to every joint.
type Limits struct {
	// MaxDelta is the largest per-joint displacement accepted in one tick.
	MaxDelta float64
	// MaxVel is the largest implied per-joint velocity in rad/s.
	MaxVel float64
	// MaxDrift is the largest per-joint departure from the episode
	// reference before the guard freezes.
	MaxDrift float64
	Lower    []float64
	Upper    []float64
}

// Guard is the layered clamp pipeline plus drift watchdog. It is owned by the
// control-loop goroutine and needs no locking.
type Guard struct {
	limits   Limits
	watchdog bool

	violations int
	frozen     bool
	reference  []float64
}

// New creates a guard. The position limit vectors must be the same length and
// ordered lower <= upper per joint.
func New(l Limits) (*Guard, error) {
	if len(l.Lower) != len(l.Upper) {
		return nil, fmt.Errorf("limit vectors differ in length: %d vs %d", len(l.Lower), len(l.Upper))
	}
	for j := range l.Lower {
		if l.Lower[j] > l.Upper[j] {
			return nil, fmt.Errorf("joint %d: lower %f > upper %f", j, l.Lower[j], l.Upper[j])
		}
	}
	if l.MaxDelta < 0 || l.MaxVel < 0 || l.MaxDrift < 0 {
		return nil, fmt.Errorf("scalar limits must be non-negative")
	}
	return &Guard{limits: l, watchdog: true}, nil
}

// Clamp applies, in order: per-joint delta clamp, per-joint position clamp,
// uniform velocity scaling, and the drift watchdog. It returns the safe
// target and whether any stage altered the input.
//
// Once the guard is frozen every call returns current unchanged until Reset.
// dt <= 0 skips the velocity stage only.
func (g *Guard) Clamp(target, current []float64, dt float64) ([]float64, bool) {
	if g.frozen {
		return clone(current), false
	}

	out := clone(target)
	altered := false

	// Stage 1: per-joint delta clamp.
	for j := range out {
		d := out[j] - current[j]
		if d > g.limits.MaxDelta {
			out[j] = current[j] + g.limits.MaxDelta
			altered = true
		} else if d < -g.limits.MaxDelta {
			out[j] = current[j] - g.limits.MaxDelta
			altered = true
		}
	}

	// Stage 2: per-joint position clamp, bounds inclusive.
	for j := range out {
		if out[j] < g.limits.Lower[j] {
			out[j] = g.limits.Lower[j]
			altered = true
		} else if out[j] > g.limits.Upper[j] {
			out[j] = g.limits.Upper[j]
			altered = true
		}
	}

	// Stage 3: uniform velocity scaling. The whole displacement vector is
	// scaled by one factor so the direction of motion is preserved.
	if dt > 0 && g.limits.MaxVel > 0 {
		maxImplied := 0.0
		for j := range out {
			if v := math.Abs(out[j]-current[j]) / dt; v > maxImplied {
				maxImplied = v
			}
		}
		if maxImplied > g.limits.MaxVel {
			disp := make([]float64, len(out))
			floats.SubTo(disp, out, current)
			floats.Scale(g.limits.MaxVel/maxImplied, disp)
			floats.AddTo(out, current, disp)
			altered = true
		}
	}

	// Stage 4: drift watchdog. Tripping it freezes the guard and discards
	// the pipeline's result entirely.
	if g.watchdog && g.reference != nil {
		for j := range out {
			if math.Abs(out[j]-g.reference[j]) > g.limits.MaxDrift {
				g.frozen = true
				g.violations++
				return clone(current), true
			}
		}
	}

	if altered {
		g.violations++
	}
	return out, altered
}

// SetInitialReference latches the episode reference pose. It is a no-op once
// set, until Reset.
func (g *Guard) SetInitialReference(q []float64) {
	if g.reference != nil {
		return
	}
	g.reference = clone(q)
}

// SetDriftWatchdogEnabled gates the drift stage only; the per-tick clamps
// stay active. Disabling it lets a caller replay a known-good trajectory
// whose total displacement legitimately exceeds MaxDrift.
func (g *Guard) SetDriftWatchdogEnabled(enabled bool) {
	g.watchdog = enabled
}

// Reset clears the violation count, the frozen flag and the reference pose
// for a new episode.
func (g *Guard) Reset() {
	g.violations = 0
	g.frozen = false
	g.reference = nil
}

// Frozen reports whether the drift watchdog has tripped this episode.
func (g *Guard) Frozen() bool { return g.frozen }

// Violations returns how many Clamp calls altered their input this episode.
func (g *Guard) Violations() int { return g.violations }

// Reference returns a copy of the episode reference pose, or nil before the
// first tick.
func (g *Guard) Reference() []float64 {
	if g.reference == nil {
		return nil
	}
	return clone(g.reference)
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
