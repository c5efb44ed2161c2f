package robot

import (
	"math"
	"testing"
)

func TestMotorCalibration_Radians(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
	}
	// Center of range maps to 0 rad.
	if got := cal.Radians(2000); math.Abs(got) > 1e-9 {
		t.Errorf("Radians(2000) = %f, want 0", got)
	}
	// One full revolution is 4096 ticks, so 1024 ticks is pi/2.
	if got := cal.Radians(2000 + 1024); math.Abs(got-math.Pi/2) > 1e-9 {
		t.Errorf("Radians(3024) = %f, want %f", got, math.Pi/2)
	}
	if got := cal.Radians(2000 - 1024); math.Abs(got+math.Pi/2) > 1e-9 {
		t.Errorf("Radians(976) = %f, want %f", got, -math.Pi/2)
	}
}

func TestMotorCalibration_Ticks_ClampsToRange(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
	}
	if got := cal.Ticks(10); got != 3000 {
		t.Errorf("Ticks(10) = %d, want clamp to 3000", got)
	}
	if got := cal.Ticks(-10); got != 1000 {
		t.Errorf("Ticks(-10) = %d, want clamp to 1000", got)
	}
}

func TestMotorCalibration_RoundTrip(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 823,
		RangeMax: 3540,
	}

	// Test round-trip: raw -> radians -> raw
	for raw := cal.RangeMin; raw <= cal.RangeMax; raw += 100 {
		rad := cal.Radians(raw)
		back := cal.Ticks(rad)
		if math.Abs(float64(back-raw)) > 1 {
			t.Errorf("Round-trip failed: %d -> %f -> %d", raw, rad, back)
		}
	}
}

func TestCalibration_MotorIDs(t *testing.T) {
	cal := Calibration{
		ShoulderPan:  MotorCalibration{ID: 1},
		ShoulderLift: MotorCalibration{ID: 2},
		ElbowFlex:    MotorCalibration{ID: 3},
		WristFlex:    MotorCalibration{ID: 4},
		WristRoll:    MotorCalibration{ID: 5},
		Gripper:      MotorCalibration{ID: 6},
	}

	ids := cal.MotorIDs()
	expected := []int{1, 2, 3, 4, 5, 6}

	if len(ids) != len(expected) {
		t.Fatalf("MotorIDs returned %d IDs, want %d", len(ids), len(expected))
	}

	for i, id := range ids {
		if id != expected[i] {
			t.Errorf("MotorIDs()[%d] = %d, want %d", i, id, expected[i])
		}
	}
}

func TestCalibration_ByID(t *testing.T) {
	cal := Calibration{
		ShoulderPan: MotorCalibration{ID: 1, RangeMin: 100, RangeMax: 200},
		Gripper:     MotorCalibration{ID: 6, RangeMin: 300, RangeMax: 400},
	}

	name, mc, ok := cal.ByID(1)
	if !ok {
		t.Fatal("ByID(1) returned false")
	}
	if name != ShoulderPan {
		t.Errorf("ByID(1) returned name %s, want shoulder_pan", name)
	}
	if mc.RangeMin != 100 {
		t.Errorf("ByID(1) returned wrong calibration: %+v", mc)
	}

	_, _, ok = cal.ByID(99)
	if ok {
		t.Error("ByID(99) should return false")
	}
}

func TestCalibration_JointLimits(t *testing.T) {
	cal := Calibration{}
	for i, name := range AllMotors() {
		cal[name] = MotorCalibration{ID: i + 1, RangeMin: 1000, RangeMax: 3000}
	}

	lower, upper := cal.JointLimits()
	if len(lower) != NumJoints || len(upper) != NumJoints {
		t.Fatalf("JointLimits lengths = %d, %d, want %d", len(lower), len(upper), NumJoints)
	}
	for j := range lower {
		if lower[j] >= upper[j] {
			t.Errorf("joint %d: lower %f >= upper %f", j, lower[j], upper[j])
		}
		if math.Abs(lower[j]+upper[j]) > 1e-9 {
			t.Errorf("joint %d: limits not symmetric about center: %f, %f", j, lower[j], upper[j])
		}
	}
}

func TestCalibration_Validate(t *testing.T) {
	cal := Calibration{}
	for i, name := range AllMotors() {
		cal[name] = MotorCalibration{ID: i + 1, RangeMin: 0, RangeMax: 100}
	}
	if err := cal.Validate(); err != nil {
		t.Fatalf("valid calibration rejected: %v", err)
	}

	delete(cal, Gripper)
	if err := cal.Validate(); err == nil {
		t.Error("missing motor not rejected")
	}

	cal[Gripper] = MotorCalibration{ID: 6, RangeMin: 100, RangeMax: 100}
	if err := cal.Validate(); err == nil {
		t.Error("empty range not rejected")
	}
}
