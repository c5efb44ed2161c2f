package robot

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// ticksPerRev is the encoder resolution of the STS3215 servos (12 bit over a
// full revolution).
const ticksPerRev = 4096

// MotorCalibration holds calibration data for a single motor.
type MotorCalibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`
	HomingOffset int `json:"homing_offset"`
	RangeMin     int `json:"range_min"`
	RangeMax     int `json:"range_max"`
}

// Calibration holds calibration data for all motors, keyed by motor name.
type Calibration map[MotorName]MotorCalibration

// LoadCalibration loads calibration data from a JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var raw map[string]MotorCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}

	cal := make(Calibration, len(raw))
	for name, mc := range raw {
		cal[MotorName(name)] = mc
	}

	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

// Validate checks that every motor of the arm is calibrated with a non-empty
// range.
func (c Calibration) Validate() error {
	for _, name := range AllMotors() {
		mc, ok := c[name]
		if !ok {
			return fmt.Errorf("calibration missing motor %q", name)
		}
		if mc.RangeMax <= mc.RangeMin {
			return fmt.Errorf("calibration for %q has empty range [%d, %d]", name, mc.RangeMin, mc.RangeMax)
		}
	}
	return nil
}

// center is the raw tick value mapped to 0 rad.
func (c MotorCalibration) center() float64 {
	return float64(c.RangeMin+c.RangeMax) / 2
}

// Radians converts a raw servo position to a joint angle in radians,
// measured from the center of the calibrated range.
func (c MotorCalibration) Radians(raw int) float64 {
	return (float64(raw) - c.center()) * (2 * math.Pi / ticksPerRev)
}

// Ticks converts a joint angle in radians back to a raw servo position,
// clamped to the calibrated range.
func (c MotorCalibration) Ticks(rad float64) int {
	raw := int(math.Round(c.center() + rad*(ticksPerRev/(2*math.Pi))))
	if raw < c.RangeMin {
		raw = c.RangeMin
	}
	if raw > c.RangeMax {
		raw = c.RangeMax
	}
	return raw
}

// LowerRad and UpperRad are the calibrated joint limits in radians.
func (c MotorCalibration) LowerRad() float64 { return c.Radians(c.RangeMin) }
func (c MotorCalibration) UpperRad() float64 { return c.Radians(c.RangeMax) }

// MotorIDs returns the servo IDs for all motors in the calibration.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	// Use AllMotors() to ensure consistent ordering
	for _, name := range AllMotors() {
		if mc, ok := c[name]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// ByID returns motor name and calibration for a given servo ID.
func (c Calibration) ByID(id int) (MotorName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}

// JointLimits returns the calibrated joint limits, in radians, as ordered
// lower/upper vectors.
func (c Calibration) JointLimits() (lower, upper []float64) {
	lower = make([]float64, 0, NumJoints)
	upper = make([]float64, 0, NumJoints)
	for _, name := range AllMotors() {
		mc := c[name]
		lower = append(lower, mc.LowerRad())
		upper = append(upper, mc.UpperRad())
	}
	return lower, upper
}
