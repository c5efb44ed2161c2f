package robot

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// commFaultThreshold is the number of consecutive failed bus transactions
// after which the arm is reported as protectively stopped.
const commFaultThreshold = 3

// Arm is a feetech-servo backed Link for an SO-101 arm.
type Arm struct {
	port        string
	calibration Calibration

	bus   *feetech.Bus
	group *feetech.ServoGroup

	last      JointState
	commFails int
}

// NewArm creates an arm for the given serial port and calibration. The bus is
// not opened until Connect.
func NewArm(port string, cal Calibration) (*Arm, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return &Arm{port: port, calibration: cal}, nil
}

// Connect opens the serial bus and enables torque on all servos.
func (a *Arm) Connect(ctx context.Context) error {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     a.port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}

	a.bus = bus
	a.group = feetech.NewServoGroupByIDs(bus, a.calibration.MotorIDs()...)

	if err := a.group.EnableAll(ctx); err != nil {
		bus.Close()
		a.bus = nil
		a.group = nil
		return fmt.Errorf("enable torque: %w", err)
	}
	return nil
}

// Disconnect closes the bus connection.
func (a *Arm) Disconnect() error {
	if a.bus == nil {
		return nil
	}
	err := a.bus.Close()
	a.bus = nil
	a.group = nil
	return err
}

// State reads all joint positions via sync read and converts them to radians.
// Velocities are estimated by finite difference against the previous read.
func (a *Arm) State(ctx context.Context) (JointState, error) {
	if a.group == nil {
		return JointState{}, ErrNotConnected
	}

	rawPositions, err := a.group.Positions(ctx)
	if err != nil {
		a.commFails++
		return JointState{}, fmt.Errorf("read positions: %w", err)
	}
	a.commFails = 0

	now := time.Now()
	state := JointState{
		Q:         make([]float64, NumJoints),
		Dq:        make([]float64, NumJoints),
		Timestamp: now,
	}
	for id, raw := range rawPositions {
		name, cal, ok := a.calibration.ByID(id)
		if !ok {
			continue
		}
		state.Q[JointIndex(name)] = cal.Radians(raw)
	}

	if a.last.Timestamp != (time.Time{}) {
		dt := now.Sub(a.last.Timestamp).Seconds()
		if dt > 0 {
			for i := range state.Q {
				state.Dq[i] = (state.Q[i] - a.last.Q[i]) / dt
			}
		}
	}
	a.last = state.Clone()
	return state, nil
}

// Command writes the target joint vector via sync write. dt is advisory; the
// servos track the new setpoint at their configured speed.
func (a *Arm) Command(ctx context.Context, target []float64, dt time.Duration) error {
	if a.group == nil {
		return ErrNotConnected
	}
	if len(target) != NumJoints {
		return fmt.Errorf("command has %d joints, want %d", len(target), NumJoints)
	}

	rawPositions := make(feetech.PositionMap, NumJoints)
	for i, name := range AllMotors() {
		cal := a.calibration[name]
		rawPositions[cal.ID] = cal.Ticks(target[i])
	}
	if err := a.group.SetPositions(ctx, rawPositions); err != nil {
		a.commFails++
		return fmt.Errorf("write positions: %w", err)
	}
	a.commFails = 0
	return nil
}

// MoveTo interpolates from the current pose to target at the given speed
// (rad/s on the fastest joint) and blocks until the motion completes.
func (a *Arm) MoveTo(ctx context.Context, target []float64, speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be positive, got %f", speed)
	}
	start, err := a.State(ctx)
	if err != nil {
		return err
	}

	var maxDiff float64
	for i := range target {
		if d := math.Abs(target[i] - start.Q[i]); d > maxDiff {
			maxDiff = d
		}
	}
	total := time.Duration(maxDiff / speed * float64(time.Second))
	if total < 50*time.Millisecond {
		return a.Command(ctx, target, total)
	}

	const stepPeriod = 20 * time.Millisecond
	steps := int(total / stepPeriod)
	waypoint := make([]float64, NumJoints)
	for s := 1; s <= steps; s++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frac := float64(s) / float64(steps)
		for i := range waypoint {
			waypoint[i] = start.Q[i] + (target[i]-start.Q[i])*frac
		}
		if err := a.Command(ctx, waypoint, stepPeriod); err != nil {
			return err
		}
		time.Sleep(stepPeriod)
	}
	return nil
}

// ProtectiveStopped reports repeated bus failures as a protective stop: if
// the servos stop answering, the loop must not keep commanding blind.
func (a *Arm) ProtectiveStopped() bool {
	return a.commFails >= commFaultThreshold
}

// EmergencyStopped always reports false: the SO-101 bus carries no e-stop
// line. The simulator provides one for tests.
func (a *Arm) EmergencyStopped() bool {
	return false
}

// Stop releases holding torque on all servos.
func (a *Arm) Stop(ctx context.Context) error {
	if a.group == nil {
		return ErrNotConnected
	}
	return a.group.DisableAll(ctx)
}
