// Package config defines the run configuration file for the control loop.
// Optional tunables are pointer-typed so a partial file inherits defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/substrate-robotics/armloop/pkg/camera"
	"github.com/substrate-robotics/armloop/pkg/robot"
)

// DefaultConfigFile is the conventional config location.
const DefaultConfigFile = "armloop.json"

// Action modes: a policy action is either a displacement from the current
// pose or an absolute joint target.
const (
	ActionModeDelta    = "delta"
	ActionModeAbsolute = "absolute"
)

// RobotConfig selects the hardware link.
type RobotConfig struct {
	// Simulated replaces the serial arm with the in-memory simulator.
	Simulated bool `json:"simulated"`
	// Port is the serial device of the arm bus.
	Port string `json:"port"`
	// CalibrationPath points at the per-arm calibration JSON.
	CalibrationPath string `json:"calibration_path"`
}

// PolicyConfig points at the inference server.
type PolicyConfig struct {
	Endpoint  string `json:"endpoint"`
	TimeoutMs int    `json:"timeout_ms"`
	// Scripted replaces the HTTP client with a hold-position oracle for
	// dry runs without a server.
	Scripted bool `json:"scripted"`
}

// TelemetryConfig configures the hub, HTTP server and episode store.
type TelemetryConfig struct {
	Listen          string `json:"listen"`
	HistoryCapacity int    `json:"history_capacity"`
	// DBPath enables sqlite episode persistence when non-empty.
	DBPath string `json:"db_path"`
}

// Config is the full run configuration.
type Config struct {
	ControlHz       int  `json:"control_hz"`
	MaxEpisodeSteps int  `json:"max_episode_steps"`
	EnableControl   bool `json:"enable_control"`

	MaxDeltaRad float64   `json:"max_delta_rad"`
	MaxJointVel float64   `json:"max_joint_vel"`
	MaxDriftRad float64   `json:"max_drift_rad"`
	JointLower  []float64 `json:"joint_lower"`
	JointUpper  []float64 `json:"joint_upper"`
	// DriftWatchdog gates only the drift stage; nil means enabled.
	DriftWatchdog *bool `json:"drift_watchdog,omitempty"`

	ActionMode string `json:"action_mode"`
	ChunkSize  int    `json:"chunk_size"`
	// TemporalEnsembleCoeff selects the fusing mode: absent means
	// chunk-buffer, present means temporal ensemble with that decay.
	TemporalEnsembleCoeff *float64 `json:"temporal_ensemble_coeff,omitempty"`

	Robot     RobotConfig     `json:"robot"`
	Camera    camera.Config   `json:"camera"`
	Policy    PolicyConfig    `json:"policy"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// Default returns a conservative configuration: dry run, simulated arm,
// synthesized camera frames.
func Default() Config {
	lower := make([]float64, robot.NumJoints)
	upper := make([]float64, robot.NumJoints)
	for j := range lower {
		lower[j] = -3.1
		upper[j] = 3.1
	}
	return Config{
		ControlHz:       30,
		MaxEpisodeSteps: 600,
		EnableControl:   false,
		MaxDeltaRad:     0.05,
		MaxJointVel:     2.0,
		MaxDriftRad:     1.5,
		JointLower:      lower,
		JointUpper:      upper,
		ActionMode:      ActionModeDelta,
		ChunkSize:       50,
		Robot:           RobotConfig{Simulated: true},
		Camera:          camera.Config{Backend: camera.BackendLoop, Width: 640, Height: 480, FPS: 30},
		Policy:          PolicyConfig{Endpoint: "http://127.0.0.1:9090/predict", TimeoutMs: 500, Scripted: true},
		Telemetry:       TelemetryConfig{Listen: ":8080", HistoryCapacity: 512},
	}
}

// Load reads a config file over the defaults, so partial configs are safe.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate fails fast on an unusable configuration.
func (c Config) Validate() error {
	if c.ControlHz < 1 || c.ControlHz > 1000 {
		return fmt.Errorf("control_hz %d out of range [1, 1000]", c.ControlHz)
	}
	if c.MaxEpisodeSteps < 1 {
		return fmt.Errorf("max_episode_steps must be >= 1, got %d", c.MaxEpisodeSteps)
	}
	if c.MaxDeltaRad < 0 || c.MaxJointVel < 0 || c.MaxDriftRad < 0 {
		return fmt.Errorf("safety limits must be non-negative")
	}
	if len(c.JointLower) != robot.NumJoints || len(c.JointUpper) != robot.NumJoints {
		return fmt.Errorf("joint limit vectors must have %d entries", robot.NumJoints)
	}
	for j := range c.JointLower {
		if c.JointLower[j] > c.JointUpper[j] {
			return fmt.Errorf("joint %d: lower %f > upper %f", j, c.JointLower[j], c.JointUpper[j])
		}
	}
	switch c.ActionMode {
	case ActionModeDelta, ActionModeAbsolute:
	default:
		return fmt.Errorf("action_mode must be %q or %q, got %q", ActionModeDelta, ActionModeAbsolute, c.ActionMode)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be >= 1, got %d", c.ChunkSize)
	}
	if c.TemporalEnsembleCoeff != nil && *c.TemporalEnsembleCoeff < 0 {
		return fmt.Errorf("temporal_ensemble_coeff must be non-negative, got %f", *c.TemporalEnsembleCoeff)
	}
	if !c.Robot.Simulated && c.Robot.Port == "" {
		return fmt.Errorf("robot.port is required unless robot.simulated")
	}
	if err := c.Camera.Validate(); err != nil {
		return err
	}
	if !c.Policy.Scripted {
		if c.Policy.Endpoint == "" {
			return fmt.Errorf("policy.endpoint is required unless policy.scripted")
		}
		if c.Policy.TimeoutMs < 1 {
			return fmt.Errorf("policy.timeout_ms must be >= 1, got %d", c.Policy.TimeoutMs)
		}
	}
	if c.Telemetry.HistoryCapacity < 1 {
		return fmt.Errorf("telemetry.history_capacity must be >= 1, got %d", c.Telemetry.HistoryCapacity)
	}
	return nil
}

// DriftWatchdogEnabled resolves the optional flag.
func (c Config) DriftWatchdogEnabled() bool {
	return c.DriftWatchdog == nil || *c.DriftWatchdog
}
