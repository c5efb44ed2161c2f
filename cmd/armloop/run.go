package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/substrate-robotics/armloop/pkg/camera"
	"github.com/substrate-robotics/armloop/pkg/config"
	"github.com/substrate-robotics/armloop/pkg/control"
	"github.com/substrate-robotics/armloop/pkg/fuser"
	"github.com/substrate-robotics/armloop/pkg/policy"
	"github.com/substrate-robotics/armloop/pkg/robot"
	"github.com/substrate-robotics/armloop/pkg/safety"
	"github.com/substrate-robotics/armloop/pkg/telemetry"
)

type RunCommand struct {
	Config  string `long:"config" short:"c" default:"armloop.json" description:"Path to the configuration file"`
	Control bool   `long:"control" description:"Send commands to the arm (overrides the config's dry-run setting)"`
	Steps   int    `long:"steps" description:"Override max episode steps"`
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Control {
		cfg.EnableControl = true
	}
	if c.Steps > 0 {
		cfg.MaxEpisodeSteps = c.Steps
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.startTelemetry(ctx)

	go func() {
		for msg := range rt.loop.Logs() {
			fmt.Println(msg)
		}
	}()

	fmt.Printf("Episode %s: %d Hz, %d steps max, control=%v, telemetry on %s\n",
		rt.episodeID, cfg.ControlHz, cfg.MaxEpisodeSteps, cfg.EnableControl, cfg.Telemetry.Listen)

	summary, runErr := rt.loop.RunEpisode(ctx)
	rt.finish(summary)

	fmt.Printf("Episode %s: %d steps in %s, %d safety violations\n",
		summary.State, summary.Steps, summary.Elapsed.Round(time.Millisecond), summary.Violations)
	if summary.AbortReason != "" {
		fmt.Printf("Abort reason: %s\n", summary.AbortReason)
	}
	return runErr
}

// loadConfig reads the config file, falling back to defaults when the
// conventional file is simply absent.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == config.DefaultConfigFile {
		fmt.Printf("No %s found, using defaults (simulated arm, dry run)\n", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

// episodeRuntime bundles the wired collaborators for one episode.
type episodeRuntime struct {
	cfg       config.Config
	loop      *control.Loop
	hub       *telemetry.Hub
	server    *telemetry.Server
	store     *telemetry.Store
	episodeID string
}

func buildRuntime(cfg config.Config) (*episodeRuntime, error) {
	link, err := buildLink(cfg.Robot)
	if err != nil {
		return nil, err
	}
	cam, err := camera.New(cfg.Camera)
	if err != nil {
		return nil, err
	}
	oracle, err := buildOracle(cfg)
	if err != nil {
		return nil, err
	}
	guard, err := safety.New(safety.Limits{
		MaxDelta: cfg.MaxDeltaRad,
		MaxVel:   cfg.MaxJointVel,
		MaxDrift: cfg.MaxDriftRad,
		Lower:    cfg.JointLower,
		Upper:    cfg.JointUpper,
	})
	if err != nil {
		return nil, err
	}
	guard.SetDriftWatchdogEnabled(cfg.DriftWatchdogEnabled())

	var fus fuser.Fuser
	if cfg.TemporalEnsembleCoeff != nil {
		fus, err = fuser.NewTemporalEnsemble(*cfg.TemporalEnsembleCoeff)
		if err != nil {
			return nil, err
		}
	} else {
		fus = fuser.NewChunkBuffer()
	}

	hub := telemetry.NewHub(cfg.Telemetry.HistoryCapacity)

	rt := &episodeRuntime{
		cfg:    cfg,
		hub:    hub,
		server: telemetry.NewServer(hub),
	}

	if cfg.Telemetry.DBPath != "" {
		store, err := telemetry.OpenStore(cfg.Telemetry.DBPath)
		if err != nil {
			return nil, err
		}
		id, err := store.BeginEpisode(time.Now())
		if err != nil {
			store.Close()
			return nil, err
		}
		rt.store = store
		rt.episodeID = id
	} else {
		rt.episodeID = uuid.NewString()
	}

	rt.loop, err = control.New(control.Config{
		Link:          link,
		Camera:        cam,
		Oracle:        oracle,
		Guard:         guard,
		Fuser:         fus,
		Hub:           hub,
		Hz:            cfg.ControlHz,
		MaxSteps:      cfg.MaxEpisodeSteps,
		EnableControl: cfg.EnableControl,
		ActionMode:    cfg.ActionMode,
		EpisodeID:     rt.episodeID,
	})
	if err != nil {
		if rt.store != nil {
			rt.store.Close()
		}
		return nil, err
	}
	return rt, nil
}

func buildLink(rc config.RobotConfig) (robot.Link, error) {
	if rc.Simulated {
		return robot.NewSim(nil), nil
	}
	if rc.CalibrationPath == "" {
		return nil, fmt.Errorf("robot.calibration_path is required for a hardware arm")
	}
	cal, err := robot.LoadCalibration(rc.CalibrationPath)
	if err != nil {
		return nil, err
	}
	return robot.NewArm(rc.Port, cal)
}

func buildOracle(cfg config.Config) (policy.Oracle, error) {
	if cfg.Policy.Scripted {
		return policy.Hold(cfg.ChunkSize), nil
	}
	return policy.NewClient(policy.HTTPConfig{
		Endpoint:  cfg.Policy.Endpoint,
		Timeout:   time.Duration(cfg.Policy.TimeoutMs) * time.Millisecond,
		ChunkSize: cfg.ChunkSize,
	})
}

// startTelemetry launches the HTTP server and, when configured, the sqlite
// sink. Both stop with the context.
func (rt *episodeRuntime) startTelemetry(ctx context.Context) {
	go func() {
		if err := rt.server.Serve(ctx, rt.cfg.Telemetry.Listen); err != nil {
			log.Printf("telemetry server: %v", err)
		}
	}()
	if rt.store != nil {
		go rt.store.RunSink(ctx, rt.hub, rt.episodeID)
	}
}

// finish closes out the persisted episode, if any.
func (rt *episodeRuntime) finish(summary control.Summary) {
	if rt.store == nil {
		return
	}
	if err := rt.store.FinishEpisode(rt.episodeID, time.Now(), summary.Steps, summary.Violations, summary.AbortReason); err != nil {
		log.Printf("finish episode: %v", err)
	}
	if err := rt.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}
