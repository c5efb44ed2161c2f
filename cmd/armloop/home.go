package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/substrate-robotics/armloop/pkg/robot"
)

type HomeCommand struct {
	Config string  `long:"config" short:"c" default:"armloop.json" description:"Path to the configuration file"`
	Speed  float64 `long:"speed" default:"0.5" description:"Joint speed in rad/s"`
}

// Execute drives every joint to the center of its calibrated range.
func (c *HomeCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	link, err := buildLink(cfg.Robot)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := link.Connect(ctx); err != nil {
		return fmt.Errorf("connect arm: %w", err)
	}
	defer link.Disconnect()

	fmt.Printf("Moving to neutral pose at %.2f rad/s...\n", c.Speed)
	neutral := make([]float64, robot.NumJoints)
	if err := link.MoveTo(ctx, neutral, c.Speed); err != nil {
		return fmt.Errorf("move to neutral: %w", err)
	}
	fmt.Println("Done.")
	return nil
}
