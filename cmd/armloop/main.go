package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/substrate-robotics/armloop/pkg/config"
)

type Options struct {
	Run        RunCommand        `command:"run" description:"Run a policy-driven episode"`
	Home       HomeCommand       `command:"home" description:"Move the arm to its neutral pose"`
	Dashboard  DashboardCommand  `command:"dashboard" alias:"dash" description:"Run an episode with a live terminal dashboard"`
	InitConfig InitConfigCommand `command:"init-config" description:"Write a default configuration file"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "armloop - policy-driven control loop for SO-101 arms"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

type InitConfigCommand struct {
	Config string `long:"config" short:"c" default:"armloop.json" description:"Path to write"`
	Force  bool   `long:"force" description:"Overwrite an existing file"`
}

func (c *InitConfigCommand) Execute(args []string) error {
	if !c.Force {
		if _, err := os.Stat(c.Config); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", c.Config)
		}
	}
	if err := config.Default().Save(c.Config); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", c.Config)
	return nil
}
