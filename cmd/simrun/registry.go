package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-sim-runner/core"
	"github.com/Swind/go-sim-runner/sim"
)

func registryCommand() *cli.Command {
	return &cli.Command{
		Name:  "registry",
		Usage: "list the behavior and network keys a setup may use",

		Action: func(c *cli.Context) error {
			w := c.App.Writer
			fmt.Fprintln(w, "behaviors:")
			for _, key := range sim.DefaultBehaviors().Keys() {
				fmt.Fprintf(w, "  %s\n", key)
			}
			fmt.Fprintln(w, "networks:")
			for _, key := range sim.DefaultNetworks().Keys() {
				fmt.Fprintf(w, "  %s\n", key)
			}
			return nil
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "check a setup file against the registries without running it",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "setup",
				Aliases:  []string{"s"},
				Required: true,
				Usage:    "path of the YAML setup file",
			},
		},

		Action: func(c *cli.Context) error {
			setup, err := sim.LoadSetup(c.String("setup"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			s, err := sim.Build(setup, sim.DefaultBehaviors(), sim.DefaultNetworks(), func(o *sim.Options) {
				o.Logger = core.NewNoOpLogger()
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid setup: %v", err), 1)
			}
			agents := len(s.Agents())
			_ = s.Close(time.Second)

			fmt.Fprintf(c.App.Writer, "✓ %s: %d agents, capacity %d\n", c.String("setup"), agents, s.Engine().Capacity())
			return nil
		},
	}
}
