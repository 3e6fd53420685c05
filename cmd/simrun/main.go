// Command simrun runs discrete-event simulations described by YAML setups.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "simrun",
		Usage: "run multi-agent discrete-event simulations",
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
			registryCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
