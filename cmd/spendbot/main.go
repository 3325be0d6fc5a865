package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "spendbot:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "spendbot",
		Usage: "Record cash spending from chat commands into Firefly III",
		Description: `spendbot watches Matrix rooms (or an AMQP command queue) for messages like

    $spend 12.50 on coffee. note: with Sam.

and records each one as a withdrawal in Firefly III, reacting with a check
mark or a cross.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			runCommand(),
			parseCommand(),
			historyCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the JSON configuration file",
				EnvVars: []string{"SPENDBOT_CONFIG"},
				Value:   "config.json",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file loaded before configuration",
				Value: ".env",
			},
		},
	}
}
