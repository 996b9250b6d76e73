package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "0.3.0"

func main() {
	app := cli.App{
		Name:      "eventmanager",
		HelpName:  "eventmanager",
		Usage:     "file-trigger and cron-trigger automation engine",
		UsageText: "eventmanager <command> [arguments...]",
		Version:   version,
		Commands: []cli.Command{
			startCommand(),
			configCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "eventmanager: %s\n", err)
		os.Exit(1)
	}
}
