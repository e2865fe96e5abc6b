package main

import (
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time via -ldflags.
var Version string

func main() {
	app := cli.NewApp()
	app.Name = "gatewayd"
	app.Version = Version
	app.Usage = "ark relay settlement gateway daemon"
	app.Flags = flags
	app.Action = runDaemon

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
