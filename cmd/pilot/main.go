package main

import (
	"context"
	"os"

	"github.com/GriffinCanCode/meeting-pilot/internal/cli"
	"github.com/GriffinCanCode/meeting-pilot/internal/output"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	deps := &cli.Dependencies{Version: version}
	return cli.NewRootCmd(deps).ExecuteContext(context.Background())
}
