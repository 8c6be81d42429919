// Command sonorad is the network-transparent audio server: it parses
// flags and environment via pkg/config, wires up pkg/commons' logger,
// and runs internal/daemon.Daemon until a signal or fatal error stops
// it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/rapidaai/sonorad/internal/daemon"
	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sonorad:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("sonorad", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	// pkg/commons' logger reads its level and file from the process
	// environment; export the resolved values so flags and the env file
	// reach it too.
	_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	_ = os.Setenv("LOG_FILE", cfg.LogFile)
	log, err := commons.NewApplicationLogger()
	if err != nil {
		return fmt.Errorf("sonorad: build logger: %w", err)
	}

	ctx := context.Background()
	d, err := daemon.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("sonorad: init daemon: %w", err)
	}
	return d.Run(ctx)
}
