package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"
	"libdb.so/nightlight"
)

var (
	config  = "nightlight.toml"
	verbose = false
	reset   = false
)

func init() {
	pflag.StringVarP(&config, "config", "c", config, "configuration file")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
	pflag.BoolVar(&reset, "reset", reset, "erase the stored color before starting")
}

func main() {
	pflag.Parse()

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	d, err := nightlight.NewDaemon(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if reset {
		if err := d.Reset(); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}
	}

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon failed: %w", err)
	}

	return nil
}

// readConfig reads the configuration file. A missing file at the default
// path runs the simulated board with the default configuration.
func readConfig() (*nightlight.Config, error) {
	f, err := os.Open(config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !pflag.CommandLine.Changed("config") {
			slog.Info("no configuration file, using defaults", "path", config)
			return nightlight.DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return nightlight.ParseConfig(f)
}
