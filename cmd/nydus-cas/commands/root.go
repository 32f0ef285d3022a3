// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bergwolf/nydus/cmd/nydus-cas/cli"
	"github.com/bergwolf/nydus/lib/clock"
	"github.com/bergwolf/nydus/lib/config"
	"github.com/bergwolf/nydus/lib/process"
	"github.com/bergwolf/nydus/lib/version"
)

// app carries the process-wide dependencies shared by every command.
// Tests replace the writers, logger factory, clock and context.
type app struct {
	stdout io.Writer
	stderr io.Writer

	newLogger  func(level slog.Level) *slog.Logger
	clock      clock.Clock
	newContext func() (context.Context, context.CancelFunc)

	global globalOptions
}

// globalOptions are the flags every leaf command accepts.
type globalOptions struct {
	configPath string
	database   string
	engine     string
	logLevel   string
}

func (g *globalOptions) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "YAML configuration file (default: $"+config.EnvVar+" or built-in defaults)")
	flagSet.StringVar(&g.database, "db", "", "CAS index location: SQLite file or Badger directory")
	flagSet.StringVar(&g.engine, "engine", "", "CAS index engine: sqlite or badger")
	flagSet.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		stderr:     stderr,
		newLogger:  cli.NewCommandLogger,
		clock:      clock.Real(),
		newContext: signalContext,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return process.SignalContext(context.Background())
}

// Root builds and returns the complete nydus-cas command tree.
func Root() *cli.Command {
	return newApp(os.Stdout, os.Stderr).root()
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name: "nydus-cas",
		Description: `nydus-cas: chunk-level deduplication for nydus blob caches.

Maintain the index of chunk locations in local blob cache files,
fill caches from a backend while copying already present chunks, and
inspect chunk dictionaries and bootstraps.`,
		HelpOutput: a.stderr,
		Subcommands: []*cli.Command{
			a.gcCommand(),
			a.listCommand(),
			a.lookupCommand(),
			a.recordCommand(),
			a.serveCommand(),
			a.fetchCommand(),
			a.dictCommand(),
			a.bootstrapCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(a.stdout, "nydus-cas %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// flags returns a Flags factory holding the global flags plus the
// ones extra adds.
func (a *app) flags(name string, extra func(flagSet *pflag.FlagSet)) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		a.global.register(flagSet)
		if extra != nil {
			extra(flagSet)
		}
		return flagSet
	}
}

// setup loads the configuration, applies the global flags and builds
// the logger for a command.
func (a *app) setup(command string) (*config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	if a.global.configPath != "" {
		cfg, err = config.LoadFile(a.global.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}

	if a.global.database != "" {
		cfg.CAS.DatabasePath = a.global.database
	}
	if a.global.engine != "" {
		cfg.CAS.Engine = a.global.engine
	}
	if a.global.logLevel != "" {
		cfg.LogLevel = a.global.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	return cfg, a.newLogger(level).With("command", command), nil
}
