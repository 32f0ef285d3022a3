// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bergwolf/nydus/lib/cas"
	"github.com/bergwolf/nydus/lib/casbadger"
	"github.com/bergwolf/nydus/lib/casdb"
	"github.com/bergwolf/nydus/lib/config"
)

// errCASDisabled is returned by commands that need the index when
// cas.enabled is false.
var errCASDisabled = errors.New("cas is disabled in the configuration (cas.enabled: false)")

// openIndex opens the index engine named by engine at path.
func openIndex(ctx context.Context, engine, path string, logger *slog.Logger) (cas.Index, error) {
	switch engine {
	case config.EngineSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		index, err := casdb.Open(ctx, casdb.Config{Path: path, Logger: logger})
		if err != nil {
			return nil, err
		}
		return index, nil
	case config.EngineBadger:
		index, err := casbadger.Open(casbadger.Config{Dir: path, Logger: logger})
		if err != nil {
			return nil, err
		}
		return index, nil
	default:
		return nil, fmt.Errorf("unknown cas engine %q", engine)
	}
}

// openManager opens the configured index and wraps it in a manager.
// The caller closes the manager, which closes the index.
func openManager(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cas.Manager, error) {
	if !cfg.CAS.Enabled {
		return nil, errCASDisabled
	}
	index, err := openIndex(ctx, cfg.CAS.Engine, cfg.CAS.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s index %s: %w", cfg.CAS.Engine, cfg.CAS.DatabasePath, err)
	}
	manager, err := cas.New(cas.Config{Index: index, Logger: logger})
	if err != nil {
		index.Close()
		return nil, err
	}
	return manager, nil
}

// withManager runs fn with a manager for the configured index and
// closes it afterwards.
func (a *app) withManager(command string, fn func(ctx context.Context, cfg *config.Config, logger *slog.Logger, manager *cas.Manager) error) error {
	cfg, logger, err := a.setup(command)
	if err != nil {
		return err
	}
	ctx, cancel := a.newContext()
	defer cancel()

	manager, err := openManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(ctx, cfg, logger, manager)
	if err := manager.Close(); err != nil {
		logger.Warn("closing cas index", "error", err)
	}
	return runErr
}
