// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bergwolf/nydus/cmd/nydus-cas/cli"
	"github.com/bergwolf/nydus/lib/cas"
	"github.com/bergwolf/nydus/lib/config"
	"github.com/bergwolf/nydus/lib/digest"
)

func (a *app) gcCommand() *cli.Command {
	return &cli.Command{
		Name:    "gc",
		Summary: "Remove index entries for blob files that no longer exist",
		Description: `Scan every blob registered in the CAS index and delete the ones whose
file is gone, together with all of their chunk rows.

Files that exist but cannot be inspected (for example, permission
errors) are kept and reported in the log.`,
		Usage: "nydus-cas gc [flags]",
		Flags: a.flags("gc", nil),
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return a.withManager("gc", func(ctx context.Context, _ *config.Config, _ *slog.Logger, manager *cas.Manager) error {
				result, err := manager.GC(ctx)
				if err != nil {
					return err
				}
				for _, path := range result.Removed {
					fmt.Fprintf(a.stdout, "removed %s\n", path)
				}
				fmt.Fprintf(a.stdout, "scanned %d blobs, removed %d\n", result.Scanned, len(result.Removed))
				return nil
			})
		},
	}
}

func (a *app) listCommand() *cli.Command {
	var chunks bool
	return &cli.Command{
		Name:    "list",
		Summary: "List indexed blobs or chunks",
		Usage:   "nydus-cas list [--chunks] [flags]",
		Flags: a.flags("list", func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&chunks, "chunks", false, "list chunk rows instead of blobs")
		}),
		Examples: []cli.Example{
			{Description: "Show every blob file in the index", Command: "nydus-cas list"},
			{Description: "Show chunk locations from a Badger index", Command: "nydus-cas list --chunks --engine badger --db /var/lib/nydus/cas"},
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return a.withManager("list", func(ctx context.Context, _ *config.Config, _ *slog.Logger, manager *cas.Manager) error {
				writer := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
				if chunks {
					records, err := manager.Chunks(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(writer, "KEY\tPATH\tOFFSET")
					for _, record := range records {
						fmt.Fprintf(writer, "%s\t%s\t%d\n", record.Key, record.Path, record.Offset)
					}
				} else {
					blobs, err := manager.Blobs(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(writer, "ID\tPATH")
					for _, blob := range blobs {
						fmt.Fprintf(writer, "%d\t%s\n", blob.ID, blob.Path)
					}
				}
				return writer.Flush()
			})
		},
	}
}

func (a *app) lookupCommand() *cli.Command {
	return &cli.Command{
		Name:    "lookup",
		Summary: "Print where a chunk key is stored",
		Description: `Print the path and offset of the earliest registered blob holding the
chunk key, separated by a tab. Exits 1 without output when the key is
not indexed.`,
		Usage: "nydus-cas lookup <algorithm:hex> [flags]",
		Flags: a.flags("lookup", nil),
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one chunk key, got %d arguments", len(args))
			}
			key := args[0]
			if _, err := digest.Parse(key); err != nil {
				return fmt.Errorf("invalid chunk key: %w", err)
			}
			return a.withManager("lookup", func(ctx context.Context, _ *config.Config, _ *slog.Logger, manager *cas.Manager) error {
				location, found, err := manager.Lookup(ctx, key)
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintf(a.stderr, "%s: not found\n", key)
					return &cli.ExitError{Code: 1}
				}
				fmt.Fprintf(a.stdout, "%s\t%d\n", location.Path, location.Offset)
				return nil
			})
		},
	}
}

func (a *app) recordCommand() *cli.Command {
	var (
		key    string
		path   string
		offset uint64
	)
	return &cli.Command{
		Name:    "record",
		Summary: "Record a chunk location in the index",
		Description: `Register path as a blob file and record that the chunk key's
uncompressed bytes are at offset in it. A relative path is made
absolute. Recording the same key and path again replaces the offset.`,
		Usage: "nydus-cas record --key <algorithm:hex> --path <file> --offset <n> [flags]",
		Flags: a.flags("record", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&key, "key", "", "chunk key as algorithm:hex (required)")
			flagSet.StringVar(&path, "path", "", "blob cache file holding the chunk (required)")
			flagSet.Uint64Var(&offset, "offset", 0, "uncompressed offset of the chunk in the file")
		}),
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if key == "" || path == "" {
				return errors.New("--key and --path are required")
			}
			if _, err := digest.Parse(key); err != nil {
				return fmt.Errorf("invalid --key: %w", err)
			}
			absolute, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", path, err)
			}
			return a.withManager("record", func(ctx context.Context, _ *config.Config, logger *slog.Logger, manager *cas.Manager) error {
				if err := manager.RecordChunkRaw(ctx, key, absolute, offset); err != nil {
					return err
				}
				logger.Debug("recorded chunk", "key", key, "path", absolute, "offset", offset)
				return nil
			})
		},
	}
}

func (a *app) serveCommand() *cli.Command {
	var interval time.Duration
	return &cli.Command{
		Name:    "serve",
		Summary: "Run periodic index GC until interrupted",
		Description: `Run one GC pass immediately, then one every interval until SIGINT or
SIGTERM. The interval comes from cas.gc_interval unless --interval
is given.`,
		Usage: "nydus-cas serve [--interval <duration>] [flags]",
		Flags: a.flags("serve", func(flagSet *pflag.FlagSet) {
			flagSet.DurationVar(&interval, "interval", 0, "GC period (overrides cas.gc_interval)")
		}),
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return a.withManager("serve", func(ctx context.Context, cfg *config.Config, logger *slog.Logger, manager *cas.Manager) error {
				period := cfg.CAS.GCInterval.Std()
				if interval != 0 {
					period = interval
				}
				if period <= 0 {
					return errors.New("serve needs a positive GC interval (set cas.gc_interval or --interval)")
				}

				logger.Info("cas gc loop starting", "engine", cfg.CAS.Engine, "index", cfg.CAS.DatabasePath, "interval", period)
				if _, err := manager.GC(ctx); err != nil && ctx.Err() == nil {
					logger.Error("cas gc failed", "error", err)
				}
				manager.RunGC(ctx, a.clock, period)

				stats := manager.Stats()
				logger.Info("cas gc loop stopped", "gc_removed", stats.GCRemoved, "stale_dropped", stats.StaleDropped)
				return nil
			})
		},
	}
}
