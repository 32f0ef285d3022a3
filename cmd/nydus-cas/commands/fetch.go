// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"

	"github.com/bergwolf/nydus/cmd/nydus-cas/cli"
	"github.com/bergwolf/nydus/lib/blobcache"
	"github.com/bergwolf/nydus/lib/rafs"
)

func (a *app) fetchCommand() *cli.Command {
	var (
		workDir    string
		backendDir string
		workers    int
		validate   bool
		noDedup    bool
	)
	return &cli.Command{
		Name:    "fetch",
		Summary: "Fill the blob cache for every chunk of a bootstrap",
		Description: `Fill the local blob cache files for every blob a bootstrap references.
Each chunk is first looked up in the CAS index and copied from another
local file when present; otherwise it is read from the backend,
decompressed and written, and its location is recorded for later
images.`,
		Usage: "nydus-cas fetch <bootstrap> [flags]",
		Flags: a.flags("fetch", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&workDir, "work-dir", "", "blob cache directory (overrides cache.work_dir)")
			flagSet.StringVar(&backendDir, "backend", "", "directory of stored blobs (overrides backend.dir)")
			flagSet.IntVar(&workers, "workers", 0, "concurrent chunk fetches (overrides cache.workers)")
			flagSet.BoolVar(&validate, "validate", false, "verify fetched chunks against their digests")
			flagSet.BoolVar(&noDedup, "no-dedup", false, "read every chunk from the backend")
		}),
		Examples: []cli.Example{
			{
				Description: "Fetch an image, reusing chunks already cached for earlier images",
				Command:     "nydus-cas fetch /var/lib/nydus/image.boot --backend /mnt/registry-blobs",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one bootstrap path, got %d arguments", len(args))
			}
			cfg, logger, err := a.setup("fetch")
			if err != nil {
				return err
			}
			if workDir != "" {
				cfg.Cache.WorkDir = workDir
			}
			if backendDir != "" {
				cfg.Backend.Dir = backendDir
			}
			if workers != 0 {
				cfg.Cache.Workers = workers
			}
			if validate {
				cfg.Cache.Validate = true
			}

			ctx, cancel := a.newContext()
			defer cancel()

			bootstrap, err := rafs.Open(args[0])
			if err != nil {
				return err
			}
			defer bootstrap.Close()

			var dedup blobcache.Deduplicator = blobcache.NoDedup{}
			if cfg.CAS.Enabled && !noDedup {
				manager, err := openManager(ctx, cfg, logger)
				if err != nil {
					return err
				}
				defer func() {
					logger.Debug("cas stats", "stats", manager.Stats())
					if err := manager.Close(); err != nil {
						logger.Warn("closing cas index", "error", err)
					}
				}()
				dedup = manager
			}

			cache, err := blobcache.New(blobcache.Config{
				WorkDir:  cfg.Cache.WorkDir,
				Backend:  blobcache.DirBackend{Dir: cfg.Backend.Dir},
				Dedup:    dedup,
				Workers:  cfg.Cache.Workers,
				Validate: cfg.Cache.Validate,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			result, fetchErr := cache.FetchBootstrap(ctx, bootstrap)
			closeErr := cache.Close()
			if err := errors.Join(fetchErr, closeErr); err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "fetched %d chunks (%s), deduplicated %d chunks (%s), %d already cached\n",
				result.Fetched, units.HumanSize(float64(result.FetchedBytes)),
				result.Deduplicated, units.HumanSize(float64(result.DeduplicatedBytes)),
				result.AlreadyReady)
			return nil
		},
	}
}
