// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"

	"github.com/bergwolf/nydus/cmd/nydus-cas/cli"
	"github.com/bergwolf/nydus/lib/chunkdict"
	"github.com/bergwolf/nydus/lib/config"
	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/rafs"
)

func (a *app) dictCommand() *cli.Command {
	return &cli.Command{
		Name:    "dict",
		Summary: "Inspect chunk dictionaries and measure their reuse",
		Subcommands: []*cli.Command{
			a.dictInspectCommand(),
			a.dictResolveCommand(),
		},
	}
}

func (a *app) dictInspectCommand() *cli.Command {
	var (
		digester  string
		rafsVer   string
		chunkSize string
		chunks    bool
	)
	return &cli.Command{
		Name:    "inspect",
		Summary: "Load a chunk dictionary and describe it",
		Description: `Load the dictionary named by the argument ("bootstrap=<path>" or a bare
path) against the configured rafs settings, then print its blobs and
chunk count. Without an argument, chunk_dict.source is used.

Loading fails when the dictionary's digester, version, chunk size or
uid/gid mode differ from the target.`,
		Usage: "nydus-cas dict inspect [<source>] [flags]",
		Flags: a.flags("dict inspect", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&digester, "digester", "", "target digester: blake3 or sha256 (overrides rafs.digester)")
			flagSet.StringVar(&rafsVer, "rafs-version", "", "target rafs version: 5 or 6 (overrides rafs.version)")
			flagSet.StringVar(&chunkSize, "chunk-size", "", "target chunk size, e.g. 1MiB (overrides rafs.chunk_size)")
			flagSet.BoolVar(&chunks, "chunks", false, "list every chunk with its reference count")
		}),
		Examples: []cli.Example{
			{Description: "Check that a previous image can serve as a sha256 dictionary", Command: "nydus-cas dict inspect bootstrap=/images/base.boot --digester sha256"},
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one dictionary source, got %d arguments", len(args))
			}
			cfg, _, err := a.setup("dict inspect")
			if err != nil {
				return err
			}
			if err := applyRafsFlags(cfg, digester, rafsVer, chunkSize); err != nil {
				return err
			}
			target, err := cfg.SuperConfig()
			if err != nil {
				return err
			}

			source := cfg.ChunkDict.Source
			if len(args) == 1 {
				source = args[0]
			}
			dict, err := chunkdict.Load(source, target)
			if err != nil {
				return err
			}
			hashDict, ok := dict.(*chunkdict.HashDict)
			if !ok {
				fmt.Fprintln(a.stdout, "chunk dictionary disabled")
				return nil
			}

			fmt.Fprintf(a.stdout, "source:   %s\n", source)
			fmt.Fprintf(a.stdout, "digester: %s\n", hashDict.Digester())
			fmt.Fprintf(a.stdout, "chunks:   %d\n", hashDict.Len())
			fmt.Fprintf(a.stdout, "blobs:    %d\n", len(hashDict.Blobs()))

			writer := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "\nINDEX\tBLOB\tCOMPRESSOR\tCHUNKS\tSIZE")
			for _, blob := range hashDict.Blobs() {
				fmt.Fprintf(writer, "%d\t%s\t%s\t%d\t%s\n", blob.Index, blob.BlobID, blob.Compressor,
					blob.ChunkCount, units.BytesSize(float64(blob.UncompressedSize)))
			}
			if chunks {
				fmt.Fprintln(writer, "\nCHUNK\tBLOB\tOFFSET\tSIZE\tREFS")
				hashDict.Each(func(chunk *rafs.Chunk, refs uint32) bool {
					fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%d\n", chunk.ID, chunk.BlobIndex,
						chunk.UncompressedOffset, chunk.UncompressedSize, refs)
					return true
				})
			}
			return writer.Flush()
		},
	}
}

func (a *app) dictResolveCommand() *cli.Command {
	var (
		source  string
		workers int
	)
	return &cli.Command{
		Name:    "resolve",
		Summary: "Report which chunks of a bootstrap a dictionary could serve",
		Description: `Load the dictionary (--dict, or chunk_dict.source) against the
bootstrap's own rafs settings, then resolve every distinct chunk of the
bootstrap through it as a build would. Dictionary blobs that a reused
chunk references are numbered after the bootstrap's own blobs, in the
order they are first referenced.`,
		Usage: "nydus-cas dict resolve <bootstrap> [--dict <source>] [flags]",
		Flags: a.flags("dict resolve", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&source, "dict", "", "dictionary source (overrides chunk_dict.source)")
			flagSet.IntVar(&workers, "workers", 0, "resolver goroutines (0 uses every CPU)")
		}),
		Examples: []cli.Example{
			{Description: "Measure how much of an image a base image already holds", Command: "nydus-cas dict resolve /images/app.boot --dict bootstrap=/images/base.boot"},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one bootstrap path, got %d arguments", len(args))
			}
			cfg, logger, err := a.setup("dict resolve")
			if err != nil {
				return err
			}
			if source == "" {
				source = cfg.ChunkDict.Source
			}
			if source == "" {
				return errors.New("dict resolve needs a dictionary (set chunk_dict.source or --dict)")
			}

			bootstrap, err := rafs.Open(args[0])
			if err != nil {
				return err
			}
			defer bootstrap.Close()

			dict, err := chunkdict.Load(source, bootstrap.Config())
			if err != nil {
				return err
			}

			var candidates []chunkdict.Candidate
			seen := make(map[digest.Digest]bool)
			err = bootstrap.WalkChunks(func(_ string, chunk *rafs.Chunk) error {
				if !seen[chunk.ID] {
					seen[chunk.ID] = true
					candidates = append(candidates, chunkdict.Candidate{ID: chunk.ID, UncompressedSize: chunk.UncompressedSize})
				}
				return nil
			})
			if err != nil {
				return err
			}

			// The resolver serializes allocation, so the counter needs
			// no lock of its own.
			var referenced []*rafs.BlobInfo
			firstExternal := uint32(len(bootstrap.Blobs()))
			resolver, err := chunkdict.NewResolver(chunkdict.ResolverConfig{
				Dict: dict,
				Allocate: func(blob *rafs.BlobInfo) (uint32, error) {
					referenced = append(referenced, blob)
					return firstExternal + uint32(len(referenced)-1), nil
				},
				Workers: workers,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			ctx, cancel := a.newContext()
			defer cancel()
			result, err := resolver.Resolve(ctx, candidates)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "chunks:  %d\n", len(candidates))
			fmt.Fprintf(a.stdout, "reused:  %d\n", result.Reused)
			fmt.Fprintf(a.stdout, "saved:   %s\n", units.BytesSize(float64(result.BytesSaved)))
			if len(referenced) == 0 {
				return nil
			}
			writer := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "\nINDEX\tBLOB\tDICT INDEX")
			for i, blob := range referenced {
				fmt.Fprintf(writer, "%d\t%s\t%d\n", firstExternal+uint32(i), blob.BlobID, blob.Index)
			}
			return writer.Flush()
		},
	}
}

// applyRafsFlags overrides the rafs section with the non-empty flag
// values.
func applyRafsFlags(cfg *config.Config, digester, rafsVersion, chunkSize string) error {
	var errs []error
	if digester != "" {
		algorithm, err := digest.ParseAlgorithm(digester)
		if err != nil {
			errs = append(errs, fmt.Errorf("--digester: %w", err))
		}
		cfg.Rafs.Digester = algorithm
	}
	if rafsVersion != "" {
		cfg.Rafs.Version = rafsVersion
	}
	if chunkSize != "" {
		size, err := config.ParseByteSize(chunkSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("--chunk-size: %w", err))
		}
		cfg.Rafs.ChunkSize = size
	}
	return errors.Join(errs...)
}
