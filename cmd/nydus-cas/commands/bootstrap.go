// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"

	"github.com/bergwolf/nydus/cmd/nydus-cas/cli"
	"github.com/bergwolf/nydus/lib/codec"
	"github.com/bergwolf/nydus/lib/rafs"
)

func (a *app) bootstrapCommand() *cli.Command {
	return &cli.Command{
		Name:    "bootstrap",
		Summary: "Inspect rafs bootstraps",
		Subcommands: []*cli.Command{
			a.bootstrapShowCommand(),
		},
	}
}

func (a *app) bootstrapShowCommand() *cli.Command {
	var diagnostic bool
	return &cli.Command{
		Name:    "show",
		Summary: "Print a bootstrap's header and blob table",
		Usage:   "nydus-cas bootstrap show <path> [--diag] [flags]",
		Flags: a.flags("bootstrap show", func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&diagnostic, "diag", false, "also print the blob table in CBOR diagnostic notation")
		}),
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one bootstrap path, got %d arguments", len(args))
			}
			bootstrap, err := rafs.Open(args[0])
			if err != nil {
				return err
			}
			defer bootstrap.Close()

			meta := bootstrap.Meta()
			table, err := bootstrap.ChunkTable()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "version:      %s\n", meta.Version)
			fmt.Fprintf(a.stdout, "digester:     %s\n", meta.Digester)
			fmt.Fprintf(a.stdout, "compressor:   %s\n", meta.Compressor)
			fmt.Fprintf(a.stdout, "chunk size:   %s\n", units.BytesSize(float64(meta.ChunkSize)))
			fmt.Fprintf(a.stdout, "inline chunk: %t\n", bootstrap.HasInlinedChunkDigest())
			fmt.Fprintf(a.stdout, "chunks:       %d\n", table.Len())
			fmt.Fprintln(a.stdout)

			writer := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "INDEX\tBLOB\tCOMPRESSOR\tCHUNKS\tCOMPRESSED\tUNCOMPRESSED")
			for _, blob := range bootstrap.Blobs() {
				fmt.Fprintf(writer, "%d\t%s\t%s\t%d\t%s\t%s\n", blob.Index, blob.BlobID, blob.Compressor, blob.ChunkCount,
					units.BytesSize(float64(blob.CompressedSize)), units.BytesSize(float64(blob.UncompressedSize)))
			}
			if err := writer.Flush(); err != nil {
				return err
			}

			if diagnostic {
				encoded, err := codec.Marshal(bootstrap.Blobs())
				if err != nil {
					return fmt.Errorf("encoding blob table: %w", err)
				}
				text, err := codec.Diagnose(encoded)
				if err != nil {
					return fmt.Errorf("diagnosing blob table: %w", err)
				}
				fmt.Fprintf(a.stdout, "\n%s\n", text)
			}
			return nil
		},
	}
}
