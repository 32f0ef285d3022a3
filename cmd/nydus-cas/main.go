// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// nydus-cas maintains the chunk dedup index of a nydus blob cache and
// fills caches from a blob backend.
package main

import (
	"os"

	"github.com/bergwolf/nydus/cmd/nydus-cas/commands"
	"github.com/bergwolf/nydus/lib/process"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like lookup) return an
		// ExitError with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
