// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for nydus-cas.
//
// The central type is [Command], which represents a named subcommand
// with optional nested [Command.Subcommands], a [pflag.FlagSet]
// factory, and a Run function. Commands are assembled into a tree in
// package commands and dispatched via [Command.Execute], which handles
// flag parsing, subcommand routing, and help output with examples.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match (threshold: distance <= 3).
//
// [NewCommandLogger] builds the slog logger commands use, and
// [ExitError] carries a non-zero exit code for commands that report
// their own outcome.
package cli
