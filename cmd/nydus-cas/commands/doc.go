// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the nydus-cas command tree.
//
// Every leaf command accepts the global flags --config, --db, --engine
// and --log-level on top of its own. Configuration is loaded with
// [config.LoadFile] when --config is given and [config.Load]
// otherwise; the global flags then override the loaded values before
// validation.
//
// The index engine named by cas.engine is opened here rather than in
// lib/cas, which keeps the manager free of storage imports.
package commands
