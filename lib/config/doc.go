// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration of the nydus CAS tools.
//
// Configuration comes from a single file named either by the
// NYDUS_CAS_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). When neither is given, [Default] applies;
// there is no search of well-known locations.
//
// The file may carry development and production sections that
// override base values when [Config].Environment matches. Production
// turns on chunk validation unless the production section says
// otherwise.
//
// Path fields are expanded after loading: ${HOME}, ${NYDUS_ROOT}, and
// ${VAR:-default} patterns. Sizes accept human-readable units ("1MiB",
// "512k") through github.com/docker/go-units, and durations use Go
// duration syntax.
//
// Key exports:
//
//   - [Config] -- top-level struct with CAS, Cache, Backend, ChunkDict, Rafs
//   - [Default] -- a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
