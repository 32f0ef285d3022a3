// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the nydus
// CAS binaries.
//
// Version information is injected at build time via -ldflags, for
// example:
//
//	go build -ldflags "-X github.com/bergwolf/nydus/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
