// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. It holds the raw
// I/O that happens before the structured logger exists: reporting a
// fatal startup error to stderr and exiting. It also turns termination
// signals into context cancellation for long-running commands.
package process
