// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds small helpers shared by tests across the
// module.
//
// [RequireReceive], [RequireClosed] and [Eventually] wrap the
// select-with-timeout pattern so tests that wait on background
// goroutines fail with a message instead of hanging. They are the
// only place tests use wall-clock timeouts; everything else drives
// time through a fake clock.
//
// All helpers call t.Fatalf on failure.
//
// This package has no dependencies on other packages in the module.
package testutil
