// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is an injectable time source.
//
// Long-running loops (such as periodic CAS garbage collection) take a
// [Clock] instead of calling the time package directly. Production
// code passes [Real]; tests pass [Fake] and drive time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go manager.RunGC(ctx, c, time.Hour)
//	c.WaitForTimers(1)  // the loop has created its ticker
//	c.Advance(time.Hour) // one GC pass runs
package clock
