// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import "sync/atomic"

// Stats is a point-in-time snapshot of Manager counters.
type Stats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	CopiedBytes  uint64 `json:"copied_bytes"`
	Records      uint64 `json:"records"`
	StaleDropped uint64 `json:"stale_dropped"`
	GCRemoved    uint64 `json:"gc_removed"`
}

type counters struct {
	hits         atomic.Uint64
	misses       atomic.Uint64
	copiedBytes  atomic.Uint64
	records      atomic.Uint64
	staleDropped atomic.Uint64
	gcRemoved    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		CopiedBytes:  c.copiedBytes.Load(),
		Records:      c.records.Load(),
		StaleDropped: c.staleDropped.Load(),
		GCRemoved:    c.gcRemoved.Load(),
	}
}
