// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package cas

import "os"

func copyRange(source *os.File, sourceOffset int64, destination *os.File, destinationOffset int64, size int64) error {
	return copyRangeBuffered(source, sourceOffset, destination, destinationOffset, size)
}
