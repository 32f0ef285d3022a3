// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package cas

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// copyRange copies size bytes between files with copy_file_range,
// which lets the kernel (or a reflink-capable filesystem) skip the
// round trip through user space. When the kernel refuses the pair of
// files, the copy falls back to positional reads and writes.
//
// Both descriptors are used only inside RawConn.Control, so a
// concurrent Close waits for the syscall instead of freeing a number
// the kernel could hand to an unrelated open. A file closed before the
// copy starts fails with os.ErrClosed.
func copyRange(source *os.File, sourceOffset int64, destination *os.File, destinationOffset int64, size int64) error {
	if size == 0 {
		return nil
	}
	sourceConn, err := source.SyscallConn()
	if err != nil {
		return fmt.Errorf("copy from %s: %w", source.Name(), err)
	}
	destinationConn, err := destination.SyscallConn()
	if err != nil {
		return fmt.Errorf("copy to %s: %w", destination.Name(), err)
	}

	var (
		copyErr  error
		fallback bool
	)
	controlErr := control(sourceConn, func(sourceFD uintptr) {
		err := control(destinationConn, func(destinationFD uintptr) {
			fallback, copyErr = copyFileRange(int(sourceFD), sourceOffset, int(destinationFD), destinationOffset, size)
		})
		if err != nil {
			copyErr = fmt.Errorf("copy to %s: %w", destination.Name(), err)
		}
	})
	if controlErr != nil {
		return fmt.Errorf("copy from %s: %w", source.Name(), controlErr)
	}
	if fallback {
		return copyRangeBuffered(source, sourceOffset, destination, destinationOffset, size)
	}
	if copyErr != nil {
		return fmt.Errorf("copy_file_range %s -> %s: %w", source.Name(), destination.Name(), copyErr)
	}
	return nil
}

// copyFileRange runs the copy_file_range loop on raw descriptors. It
// reports fallback when the kernel refused the first call with an
// errno that positional I/O can work around.
func copyFileRange(sourceFD int, sourceOffset int64, destinationFD int, destinationOffset int64, size int64) (bool, error) {
	copied := int64(0)
	for copied < size {
		sourcePosition := sourceOffset + copied
		destinationPosition := destinationOffset + copied
		n, err := unix.CopyFileRange(sourceFD, &sourcePosition, destinationFD, &destinationPosition, int(size-copied), 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if copied == 0 && fallbackErrno(err) {
				return true, nil
			}
			return false, err
		}
		if n == 0 {
			return false, fmt.Errorf("short copy at %d: got %d of %d bytes", sourceOffset, copied, size)
		}
		copied += int64(n)
	}
	return false, nil
}

// control runs fn with conn's descriptor held open. Control fails only
// when the file is closed, and os leaves that error untranslated, so
// it is reported as os.ErrClosed here.
func control(conn syscall.RawConn, fn func(fd uintptr)) error {
	if err := conn.Control(fn); err != nil {
		return fmt.Errorf("%w: %v", os.ErrClosed, err)
	}
	return nil
}

func fallbackErrno(err error) bool {
	return errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EXDEV) ||
		errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EOPNOTSUPP)
}
