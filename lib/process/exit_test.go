// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package process

import (
	"bytes"
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/bergwolf/nydus/lib/testutil"
)

func TestWriteFatal(t *testing.T) {
	var out bytes.Buffer
	writeFatal(&out, errors.New("cas index locked"))
	if got, want := out.String(), "error: cas index locked\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestSignalContext(t *testing.T) {
	ctx, stop := SignalContext(context.Background())
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	testutil.RequireClosed(t, ctx.Done(), 5*time.Second, "context after SIGTERM")
}
