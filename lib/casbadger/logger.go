// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package casbadger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger"
)

// slogAdapter routes Badger's printf-style logging into slog. Badger
// is chatty at info level during open and compaction, so its info
// messages are demoted to debug.
type slogAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = slogAdapter{}

func (a slogAdapter) log(level slog.Level, format string, args ...any) {
	if !a.logger.Enabled(context.Background(), level) {
		return
	}
	message := strings.TrimSpace(fmt.Sprintf(format, args...))
	a.logger.Log(context.Background(), level, message, "component", "badger")
}

func (a slogAdapter) Errorf(format string, args ...any) { a.log(slog.LevelError, format, args...) }

func (a slogAdapter) Warningf(format string, args ...any) { a.log(slog.LevelWarn, format, args...) }

func (a slogAdapter) Infof(format string, args ...any) { a.log(slog.LevelDebug, format, args...) }

func (a slogAdapter) Debugf(format string, args ...any) { a.log(slog.LevelDebug-4, format, args...) }
