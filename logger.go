// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip attribute formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. It is read on every log call, so
// SetLogger may be called while managers are running.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for bufmgr. By default nothing is logged.
// Pass nil to restore the silent default.
//
// Log levels used by bufmgr:
//   - [slog.LevelDebug]: cache decisions (hits, retiles, evictions, retirement)
//   - [slog.LevelInfo]: lifecycle (device parameters, derived limits, close)
//   - [slog.LevelWarn]: recoverable failures (purged objects, allocation retries)
//   - [slog.LevelError]: the device hang that wedges the manager
//
// Example:
//
//	bufmgr.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger used by bufmgr.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
