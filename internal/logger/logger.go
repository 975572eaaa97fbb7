// Package logger is a thin printf-style facade over log/slog shared by every
// package in the process. Level and output can be swapped at runtime.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"log/slog"
)

var (
	level slog.LevelVar
	log   atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	log.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput redirects all subsequent log lines to w.
func SetOutput(w io.Writer) {
	log.Store(build(w))
}

// SetLevel accepts debug/info/warn/error (case-insensitive); anything else
// falls back to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Debugf(format string, v ...any) { log.Load().Debug(fmt.Sprintf(format, v...)) }

func Infof(format string, v ...any) { log.Load().Info(fmt.Sprintf(format, v...)) }

func Warnf(format string, v ...any) { log.Load().Warn(fmt.Sprintf(format, v...)) }

func Errorf(format string, v ...any) { log.Load().Error(fmt.Sprintf(format, v...)) }
