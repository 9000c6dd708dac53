// Package logx configures the structured logger shared by every binary and
// package in the fabric: a syslog-leveled logiface.Logger backed by
// stumpy's JSON writer, matching the taxonomy in the error-handling design
// (Emerg/Crit for fatal conditions, Notice for per-request anomalies,
// Debug for rate-limited benign-disconnect noise).
package logx

import (
	"fmt"
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type threaded through every component.
type Logger = logiface.Logger[*stumpy.Event]

// Level is the logger's severity type, re-exported so callers configuring
// verbosity via flags don't need to import logiface directly.
type Level = logiface.Level

// New builds a Logger writing newline-delimited JSON to w (os.Stderr if
// nil) at the given minimum level.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}

// Levels re-exported for callers configuring verbosity via flags.
const (
	LevelEmergency      = logiface.LevelEmergency
	LevelAlert          = logiface.LevelAlert
	LevelCritical       = logiface.LevelCritical
	LevelError          = logiface.LevelError
	LevelWarning        = logiface.LevelWarning
	LevelNotice         = logiface.LevelNotice
	LevelInformational  = logiface.LevelInformational
	LevelDebug          = logiface.LevelDebug
	LevelTrace          = logiface.LevelTrace
)

// ParseLevel maps a syslog keyword (as accepted by a -log-level flag) to a
// Level. It accepts the same short keywords Level.String returns.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "emerg":
		return LevelEmergency, nil
	case "alert":
		return LevelAlert, nil
	case "crit":
		return LevelCritical, nil
	case "err":
		return LevelError, nil
	case "warning":
		return LevelWarning, nil
	case "notice":
		return LevelNotice, nil
	case "info":
		return LevelInformational, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("logx: unknown log level %q", s)
	}
}
