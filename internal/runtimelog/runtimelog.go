// Package runtimelog is the logging facade shared by every Runtime
// subsystem. It wraps logiface, generic over the logiface-slog event
// type, so every package logs through the same structured, leveled
// interface regardless of which slog.Handler a deployment plugs in
// underneath (text, JSON, or a third-party backend).
package runtimelog

import (
	"io"
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
)

// Logger is the concrete logger type used throughout the Runtime.
type Logger = logiface.Logger[*logifaceslog.Event]

// New builds a Logger backed by the given slog.Handler.
func New(handler slog.Handler) *Logger {
	return logiface.New[*logifaceslog.Event](
		logifaceslog.NewLogger(handler, logifaceslog.WithLevel(logiface.LevelTrace)),
	)
}

// Default returns a Logger writing human-readable text to os.Stderr at
// Info level and above, suitable as the Runtime's zero-value logger.
func Default() *Logger {
	return New(slog.NewTextHandler(os.Stderr, nil))
}

// Nop returns a Logger that discards everything, used where tests or
// embedding applications want the Runtime silent.
func Nop() *Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
