package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var level = new(slog.LevelVar)

// Logger is shared by every component that is not handed its own
var Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
var once sync.Once

// Init sets the package logger level and installs it as the slog default.
// Later calls are ignored; use SetLevel to change the level at runtime.
func Init(name string) {
	once.Do(func() {
		level.Set(ParseLevel(name))
		slog.SetDefault(Logger)
	})
}

// SetLevel changes the level of the package logger
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// New builds a text logger writing to w at the named level
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Or returns l, or the package logger when l is nil
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger
}
