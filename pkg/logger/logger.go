// Package logger adapts structured loggers to APIs that want a *log.Logger.
package logger

import (
	"context"
	"log"
	"log/slog"
	"strings"
)

// New returns a *log.Logger whose lines become slog records at level,
// tagged with component. Suitable for http.Server.ErrorLog.
func New(base *slog.Logger, component string, level slog.Level) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	return log.New(writer{logger: base.With("component", component), level: level}, "", 0)
}

type writer struct {
	logger *slog.Logger
	level  slog.Level
}

func (w writer) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	w.logger.Log(context.Background(), w.level, msg)
	return len(p), nil
}
