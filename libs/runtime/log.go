package runtime

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger writes JSON to stdout with every record tagged by service.
func NewLogger(service, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)})).
		With(slog.String("service", service))
}

// ParseLevel accepts slog level names (and "warning"); anything else is info.
func ParseLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
