// Package logging builds the structured logger shared by the
// federation and API layers.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a colorized slog logger writing to stderr.
func New(level slog.Level) *slog.Logger {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return slog.New(handler)
}
