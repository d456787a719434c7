package loreweave

import (
	"log/slog"
	"os"
	"time"

	"github.com/loreweave/loreweave/internal/directory"
)

// Config configures a wiki instance.
type Config struct {
	// DataDir is the badger data directory.
	DataDir string
	// Domain is the public domain this instance is reachable under; it
	// determines the local actor URL.
	Domain string
	// Title is the display name announced to peers.
	Title string
	// MinimumFreeGB is a free-space threshold for on-disk operations.
	MinimumFreeGB int
	// GCInterval is the badger value-log garbage collection interval.
	// Zero disables the background collector.
	GCInterval time.Duration
	// AllowedDomains, when non-empty, restricts federation to the named
	// domains. BlockedDomains always wins over AllowedDomains.
	AllowedDomains []string
	BlockedDomains []string
	// Workers bounds the federation delivery pool. Zero picks a default
	// from the CPU count.
	Workers int
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// Keys generates actor keypairs. If nil, RSA keys are generated per
	// actor; tests inject a cached provider.
	Keys directory.KeyProvider
}

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}
