// Package transport provides WebSocket implementations of domain.Dialer.
package transport

import (
	"fmt"
	"log/slog"
	"time"

	"hakushi/internal/domain"
)

// Driver names accepted by New.
const (
	DriverGorilla = "gorilla"
	DriverGobwas  = "gobwas"
)

// Options configures a dialer.
type Options struct {
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// New returns the dialer for the named driver. An empty driver selects gorilla.
func New(driver string, opts Options) (domain.Dialer, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch driver {
	case "", DriverGorilla:
		return NewGorillaDialer(opts), nil
	case DriverGobwas:
		return NewGobwasDialer(opts), nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", driver)
	}
}
