package api

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for configuration validation
var (
	// ErrInvalidTimeout is returned when a timeout value is invalid (negative).
	ErrInvalidTimeout = errors.New("invalid timeout: must be >= 0")
)

// Config holds API-level configuration.
type Config struct {
	// HandlerTimeout is the maximum duration for a request/response handler.
	// It is applied only if the request context has no deadline yet, so
	// middleware can set a shorter one. Event streams are never bounded.
	//
	// Default: 30 seconds
	HandlerTimeout time.Duration

	// StreamWriteTimeout bounds each event write to a client stream. A write
	// that misses it closes the connection. Zero disables the deadline.
	//
	// Default: 10 seconds
	StreamWriteTimeout time.Duration
}

// DefaultConfig returns the default API configuration.
func DefaultConfig() Config {
	return Config{
		HandlerTimeout:     30 * time.Second,
		StreamWriteTimeout: 10 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.HandlerTimeout < 0 || c.StreamWriteTimeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// WithHandlerTimeout bounds ctx by HandlerTimeout unless it already has a
// deadline or the timeout is disabled.
func (c Config) WithHandlerTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline || c.HandlerTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.HandlerTimeout)
}
