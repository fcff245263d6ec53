// Package appctx carries process-wide values through command contexts.
package appctx

import (
	"context"

	"github.com/resumind/resumind/pkg/config"
)

type key string

const (
	configKey key = "resumind.config.manager"
	outputKey key = "resumind.output"
)

// WithConfig stores the shared config manager on context.
func WithConfig(ctx context.Context, manager *config.Manager) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey, manager)
}

// Config retrieves the shared config manager from context.
func Config(ctx context.Context) (*config.Manager, bool) {
	if ctx == nil {
		return nil, false
	}
	mgr, ok := ctx.Value(configKey).(*config.Manager)
	return mgr, ok && mgr != nil
}

// Output holds the CLI presentation flags.
type Output struct {
	Format  string // table | json
	Quiet   bool
	NoColor bool
}

// WithOutput stores the CLI output settings on context.
func WithOutput(ctx context.Context, out Output) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, outputKey, out)
}

// OutputFrom returns the CLI output settings, defaulting to table output.
func OutputFrom(ctx context.Context) Output {
	if ctx != nil {
		if out, ok := ctx.Value(outputKey).(Output); ok {
			return out
		}
	}
	return Output{Format: "table"}
}
