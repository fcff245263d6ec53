package config

import (
	"time"

	"github.com/spf13/pflag"
)

// DefaultServerConfig returns the default server configuration.
// These are sensible defaults for local development and can be overridden
// via flags, environment variables, or config files.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "127.0.0.1",
		Port:            8080,
		APIEnabled:      true,
		StreamEnabled:   true,
		JobsEnabled:     true,
		Concurrency:     4,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		ShutdownTimeout: 15 * time.Second,
		HandlerTimeout:  30 * time.Second,
		CORSOrigins:     []string{"*"},
	}
}

// BindServerFlags binds server-specific flags to the provided FlagSet.
// These flags will be used by the 'resumind server start' command.
//
// Flags are namespaced under 'server.' to avoid conflicts with global flags.
// Example: --server.addr, --server.port
func BindServerFlags(flags *pflag.FlagSet) {
	defaults := DefaultServerConfig()

	flags.String("server.addr", defaults.Addr, "Server listen address (use 0.0.0.0 for all interfaces)")
	flags.Int("server.port", defaults.Port, "Server listen port")
	flags.Bool("server.api_enabled", defaults.APIEnabled, "Enable REST API endpoints")
	flags.Bool("server.stream_enabled", defaults.StreamEnabled, "Enable the live event stream")
	flags.Bool("server.jobs_enabled", defaults.JobsEnabled, "Run analysis workers in the server process")
	flags.Int("server.concurrency", defaults.Concurrency, "Number of concurrent analysis workers")
	flags.Duration("server.read_timeout", defaults.ReadTimeout, "HTTP read timeout")
	flags.Duration("server.write_timeout", defaults.WriteTimeout, "HTTP write timeout (0 for streaming)")
	flags.Duration("server.shutdown_timeout", defaults.ShutdownTimeout, "Graceful shutdown timeout")
}

// BindRedisFlags binds the Redis connection flags shared by all commands
// that touch the job store.
func BindRedisFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig().Redis

	flags.Bool("redis.enabled", defaults.Enabled, "Use Redis for jobs and events (false runs in memory)")
	flags.String("redis.addr", defaults.Addr, "Redis address")
	flags.Int("redis.db", defaults.DB, "Redis database")
	flags.String("redis.prefix", defaults.Prefix, "Redis key prefix")
}
