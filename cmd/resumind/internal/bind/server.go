// Package bind reads command flags into validated option structs.
package bind

import (
	"github.com/spf13/cobra"

	"github.com/resumind/resumind/pkg/config"
	"github.com/resumind/resumind/pkg/server"
)

// ServerOptions holds configuration options for the server start command.
type ServerOptions struct {
	Addr        string
	Port        int
	NoAPI       bool
	NoStream    bool
	NoJobs      bool
	Concurrency int
}

// BindServerOptions extracts and validates server command flags.
//
// Flags read:
//   - --addr: Server listen address (e.g., "127.0.0.1", "0.0.0.0")
//   - --port: Server listen port (1-65535)
//   - --no-api: Disable REST API endpoints
//   - --no-stream: Disable the live event stream
//   - --no-jobs: Do not run analysis workers in this process
//   - --jobs-concurrency: Number of concurrent analysis workers
//
// Flags the user did not set fall back to the loaded configuration.
func BindServerOptions(cmd *cobra.Command, cfg config.ServerConfig) (ServerOptions, error) {
	opts := ServerOptions{
		Addr:        cfg.Addr,
		Port:        cfg.Port,
		NoAPI:       !cfg.APIEnabled,
		NoStream:    !cfg.StreamEnabled,
		NoJobs:      !cfg.JobsEnabled,
		Concurrency: cfg.Concurrency,
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		opts.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("port") {
		opts.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("no-api") {
		opts.NoAPI, _ = flags.GetBool("no-api")
	}
	if flags.Changed("no-stream") {
		opts.NoStream, _ = flags.GetBool("no-stream")
	}
	if flags.Changed("no-jobs") {
		opts.NoJobs, _ = flags.GetBool("no-jobs")
	}
	if flags.Changed("jobs-concurrency") {
		opts.Concurrency, _ = flags.GetInt("jobs-concurrency")
	}

	if opts.Port < 1 || opts.Port > 65535 {
		return ServerOptions{}, server.NewInvalidPortError(opts.Port)
	}
	if !opts.NoJobs && opts.Concurrency < 1 {
		return ServerOptions{}, server.NewInvalidConcurrencyError(opts.Concurrency)
	}
	if opts.NoAPI && opts.NoStream && opts.NoJobs {
		return ServerOptions{}, server.NewFeaturesDisabledError()
	}

	return opts, nil
}

// Apply copies the options onto a server configuration.
func (o ServerOptions) Apply(cfg config.ServerConfig) config.ServerConfig {
	cfg.Addr = o.Addr
	cfg.Port = o.Port
	cfg.APIEnabled = !o.NoAPI
	cfg.StreamEnabled = !o.NoStream
	cfg.JobsEnabled = !o.NoJobs
	cfg.Concurrency = o.Concurrency
	return cfg
}

// BindWorkerConcurrency reads --concurrency for the worker command.
func BindWorkerConcurrency(cmd *cobra.Command, fallback int) (int, error) {
	concurrency := fallback
	if cmd.Flags().Changed("concurrency") {
		concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if concurrency < 1 {
		return 0, server.NewInvalidConcurrencyError(concurrency)
	}
	return concurrency, nil
}
