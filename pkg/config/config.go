// pkg/config/config.go
package config

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Global Koanf instance, initialized once at startup.
var (
	k    *koanf.Koanf
	once sync.Once
)

// InitGlobalConfig initializes the global Koanf instance.
// This should be called early in the application lifecycle, before Load.
func InitGlobalConfig() {
	once.Do(func() {
		k = koanf.New(".")
	})
}

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
}

// NewManager creates a new Manager.
// It initializes the global Koanf instance if not already done.
func NewManager() *Manager {
	InitGlobalConfig()
	return &Manager{koanfInstance: k}
}

// DefaultConfig returns a new Config struct populated with hardcoded default values.
// These serve as the baseline configuration if no other sources override them.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: DefaultServerConfig(),
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
			Prefix:  "resumind",
		},
		Queue: QueueConfig{
			DefaultAttempts:    3,
			BackoffType:        "exponential",
			BackoffDelay:       2 * time.Second,
			CompletedRetention: 24 * time.Hour,
			FailedRetention:    7 * 24 * time.Hour,
			SweepInterval:      time.Hour,
			PollInterval:       250 * time.Millisecond,
			PromoteInterval:    time.Second,
			JobTimeout:         10 * time.Minute,
		},
		Stream: StreamConfig{
			HeartbeatInterval: 30 * time.Second,
			MailboxSize:       64,
			WriteTimeout:      10 * time.Second,
		},
		Analysis: AnalysisConfig{
			FetchTimeout:   30 * time.Second,
			MaxResumeBytes: 10 << 20,
		},
	}
}

// Load loads configuration from the default sources: defaults, the YAML file
// at configPath, RESUMIND_* environment variables and flags.
func (m *Manager) Load(flags *pflag.FlagSet, configPath string) error {
	debug := false
	if flags != nil {
		if f := flags.Lookup("debug"); f != nil && f.Value.String() == "true" {
			debug = true
		}
	}
	return m.LoadWithSources(DefaultSources(configPath, flags, debug))
}

// LoadWithSources loads the given sources in priority order, unmarshals the
// merged result and validates it.
func (m *Manager) LoadWithSources(sources []ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := append([]ConfigSource(nil), sources...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority() < ordered[j].Priority() })

	for _, src := range ordered {
		if err := src.Load(m.koanfInstance); err != nil {
			return fmt.Errorf("config source %s: %w", src.Name(), err)
		}
	}

	var newCfg Config
	if err := m.koanfInstance.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	if err := newCfg.Validate(); err != nil {
		return err
	}
	m.currentConfig = newCfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentConfig
}

var validate = validator.New()

// Validate checks field constraints of the merged configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DefaultConfigAsMap converts the DefaultConfig struct to a map for Koanf's
// confmap.Provider so Koanf knows every key.
func DefaultConfigAsMap() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		// Log configuration
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
		"log.file":   def.Log.File,

		// Server configuration
		"server.addr":             def.Server.Addr,
		"server.port":             def.Server.Port,
		"server.api_enabled":      def.Server.APIEnabled,
		"server.stream_enabled":   def.Server.StreamEnabled,
		"server.jobs_enabled":     def.Server.JobsEnabled,
		"server.concurrency":      def.Server.Concurrency,
		"server.read_timeout":     def.Server.ReadTimeout,
		"server.write_timeout":    def.Server.WriteTimeout,
		"server.shutdown_timeout": def.Server.ShutdownTimeout,
		"server.handler_timeout":  def.Server.HandlerTimeout,
		"server.cors_origins":     def.Server.CORSOrigins,
		"server.auth_token":       def.Server.AuthToken,

		// Redis
		"redis.enabled":  def.Redis.Enabled,
		"redis.addr":     def.Redis.Addr,
		"redis.password": def.Redis.Password,
		"redis.db":       def.Redis.DB,
		"redis.prefix":   def.Redis.Prefix,

		// Queue
		"queue.default_attempts":    def.Queue.DefaultAttempts,
		"queue.backoff_type":        def.Queue.BackoffType,
		"queue.backoff_delay":       def.Queue.BackoffDelay,
		"queue.completed_retention": def.Queue.CompletedRetention,
		"queue.failed_retention":    def.Queue.FailedRetention,
		"queue.completed_keep":      def.Queue.CompletedKeep,
		"queue.failed_keep":         def.Queue.FailedKeep,
		"queue.sweep_interval":      def.Queue.SweepInterval,
		"queue.poll_interval":       def.Queue.PollInterval,
		"queue.promote_interval":    def.Queue.PromoteInterval,
		"queue.job_timeout":         def.Queue.JobTimeout,

		// Stream
		"stream.heartbeat_interval": def.Stream.HeartbeatInterval,
		"stream.mailbox_size":       def.Stream.MailboxSize,
		"stream.write_timeout":      def.Stream.WriteTimeout,

		// Analysis
		"analysis.database_dsn":     def.Analysis.DatabaseDSN,
		"analysis.fetch_timeout":    def.Analysis.FetchTimeout,
		"analysis.max_resume_bytes": def.Analysis.MaxResumeBytes,
		"analysis.result_ttl":       def.Analysis.ResultTTL,
	}
}

// BindFlags defines the global flags shared by every command.
// The --config flag itself is defined on the root command.
func BindFlags(flags *pflag.FlagSet) {
	var flagvar bool
	flags.BoolVar(&flagvar, "debug", false, "Enable debug logging")
}
