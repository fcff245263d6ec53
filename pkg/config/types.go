// pkg/config/types.go
package config

import "time"

// Config is the root configuration structure for resumind.
type Config struct {
	Log      LogConfig      `description:"Logging configuration" koanf:"log"`
	Server   ServerConfig   `description:"Server configuration" koanf:"server"`
	Redis    RedisConfig    `description:"Redis connection" koanf:"redis"`
	Queue    QueueConfig    `description:"Job queue defaults" koanf:"queue"`
	Stream   StreamConfig   `description:"Live event streams" koanf:"stream"`
	Analysis AnalysisConfig `description:"Resume analysis workers" koanf:"analysis"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level  string `description:"Log level: debug | info | warn | error" koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `description:"Log format: json | text" koanf:"format" validate:"oneof=json text"`
	File   string `description:"Log file path" koanf:"file"`
}

// ServerConfig holds configuration for the HTTP server runtime.
// Used by 'resumind server start'.
type ServerConfig struct {
	// Network settings
	Addr string `description:"Server listen address" koanf:"addr"`
	Port int    `description:"Server listen port" koanf:"port" validate:"min=1,max=65535"`

	// Component toggles
	APIEnabled    bool `description:"Enable REST API endpoints" koanf:"api_enabled"`
	StreamEnabled bool `description:"Enable the live event stream" koanf:"stream_enabled"`
	JobsEnabled   bool `description:"Run analysis workers in the server process" koanf:"jobs_enabled"`

	// Performance
	Concurrency int `description:"Number of concurrent analysis workers" koanf:"concurrency" validate:"min=1"`

	// HTTP timeouts. WriteTimeout 0 keeps event streams open.
	ReadTimeout     time.Duration `description:"HTTP read timeout" koanf:"read_timeout"`
	WriteTimeout    time.Duration `description:"HTTP write timeout" koanf:"write_timeout"`
	ShutdownTimeout time.Duration `description:"Graceful shutdown timeout" koanf:"shutdown_timeout"`
	HandlerTimeout  time.Duration `description:"Per-request API handler timeout" koanf:"handler_timeout" validate:"min=0"`

	CORSOrigins []string `description:"Allowed CORS origins" koanf:"cors_origins"`

	// AuthToken, when set, is required as a bearer token on API and stream routes.
	AuthToken string `description:"Bearer token required by the API (empty disables auth)" koanf:"auth_token"`
}

// RedisConfig holds the Redis connection. When disabled the job store and
// channel bus run in process memory.
type RedisConfig struct {
	Enabled  bool   `description:"Use Redis for jobs and events" koanf:"enabled"`
	Addr     string `description:"Redis address" koanf:"addr" validate:"required_if=Enabled true"`
	Password string `description:"Redis password" koanf:"password"`
	DB       int    `description:"Redis database" koanf:"db" validate:"min=0"`
	Prefix   string `description:"Key prefix" koanf:"prefix"`
}

// QueueConfig holds queue defaults and worker timing.
type QueueConfig struct {
	DefaultAttempts    int           `description:"Attempts per job" koanf:"default_attempts" validate:"min=1"`
	BackoffType        string        `description:"Retry backoff: fixed | exponential" koanf:"backoff_type" validate:"oneof=fixed exponential"`
	BackoffDelay       time.Duration `description:"Base retry delay" koanf:"backoff_delay" validate:"min=0"`
	CompletedRetention time.Duration `description:"How long completed jobs are kept" koanf:"completed_retention"`
	FailedRetention    time.Duration `description:"How long failed jobs are kept" koanf:"failed_retention"`
	CompletedKeep      int           `description:"Max completed jobs kept (0 = unlimited)" koanf:"completed_keep" validate:"min=0"`
	FailedKeep         int           `description:"Max failed jobs kept (0 = unlimited)" koanf:"failed_keep" validate:"min=0"`
	SweepInterval      time.Duration `description:"Retention sweep interval" koanf:"sweep_interval"`
	PollInterval       time.Duration `description:"Worker poll interval" koanf:"poll_interval" validate:"min=0"`
	PromoteInterval    time.Duration `description:"Delayed job promotion interval" koanf:"promote_interval" validate:"min=0"`
	JobTimeout         time.Duration `description:"Per-attempt timeout" koanf:"job_timeout" validate:"min=0"`
}

// StreamConfig holds live event stream settings.
type StreamConfig struct {
	HeartbeatInterval time.Duration `description:"Heartbeat interval (0 disables)" koanf:"heartbeat_interval" validate:"min=0"`
	MailboxSize       int           `description:"Per-subscriber event buffer" koanf:"mailbox_size" validate:"min=1"`
	WriteTimeout      time.Duration `description:"Per-event write deadline (0 disables)" koanf:"write_timeout" validate:"min=0"`
}

// AnalysisConfig holds resume analysis settings.
type AnalysisConfig struct {
	DatabaseDSN    string        `description:"Postgres DSN for results (empty keeps them in Redis or memory)" koanf:"database_dsn"`
	FetchTimeout   time.Duration `description:"Resume download timeout" koanf:"fetch_timeout" validate:"min=0"`
	MaxResumeBytes int64         `description:"Maximum resume size" koanf:"max_resume_bytes" validate:"min=1"`
	ResultTTL      time.Duration `description:"Redis result TTL (0 keeps forever)" koanf:"result_ttl" validate:"min=0"`
}
