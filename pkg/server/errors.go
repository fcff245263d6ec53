package server

import (
	"errors"
	"fmt"

	"github.com/resumind/resumind/pkg/queue"
)

const (
	errorCodeInvalidPort        = "SERVER_INVALID_PORT"
	errorCodeInvalidConcurrency = "SERVER_INVALID_CONCURRENCY"
	errorCodeFeaturesDisabled   = "SERVER_FEATURES_DISABLED"
	errorCodeConfigUnavailable  = "SERVER_CONFIG_UNAVAILABLE"
	errorCodeInvalidConfig      = "SERVER_INVALID_CONFIG"
	errorCodeBackendInitFailed  = "SERVER_BACKEND_INIT_FAILED"
	errorCodeAppInitFailed      = "SERVER_INIT_FAILED"
	errorCodeRuntimeFailed      = "SERVER_RUNTIME_FAILED"
	errorCodeJobNotFound        = "QUEUE_NOT_FOUND"
	errorCodeNotRetryable       = "QUEUE_NOT_RETRYABLE"
	errorCodeInvalidStatus      = "QUEUE_INVALID_STATUS"
	errorCodeStoreUnavailable   = "QUEUE_STORE_UNAVAILABLE"
)

var (
	// ErrInvalidPort indicates an invalid port flag value.
	ErrInvalidPort = errors.New("invalid port")
	// ErrInvalidConcurrency indicates an invalid worker concurrency value.
	ErrInvalidConcurrency = errors.New("invalid jobs concurrency")
	// ErrFeaturesDisabled indicates API, stream and workers were all disabled.
	ErrFeaturesDisabled = errors.New("api, stream and jobs disabled")
	// ErrConfigUnavailable indicates the CLI context lacked a config manager.
	ErrConfigUnavailable = errors.New("config manager unavailable")
)

type errorCoder interface {
	error
	Code() string
}

type withCodeError struct {
	error
	code string
}

func (e *withCodeError) Code() string {
	return e.code
}

func (e *withCodeError) Unwrap() error {
	return e.error
}

// WithErrorCode annotates err with a server error code.
func WithErrorCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &withCodeError{error: err, code: code}
}

// NewInvalidPortError formats an invalid port error with context.
func NewInvalidPortError(port int) error {
	return WithErrorCode(fmt.Errorf("%w: invalid port %d: must be between 1 and 65535", ErrInvalidPort, port), errorCodeInvalidPort)
}

// NewInvalidConcurrencyError formats an invalid concurrency error.
func NewInvalidConcurrencyError(concurrency int) error {
	return WithErrorCode(fmt.Errorf("%w: invalid concurrency %d: must be at least 1", ErrInvalidConcurrency, concurrency), errorCodeInvalidConcurrency)
}

// NewFeaturesDisabledError reports that nothing would run.
func NewFeaturesDisabledError() error {
	return WithErrorCode(fmt.Errorf("%w: at least one of api, stream or jobs must be enabled", ErrFeaturesDisabled), errorCodeFeaturesDisabled)
}

// WrapInvalidConfig annotates config validation errors.
func WrapInvalidConfig(err error) error {
	if err == nil {
		return nil
	}
	return WithErrorCode(fmt.Errorf("invalid server configuration: %w", err), errorCodeInvalidConfig)
}

// WrapBackendInit annotates Redis or Postgres connection failures.
func WrapBackendInit(err error) error {
	if err == nil {
		return nil
	}
	return WithErrorCode(err, errorCodeBackendInitFailed)
}

// WrapAppInit annotates server app creation failures.
func WrapAppInit(err error) error {
	if err == nil {
		return nil
	}
	return WithErrorCode(err, errorCodeAppInitFailed)
}

// WrapRuntime annotates server runtime failures.
func WrapRuntime(err error) error {
	if err == nil {
		return nil
	}
	return WithErrorCode(err, errorCodeRuntimeFailed)
}

// WrapQueueOp annotates a failed queue administration call with a code
// derived from the queue error kind.
func WrapQueueOp(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrNotFound):
		return WithErrorCode(err, errorCodeJobNotFound)
	case errors.Is(err, queue.ErrNotRetryable):
		return WithErrorCode(err, errorCodeNotRetryable)
	case errors.Is(err, queue.ErrInvalidStatus):
		return WithErrorCode(err, errorCodeInvalidStatus)
	case errors.Is(err, queue.ErrTransientDispatch):
		return WithErrorCode(err, errorCodeStoreUnavailable)
	default:
		return WithErrorCode(err, errorCodeRuntimeFailed)
	}
}

// ErrorCode resolves a server error to its error code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coded errorCoder
	if errors.As(err, &coded) {
		if code := coded.Code(); code != "" {
			return code
		}
	}

	switch {
	case errors.Is(err, ErrInvalidPort):
		return errorCodeInvalidPort
	case errors.Is(err, ErrInvalidConcurrency):
		return errorCodeInvalidConcurrency
	case errors.Is(err, ErrFeaturesDisabled):
		return errorCodeFeaturesDisabled
	case errors.Is(err, ErrConfigUnavailable):
		return errorCodeConfigUnavailable
	default:
		return errorCodeRuntimeFailed
	}
}

// ExitCode maps server errors to CLI exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, ErrInvalidPort),
		errors.Is(err, ErrInvalidConcurrency),
		errors.Is(err, ErrFeaturesDisabled):
		return 2
	case errors.Is(err, ErrConfigUnavailable):
		return 1
	case ErrorCode(err) == errorCodeJobNotFound:
		return 4
	case ErrorCode(err) == errorCodeNotRetryable,
		ErrorCode(err) == errorCodeInvalidStatus:
		return 2
	case ErrorCode(err) == errorCodeBackendInitFailed,
		ErrorCode(err) == errorCodeStoreUnavailable,
		ErrorCode(err) == errorCodeAppInitFailed:
		return 7
	default:
		return 1
	}
}

// Suggestions provides CLI hints for server errors.
func Suggestions(err error) []string {
	if err == nil {
		return nil
	}

	switch ErrorCode(err) {
	case errorCodeInvalidPort:
		return []string{
			"Use a port between 1 and 65535",
			"Example:                 resumind server start --port 8080",
		}
	case errorCodeInvalidConcurrency:
		return []string{
			"Set jobs concurrency to at least 1",
			"Example:                 resumind server start --jobs-concurrency 4",
		}
	case errorCodeFeaturesDisabled:
		return []string{
			"Enable the API, the event stream or the workers",
			"Remove one of --no-api / --no-stream / --no-jobs",
		}
	case errorCodeConfigUnavailable:
		return []string{
			"Run via the resumind CLI so configuration is loaded",
		}
	case errorCodeInvalidConfig:
		return []string{
			"Check configuration values in the config file and RESUMIND_* variables",
			"Retry with --debug for detailed validation errors",
		}
	case errorCodeBackendInitFailed:
		return []string{
			"Verify Redis is reachable:  redis-cli -h <host> ping",
			"Run without Redis:          resumind server start --redis.enabled=false",
			"Check analysis.database_dsn if Postgres results are enabled",
		}
	case errorCodeAppInitFailed:
		return []string{
			"Retry with verbose logging: resumind server start --debug",
			"Review configuration for invalid values",
		}
	case errorCodeJobNotFound:
		return []string{
			"Check the queue name:      resumind queue stats <queue>",
			"Finished jobs are removed after their retention period",
		}
	case errorCodeNotRetryable:
		return []string{
			"Only failed or delayed jobs can be retried",
			"Inspect the job first:     GET /api/v1/queues/<queue>/jobs/<id>",
		}
	case errorCodeInvalidStatus:
		return []string{
			"Use --status completed or --status failed",
		}
	case errorCodeStoreUnavailable:
		return []string{
			"Verify Redis is reachable:  redis-cli -h <host> ping",
			"Retry the command once the job store recovers",
		}
	case errorCodeRuntimeFailed:
		return []string{
			"Check server logs for runtime errors",
			"Ensure no other process is using the selected port",
		}
	default:
		return nil
	}
}
