package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/resumind/resumind/pkg/analysis"
	"github.com/resumind/resumind/pkg/queue"
	"github.com/resumind/resumind/pkg/server/api"
)

var validate = validator.New()

// maxRequestBodySize bounds enqueue request bodies.
const maxRequestBodySize = 1 << 20

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// ValidateName validates a queue name or connection id path segment.
func ValidateName(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &api.ValidationError{Field: field, Reason: "required"}
	}
	if !nameRe.MatchString(v) {
		return &api.ValidationError{Field: field, Reason: "invalid format (alnum, '_', '.', ':' or '-', max 128)"}
	}
	return nil
}

// BackoffRequest is the wire form of queue.Backoff with the delay in milliseconds.
type BackoffRequest struct {
	Type    string `json:"type" validate:"omitempty,oneof=fixed exponential"`
	DelayMs int64  `json:"delay" validate:"min=0"`
}

// EnqueueRequest is the body of POST /api/v1/queues/{queue}/jobs.
type EnqueueRequest struct {
	Name     string          `json:"name" validate:"required,max=128"`
	Data     json.RawMessage `json:"data"`
	JobID    string          `json:"jobId,omitempty" validate:"omitempty,max=256"`
	Priority int             `json:"priority,omitempty" validate:"min=-1000,max=1000"`
	DelayMs  int64           `json:"delay,omitempty" validate:"min=0"`
	Attempts int             `json:"attempts,omitempty" validate:"min=0,max=100"`
	Backoff  *BackoffRequest `json:"backoff,omitempty"`
}

// Options converts the request into queue job options.
func (r EnqueueRequest) Options() queue.JobOptions {
	opts := queue.JobOptions{
		JobID:    r.JobID,
		Priority: r.Priority,
		Delay:    time.Duration(r.DelayMs) * time.Millisecond,
		Attempts: r.Attempts,
	}
	if r.Backoff != nil {
		opts.Backoff = &queue.Backoff{
			Type:  queue.BackoffType(r.Backoff.Type),
			Delay: time.Duration(r.Backoff.DelayMs) * time.Millisecond,
		}
	}
	return opts
}

// ParseEnqueueRequest decodes and validates an enqueue body. Jobs for the
// analysis queue also have their payload checked, so producers learn about
// a bad payload before a worker does.
func ParseEnqueueRequest(w http.ResponseWriter, r *http.Request, queueName string) (*EnqueueRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &api.ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := validate.Struct(req); err != nil {
		return nil, validationFrom(err)
	}
	if len(req.Data) == 0 || string(req.Data) == "null" {
		return nil, &api.ValidationError{Field: "data", Reason: "required"}
	}
	if queueName == analysis.QueueName {
		if _, err := analysis.DecodePayload(req.Data); err != nil {
			return nil, err
		}
	}
	return &req, nil
}

// CleanQuery represents supported query params for POST /api/v1/queues/{queue}/clean
type CleanQuery struct {
	Grace  time.Duration
	Status queue.JobStatus
	Limit  int
}

// ParseCleanQuery parses grace (milliseconds), status and limit. Status
// defaults to completed and limit to 0 (no limit).
func ParseCleanQuery(r *http.Request) (*CleanQuery, error) {
	q := r.URL.Query()
	res := CleanQuery{Status: queue.StatusCompleted}

	if v := strings.TrimSpace(q.Get("grace")); v != "" {
		ms, err := cast.ToInt64E(v)
		if err != nil {
			return nil, &api.ValidationError{Field: "grace", Reason: "must be an integer number of milliseconds"}
		}
		if ms < 0 {
			return nil, &api.ValidationError{Field: "grace", Reason: "must be >= 0"}
		}
		res.Grace = time.Duration(ms) * time.Millisecond
	}

	if v := strings.TrimSpace(q.Get("status")); v != "" {
		if err := validate.Var(v, "oneof=completed failed"); err != nil {
			return nil, &api.ValidationError{Field: "status", Reason: "must be one of: completed,failed"}
		}
		res.Status = queue.JobStatus(v)
	}

	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, &api.ValidationError{Field: "limit", Reason: "must be an integer"}
		}
		if err := validate.Var(n, "min=0,max=10000"); err != nil {
			return nil, &api.ValidationError{Field: "limit", Reason: "must be between 0 and 10000"}
		}
		res.Limit = n
	}

	return &res, nil
}

func validationFrom(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &api.ValidationError{Field: fe.Field(), Reason: "failed on " + fe.Tag()}
	}
	return &api.ValidationError{Reason: err.Error()}
}
