// Package analysis is the resume-analysis job: its typed payload, the five
// pipeline stages and the stores that keep finished results.
package analysis

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/resumind/resumind/pkg/queue"
)

const (
	// QueueName is the queue resume analyses run on.
	QueueName = "resume-analysis"
	// JobName is the job name used when enqueueing an analysis.
	JobName = "analyze-resume"
)

// ResumeAnalysisPayload is the payload of an analysis job.
type ResumeAnalysisPayload struct {
	ResumeID       string `json:"resumeId" validate:"required"`
	CandidateID    string `json:"candidateId" validate:"required"`
	OrganizationID string `json:"organizationId" validate:"required"`
	FileURL        string `json:"fileUrl" validate:"required,url"`
	FileName       string `json:"fileName,omitempty" validate:"omitempty,max=255"`
	JobDescription string `json:"jobDescription,omitempty" validate:"omitempty,max=20000"`
}

var validate = validator.New()

// Validate checks the payload fields.
func (p ResumeAnalysisPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return queue.NewInvalidPayloadError(fe.Field(), fmt.Sprintf("failed on %q", fe.Tag()))
		}
		return queue.NewInvalidPayloadError("", err.Error())
	}
	return nil
}

// DecodePayload parses and validates raw job data. Failures are
// InvalidPayload errors, which are never retried.
func DecodePayload(data []byte) (ResumeAnalysisPayload, error) {
	var p ResumeAnalysisPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, queue.NewInvalidPayloadError("", err.Error())
	}
	return p, p.Validate()
}

// DecodeState builds the pipeline state of a queued analysis job.
func DecodeState(job *queue.Job) (*State, error) {
	p, err := DecodePayload(job.Data)
	if err != nil {
		return nil, err
	}
	return &State{JobID: job.ID, Payload: p}, nil
}
