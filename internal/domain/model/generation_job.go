package model

import (
	"strings"
	"time"

	"media-gen-orchestrator/internal/domain"
)

// Provider names the external generation backend. The set is closed.
type Provider string

const (
	ProviderVeo       Provider = "veo"
	ProviderSora      Provider = "sora"
	ProviderReplicate Provider = "replicate"
	ProviderSimulated Provider = "simulated"
)

// ParseProvider normalizes a provider name; it does not check registration.
func ParseProvider(s string) Provider {
	return Provider(strings.ToLower(strings.TrimSpace(s)))
}

type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateSubmitting JobState = "submitting"
	JobStateProcessing JobState = "processing"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
)

func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateSubmitting, JobStateProcessing, JobStateSucceeded, JobStateFailed:
		return true
	}
	return false
}

// NonTerminalStates is the set the scheduler works on.
var NonTerminalStates = []JobState{JobStateQueued, JobStateSubmitting, JobStateProcessing}

type ErrorKind string

const (
	ErrorKindSubmission              ErrorKind = "submission"
	ErrorKindSubmissionExhausted     ErrorKind = "submission-exhausted"
	ErrorKindPoll                    ErrorKind = "poll"
	ErrorKindProviderFailed          ErrorKind = "provider-failed"
	ErrorKindTimeout                 ErrorKind = "timeout"
	ErrorKindInvalidProviderResponse ErrorKind = "invalid-provider-response"
)

// JobError is the structured failure recorded on a failed job.
type JobError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// GenerationRequest is the caller input. It is immutable once accepted.
type GenerationRequest struct {
	Prompt   string            `json:"prompt"`
	Provider Provider          `json:"provider"`
	Model    string            `json:"model"`
	Options  map[string]string `json:"options,omitempty"`
}

// Clone returns a deep copy.
func (r GenerationRequest) Clone() GenerationRequest {
	out := r
	if r.Options != nil {
		out.Options = make(map[string]string, len(r.Options))
		for k, v := range r.Options {
			out.Options[k] = v
		}
	}
	return out
}

// Option returns the option value or def when unset.
func (r GenerationRequest) Option(key, def string) string {
	if v, ok := r.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// GenerationJob is one accepted request and its lifecycle.
type GenerationJob struct {
	ID             string            `json:"id"`
	ExternalID     string            `json:"external_id,omitempty"`
	State          JobState          `json:"state"`
	Request        GenerationRequest `json:"request"`
	SubmitAttempts int               `json:"submit_attempts"`
	PollAttempts   int               `json:"poll_attempts"`
	NextPollAt     time.Time         `json:"next_poll_at"`
	ArtifactURL    string            `json:"artifact_url,omitempty"`
	Error          *JobError         `json:"error,omitempty"`
	Progress       int               `json:"progress"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewGenerationJob creates a queued job that is due immediately.
func NewGenerationJob(id string, req GenerationRequest, now time.Time) (*GenerationJob, error) {
	if id == "" || strings.TrimSpace(req.Prompt) == "" || req.Provider == "" || req.Model == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &GenerationJob{
		ID:         id,
		State:      JobStateQueued,
		Request:    req.Clone(),
		NextPollAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Request = j.Request.Clone()
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return &out
}

// Deadline is the instant after which the job is failed with a timeout.
func (j *GenerationJob) Deadline(p Policy) time.Time {
	return j.CreatedAt.Add(p.MaxLifetime)
}

// Validate checks the structural invariants of a job record.
func (j *GenerationJob) Validate() error {
	if j.ID == "" || !j.State.Valid() {
		return domain.ErrInvalidArgument
	}
	switch j.State {
	case JobStateSucceeded:
		if j.ArtifactURL == "" || j.Error != nil || j.ExternalID == "" {
			return domain.ErrInvalidArgument
		}
	case JobStateFailed:
		if j.Error == nil || j.ArtifactURL != "" {
			return domain.ErrInvalidArgument
		}
	case JobStateProcessing:
		if j.ExternalID == "" || j.Error != nil || j.ArtifactURL != "" {
			return domain.ErrInvalidArgument
		}
	default:
		if j.ExternalID != "" || j.Error != nil || j.ArtifactURL != "" {
			return domain.ErrInvalidArgument
		}
	}
	return nil
}
