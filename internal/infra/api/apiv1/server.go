package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
	"media-gen-orchestrator/internal/domain/ports/usecase"
	"media-gen-orchestrator/internal/infra/logging"
)

const maxBodyBytes = 1 << 20

// CreateGenerationRequest is the POST /api/v1/generations body. Option values
// may be JSON strings, numbers or booleans.
type CreateGenerationRequest struct {
	Prompt   string         `json:"prompt"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Options  map[string]any `json:"options,omitempty"`
}

type JobError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type Job struct {
	ID             string            `json:"id"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	Options        map[string]string `json:"options,omitempty"`
	State          string            `json:"state"`
	ExternalID     string            `json:"external_id,omitempty"`
	Progress       int               `json:"progress"`
	SubmitAttempts int               `json:"submit_attempts"`
	PollAttempts   int               `json:"poll_attempts"`
	NextPollAt     *time.Time        `json:"next_poll_at,omitempty"`
	ArtifactURL    string            `json:"artifact_url,omitempty"`
	Error          *JobError         `json:"error,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type Model struct {
	Provider        string               `json:"provider"`
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	MaxPromptTokens int                  `json:"max_prompt_tokens,omitempty"`
	Options         []adapter.OptionSpec `json:"options,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Server struct {
	uc  usecase.GenerationUseCase
	log *zerolog.Logger
}

func NewServer(uc usecase.GenerationUseCase, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "APIv1").Logger()
	return &Server{uc: uc, log: &l}
}

// RegisterAPIV1 mounts the v1 routes at their absolute paths.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generations", s.createGeneration)
		r.Get("/generations/{id}", s.getGeneration)
		r.Get("/models", s.listModels)
	})
}

func (s *Server) createGeneration(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil || r.ContentLength == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "request body required")
		return
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var body CreateGenerationRequest
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	opts, err := optionStrings(body.Options)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	job, err := s.uc.SubmitGeneration(r.Context(), model.GenerationRequest{
		Prompt:   body.Prompt,
		Provider: model.ParseProvider(body.Provider),
		Model:    body.Model,
		Options:  opts,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/generations/"+job.ID)
	writeJSON(w, http.StatusAccepted, toJob(job))
}

func (s *Server) getGeneration(w http.ResponseWriter, r *http.Request) {
	job, err := s.uc.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJob(job))
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	descs := s.uc.ListModels(r.Context())
	items := make([]Model, 0, len(descs))
	for _, d := range descs {
		items = append(items, Model{
			Provider:        string(d.Provider),
			Name:            d.Name,
			Description:     d.Description,
			MaxPromptTokens: d.MaxPromptTokens,
			Options:         d.Options,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrUnsupportedModel):
		return http.StatusUnprocessableEntity, "unsupported_model"
	case errors.Is(err, domain.ErrInvalidOption):
		return http.StatusUnprocessableEntity, "invalid_option"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusUnprocessableEntity, "invalid_argument"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func optionStrings(in map[string]any) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			return nil, fmt.Errorf("%w: option %q must be a string, number or boolean", domain.ErrInvalidOption, k)
		}
	}
	return out, nil
}

func toJob(j *model.GenerationJob) Job {
	out := Job{
		ID:             j.ID,
		Provider:       string(j.Request.Provider),
		Model:          j.Request.Model,
		Options:        j.Request.Options,
		State:          string(j.State),
		ExternalID:     j.ExternalID,
		Progress:       j.Progress,
		SubmitAttempts: j.SubmitAttempts,
		PollAttempts:   j.PollAttempts,
		ArtifactURL:    j.ArtifactURL,
		LastError:      j.LastError,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if !j.State.IsTerminal() {
		next := j.NextPollAt
		out.NextPollAt = &next
	}
	if j.Error != nil {
		out.Error = &JobError{Kind: string(j.Error.Kind), Message: j.Error.Message, Retryable: j.Error.Retryable}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]Error{"error": {Code: code, Message: msg}})
}
