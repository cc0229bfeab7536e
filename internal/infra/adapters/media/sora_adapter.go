// File: internal/infra/adapters/media/sora_adapter.go
package media

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.GenerationAdapter = (*SoraAdapter)(nil)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// SoraAdapter drives OpenAI video jobs. The videos API returns no public link
// for a finished clip, so the recorded artifact URL is the authenticated
// content endpoint (<base>/videos/{id}/content). Fetching it needs the same
// API key as the submission; clients without the key must go through a proxy.
type SoraAdapter struct {
	videos  *openai.VideoService
	baseURL string
}

// NewSoraAdapter creates a Sora adapter using the official SDK. SDK retries are
// disabled; the scheduler owns backoff.
func NewSoraAdapter(apiKey, baseURL string, opts ...option.RequestOption) (*SoraAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("sora: empty api key")
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL + "/"),
		option.WithMaxRetries(0),
	}, opts...)
	client := openai.NewClient(all...)
	return &SoraAdapter{videos: &client.Videos, baseURL: baseURL}, nil
}

func (s *SoraAdapter) Provider() model.Provider { return model.ProviderSora }

func (s *SoraAdapter) Models() []adapter.ModelSpec {
	seconds := adapter.OptionSpec{Name: "seconds", Kind: adapter.OptionEnum, Allowed: []string{"4", "8", "12"}, Default: "4", Description: "clip duration"}
	return []adapter.ModelSpec{
		{
			Name:            "sora-2",
			Description:     "OpenAI Sora 2",
			MaxPromptTokens: 1000,
			Options: []adapter.OptionSpec{
				seconds,
				{Name: "size", Kind: adapter.OptionEnum, Allowed: []string{"720x1280", "1280x720"}, Default: "720x1280"},
			},
		},
		{
			Name:            "sora-2-pro",
			Description:     "OpenAI Sora 2 Pro",
			MaxPromptTokens: 1000,
			Options: []adapter.OptionSpec{
				seconds,
				{Name: "size", Kind: adapter.OptionEnum, Allowed: []string{"720x1280", "1280x720", "1024x1792", "1792x1024"}, Default: "720x1280"},
			},
		},
	}
}

func (s *SoraAdapter) Submit(ctx context.Context, req model.GenerationRequest, idempotencyKey string) (string, error) {
	params := openai.VideoNewParams{
		Prompt: req.Prompt,
		Model:  openai.VideoModel(req.Model),
	}
	if v := req.Option("seconds", ""); v != "" {
		params.Seconds = openai.VideoSeconds(v)
	}
	if v := req.Option("size", ""); v != "" {
		params.Size = openai.VideoSize(v)
	}
	var opts []option.RequestOption
	if idempotencyKey != "" {
		opts = append(opts, option.WithHeader("Idempotency-Key", idempotencyKey))
	}

	v, err := s.videos.New(ctx, params, opts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", submitFailure(apiErr.StatusCode, apiErr.Code, soraMessage(apiErr), err)
		}
		if undecodable(err) {
			return "", &domain.InvalidProviderResponseError{Message: "undecodable sora video", Err: err}
		}
		return "", &domain.SubmissionError{Retryable: true, Message: transportMessage(err), Err: err}
	}
	if v == nil || v.ID == "" {
		return "", &domain.InvalidProviderResponseError{Message: "sora accepted the video without an id"}
	}
	return v.ID, nil
}

func (s *SoraAdapter) Poll(ctx context.Context, externalID string) (model.NormalizedStatus, error) {
	v, err := s.videos.Get(ctx, externalID)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return model.NormalizedStatus{}, pollFailure(apiErr.StatusCode, apiErr.Code, soraMessage(apiErr), err)
		}
		if undecodable(err) {
			return model.NormalizedStatus{}, &domain.InvalidProviderResponseError{Message: "undecodable sora video", Err: err}
		}
		return model.NormalizedStatus{}, &domain.PollError{Retryable: true, Message: transportMessage(err), Err: err}
	}
	if v == nil {
		return model.NormalizedStatus{}, &domain.InvalidProviderResponseError{Message: "empty sora video"}
	}

	switch v.Status {
	case openai.VideoStatusQueued:
		return model.StatusPending(), nil
	case openai.VideoStatusInProgress:
		return model.StatusProcessing(int(v.Progress)), nil
	case openai.VideoStatusCompleted:
		// authenticated download endpoint, see SoraAdapter
		return model.StatusSucceeded(s.baseURL + "/videos/" + v.ID + "/content"), nil
	case openai.VideoStatusFailed:
		msg := v.Error.Message
		if msg == "" {
			msg = v.Error.Code
		}
		return model.StatusFailed(msg, false), nil
	}
	return model.NormalizedStatus{}, &domain.InvalidProviderResponseError{Message: "unknown sora status " + string(v.Status)}
}

// soraMessage prefers the parsed error message; the raw body is used when the
// API answered with something the SDK could not parse.
func soraMessage(e *openai.Error) string {
	if e.Message != "" {
		return e.Message
	}
	if raw := e.RawJSON(); raw != "" {
		return raw
	}
	return ""
}
