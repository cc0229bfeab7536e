// File: internal/infra/adapters/media/veo_adapter.go
package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.GenerationAdapter = (*VeoAdapter)(nil)

const (
	veo2     = "veo-2.0-generate-001"
	veo3     = "veo-3.0-generate-001"
	veo3Fast = "veo-3.0-fast-generate-001"
)

// veoClient is the slice of the genai SDK the adapter needs.
type veoClient interface {
	GenerateVideos(ctx context.Context, model, prompt string, cfg *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	GetVideosOperation(ctx context.Context, name string) (*genai.GenerateVideosOperation, error)
}

type genaiVeoClient struct {
	c *genai.Client
}

func (g *genaiVeoClient) GenerateVideos(ctx context.Context, model, prompt string, cfg *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	return g.c.Models.GenerateVideos(ctx, model, prompt, nil, cfg)
}

func (g *genaiVeoClient) GetVideosOperation(ctx context.Context, name string) (*genai.GenerateVideosOperation, error) {
	return g.c.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: name}, nil)
}

// VeoAdapter drives Google Veo long-running operations. The operation name is
// the external id. The Gemini API has no idempotency key, so a repeated
// submission may start a second operation.
type VeoAdapter struct {
	client veoClient
	log    zerolog.Logger
}

func NewVeoAdapter(ctx context.Context, apiKey, baseURL string, log *zerolog.Logger) (*VeoAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("veo: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return newVeoAdapter(&genaiVeoClient{c: c}, log), nil
}

func newVeoAdapter(client veoClient, log *zerolog.Logger) *VeoAdapter {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &VeoAdapter{
		client: client,
		log:    log.With().Str("component", "VeoAdapter").Logger(),
	}
}

func (v *VeoAdapter) Provider() model.Provider { return model.ProviderVeo }

func (v *VeoAdapter) Models() []adapter.ModelSpec {
	common := []adapter.OptionSpec{
		{Name: "aspect_ratio", Kind: adapter.OptionEnum, Allowed: []string{"16:9", "9:16"}, Default: "16:9"},
		{Name: "duration_seconds", Kind: adapter.OptionInt, Min: 4, Max: 8, Default: "8"},
		{Name: "negative_prompt", Kind: adapter.OptionString, MaxLen: 500, Description: "content to steer away from"},
		{Name: "person_generation", Kind: adapter.OptionEnum, Allowed: []string{"dont_allow", "allow_adult"}},
		{Name: "seed", Kind: adapter.OptionInt, Min: 0, Max: 2147483647},
	}
	v3 := append(append([]adapter.OptionSpec(nil), common...),
		adapter.OptionSpec{Name: "resolution", Kind: adapter.OptionEnum, Allowed: []string{"720p", "1080p"}, Default: "720p"},
		adapter.OptionSpec{Name: "generate_audio", Kind: adapter.OptionBool, Default: "true"},
	)
	v3Full := append(append([]adapter.OptionSpec(nil), v3...),
		adapter.OptionSpec{Name: "fast", Kind: adapter.OptionBool, Default: "false", Description: "route to " + veo3Fast},
	)
	return []adapter.ModelSpec{
		{Name: veo2, Description: "Google Veo 2", MaxPromptTokens: 1024, Options: common},
		{Name: veo3, Description: "Google Veo 3 with audio", MaxPromptTokens: 1024, Options: v3Full},
		{Name: veo3Fast, Description: "Google Veo 3 Fast", MaxPromptTokens: 1024, Options: v3},
	}
}

func (v *VeoAdapter) Submit(ctx context.Context, req model.GenerationRequest, _ string) (string, error) {
	name := req.Model
	if name == veo3 && req.Option("fast", "false") == "true" {
		name = veo3Fast
	}
	cfg, err := veoConfig(req)
	if err != nil {
		return "", &domain.SubmissionError{Message: err.Error(), Err: err}
	}

	op, err := v.client.GenerateVideos(ctx, name, req.Prompt, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", submitFailure(apiErr.Code, apiErr.Status, apiErr.Message, err)
		}
		if undecodable(err) {
			return "", &domain.InvalidProviderResponseError{Message: "undecodable veo operation", Err: err}
		}
		return "", &domain.SubmissionError{Retryable: true, Message: transportMessage(err), Err: err}
	}
	if op == nil || op.Name == "" {
		return "", &domain.InvalidProviderResponseError{Message: "veo returned an operation without a name"}
	}
	v.log.Debug().Str("model", name).Str("operation", op.Name).Msg("veo operation started")
	return op.Name, nil
}

func (v *VeoAdapter) Poll(ctx context.Context, externalID string) (model.NormalizedStatus, error) {
	op, err := v.client.GetVideosOperation(ctx, externalID)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return model.NormalizedStatus{}, pollFailure(apiErr.Code, apiErr.Status, apiErr.Message, err)
		}
		if undecodable(err) {
			return model.NormalizedStatus{}, &domain.InvalidProviderResponseError{Message: "undecodable veo operation", Err: err}
		}
		return model.NormalizedStatus{}, &domain.PollError{Retryable: true, Message: transportMessage(err), Err: err}
	}
	if op == nil {
		return model.NormalizedStatus{}, &domain.InvalidProviderResponseError{Message: "empty veo operation"}
	}
	if !op.Done {
		return model.StatusProcessing(metadataProgress(op.Metadata)), nil
	}
	if len(op.Error) > 0 {
		msg, retryable := operationError(op.Error)
		return model.StatusFailed(msg, retryable), nil
	}
	if r := op.Response; r != nil {
		for _, gv := range r.GeneratedVideos {
			if gv != nil && gv.Video != nil && gv.Video.URI != "" {
				return model.StatusSucceeded(gv.Video.URI), nil
			}
		}
		if r.RAIMediaFilteredCount > 0 {
			reason := strings.Join(r.RAIMediaFilteredReasons, "; ")
			if reason == "" {
				reason = fmt.Sprintf("%d video(s) removed by safety filters", r.RAIMediaFilteredCount)
			}
			return model.StatusFailed("filtered: "+reason, false), nil
		}
	}
	return model.NormalizedStatus{}, &domain.InvalidProviderResponseError{Message: "veo operation finished without a video"}
}

func veoConfig(req model.GenerationRequest) (*genai.GenerateVideosConfig, error) {
	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos:   1,
		AspectRatio:      req.Option("aspect_ratio", ""),
		Resolution:       req.Option("resolution", ""),
		NegativePrompt:   req.Option("negative_prompt", ""),
		PersonGeneration: req.Option("person_generation", ""),
	}
	if s := req.Option("duration_seconds", ""); s != "" {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("duration_seconds: %w", err)
		}
		d := int32(n)
		cfg.DurationSeconds = &d
	}
	if s := req.Option("seed", ""); s != "" {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		seed := int32(n)
		cfg.Seed = &seed
	}
	if s := req.Option("generate_audio", ""); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("generate_audio: %w", err)
		}
		cfg.GenerateAudio = &b
	}
	return cfg, nil
}

func metadataProgress(md map[string]any) int {
	switch p := md["progressPercent"].(type) {
	case float64:
		return int(p)
	case int:
		return p
	case int32:
		return int(p)
	case string:
		n, _ := strconv.Atoi(p)
		return n
	}
	return 0
}

// operationError reads a google.rpc.Status map. Transient codes are reported
// as retryable.
func operationError(e map[string]any) (string, bool) {
	msg, _ := e["message"].(string)
	var code int
	switch c := e["code"].(type) {
	case float64:
		code = int(c)
	case int:
		code = c
	}
	if msg == "" {
		msg = fmt.Sprintf("veo operation failed with code %d", code)
	}
	switch code {
	case 4, 8, 13, 14:
		return msg, true
	}
	return msg, false
}
