package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.GenerationAdapter = (*ReplicateAdapter)(nil)

// ReplicateAdapter runs official models through the Replicate predictions API.
// Base URL defaults to https://api.replicate.com.
// Authorization: Bearer <REPLICATE_API_TOKEN>
type ReplicateAdapter struct {
	token  string
	base   string
	client *http.Client
	specs  map[string]adapter.ModelSpec
}

func NewReplicateAdapter(token, base string) (*ReplicateAdapter, error) {
	if token == "" {
		return nil, errors.New("replicate api token empty")
	}
	if base == "" {
		base = "https://api.replicate.com"
	}
	r := &ReplicateAdapter{
		token:  token,
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 60 * time.Second},
		specs:  make(map[string]adapter.ModelSpec),
	}
	for _, m := range r.Models() {
		r.specs[m.Name] = m
	}
	return r, nil
}

func (r *ReplicateAdapter) Provider() model.Provider { return model.ProviderReplicate }

func (r *ReplicateAdapter) Models() []adapter.ModelSpec {
	return []adapter.ModelSpec{
		{
			Name:            "minimax/video-01",
			Description:     "MiniMax Hailuo text-to-video",
			MaxPromptTokens: 2000,
			Options: []adapter.OptionSpec{
				{Name: "prompt_optimizer", Kind: adapter.OptionBool, Default: "true"},
			},
		},
		{
			Name:            "kwaivgi/kling-v2.1",
			Description:     "Kling 2.1",
			MaxPromptTokens: 2000,
			Options: []adapter.OptionSpec{
				{Name: "duration", Kind: adapter.OptionEnum, Allowed: []string{"5", "10"}, Default: "5"},
				{Name: "negative_prompt", Kind: adapter.OptionString, MaxLen: 500},
			},
		},
		{
			Name:            "wan-video/wan-2.2-t2v-fast",
			Description:     "Wan 2.2 text-to-video, fast",
			MaxPromptTokens: 2000,
			Options: []adapter.OptionSpec{
				{Name: "resolution", Kind: adapter.OptionEnum, Allowed: []string{"480p", "720p"}, Default: "720p"},
				{Name: "aspect_ratio", Kind: adapter.OptionEnum, Allowed: []string{"16:9", "9:16"}, Default: "16:9"},
				{Name: "seed", Kind: adapter.OptionInt, Min: 0, Max: 2147483647},
			},
		},
	}
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
	Logs   string          `json:"logs"`
}

// Submit does not forward the idempotency key: the predictions API has no
// such header, so a retried submission may start a second prediction.
func (r *ReplicateAdapter) Submit(ctx context.Context, req model.GenerationRequest, _ string) (string, error) {
	input, err := r.input(req)
	if err != nil {
		return "", &domain.SubmissionError{Message: err.Error(), Err: err}
	}
	b, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return "", &domain.SubmissionError{Message: err.Error(), Err: err}
	}

	var p prediction
	status, detail, err := r.do(ctx, http.MethodPost, r.base+"/v1/models/"+req.Model+"/predictions", b, &p)
	if err != nil {
		var ie *domain.InvalidProviderResponseError
		if errors.As(err, &ie) {
			return "", err
		}
		if status == 0 {
			return "", &domain.SubmissionError{Retryable: true, Message: transportMessage(err), Err: err}
		}
		return "", submitFailure(status, "", detail, err)
	}
	if p.ID == "" {
		return "", &domain.InvalidProviderResponseError{Message: "replicate accepted the prediction without an id"}
	}
	return p.ID, nil
}

func (r *ReplicateAdapter) Poll(ctx context.Context, externalID string) (model.NormalizedStatus, error) {
	var p prediction
	status, detail, err := r.do(ctx, http.MethodGet, r.base+"/v1/predictions/"+externalID, nil, &p)
	if err != nil {
		var ie *domain.InvalidProviderResponseError
		if errors.As(err, &ie) {
			return model.NormalizedStatus{}, err
		}
		if status == 0 {
			return model.NormalizedStatus{}, &domain.PollError{Retryable: true, Message: transportMessage(err), Err: err}
		}
		return model.NormalizedStatus{}, pollFailure(status, "", detail, err)
	}

	switch p.Status {
	case "starting":
		return model.StatusPending(), nil
	case "processing":
		return model.StatusProcessing(logProgress(p.Logs)), nil
	case "succeeded":
		url, err := firstOutput(p.Output)
		if err != nil {
			return model.NormalizedStatus{}, &domain.InvalidProviderResponseError{Message: "unreadable replicate output", Err: err}
		}
		return model.StatusSucceeded(url), nil
	case "failed", "canceled", "aborted":
		msg := rawMessage(p.Error)
		if msg == "" {
			msg = "prediction " + p.Status
		}
		return model.StatusFailed(msg, false), nil
	}
	return model.NormalizedStatus{}, &domain.InvalidProviderResponseError{Message: "unknown replicate status " + p.Status}
}

// input types every option by its declared kind; Replicate rejects strings
// where the model schema expects numbers or booleans. Numeric enum values are
// sent as integers.
func (r *ReplicateAdapter) input(req model.GenerationRequest) (map[string]any, error) {
	spec, ok := r.specs[req.Model]
	if !ok {
		return nil, &domain.UnsupportedModelError{Provider: string(model.ProviderReplicate), Model: req.Model}
	}
	in := map[string]any{"prompt": req.Prompt}
	for _, o := range spec.Options {
		v, set := req.Options[o.Name]
		if !set || v == "" {
			continue
		}
		switch o.Kind {
		case adapter.OptionInt:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", o.Name, err)
			}
			in[o.Name] = n
		case adapter.OptionBool:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", o.Name, err)
			}
			in[o.Name] = b
		case adapter.OptionEnum:
			if n, err := strconv.Atoi(v); err == nil {
				in[o.Name] = n
				continue
			}
			in[o.Name] = v
		default:
			in[o.Name] = v
		}
	}
	return in, nil
}

// do returns the HTTP status (0 when no response arrived) and the API's
// error detail for non-2xx answers.
func (r *ReplicateAdapter) do(ctx context.Context, method, url string, body []byte, out any) (int, string, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Detail string `json:"detail"`
			Title  string `json:"title"`
		}
		_ = json.Unmarshal(raw, &e)
		detail := e.Detail
		if detail == "" {
			detail = e.Title
		}
		return resp.StatusCode, detail, fmt.Errorf("replicate http %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, "", &domain.InvalidProviderResponseError{Message: "malformed replicate payload", Err: err}
	}
	return resp.StatusCode, "", nil
}

func firstOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", nil
	}
	return list[0], nil
}

func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

var percentRe = regexp.MustCompile(`(\d{1,3})%`)

// logProgress picks the last percentage printed by the model's progress bar.
func logProgress(logs string) int {
	m := percentRe.FindAllStringSubmatch(logs, -1)
	if len(m) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(m[len(m)-1][1])
	return n
}
