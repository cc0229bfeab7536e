// File: internal/infra/adapters/media/registry.go
package media

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.ProviderRegistry = (*Registry)(nil)

// TokenCounter measures prompts against a model's token ceiling.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// RuneEstimate approximates tokens as one per four runes.
type RuneEstimate struct{}

func (RuneEstimate) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// NewTokenCounter loads the cl100k_base encoding and falls back to
// RuneEstimate when it cannot be loaded (offline hosts).
func NewTokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return RuneEstimate{}, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

// Registry is the closed set of providers and their models. It is built once
// at startup and only read afterwards.
type Registry struct {
	byProvider map[model.Provider]adapter.GenerationAdapter
	models     map[model.Provider]map[string]adapter.ModelSpec
	tokens     TokenCounter
}

func NewRegistry(tokens TokenCounter, adapters ...adapter.GenerationAdapter) (*Registry, error) {
	if tokens == nil {
		tokens = RuneEstimate{}
	}
	r := &Registry{
		byProvider: make(map[model.Provider]adapter.GenerationAdapter, len(adapters)),
		models:     make(map[model.Provider]map[string]adapter.ModelSpec, len(adapters)),
		tokens:     tokens,
	}
	for _, a := range adapters {
		p := model.ParseProvider(string(a.Provider()))
		if _, dup := r.byProvider[p]; dup {
			return nil, fmt.Errorf("%w: provider %s registered twice", domain.ErrInvalidArgument, p)
		}
		specs := make(map[string]adapter.ModelSpec)
		for _, m := range a.Models() {
			specs[m.Name] = m
		}
		if len(specs) == 0 {
			return nil, fmt.Errorf("%w: provider %s declares no models", domain.ErrInvalidArgument, p)
		}
		r.byProvider[p] = a
		r.models[p] = specs
	}
	return r, nil
}

func (r *Registry) Resolve(provider model.Provider, modelName string) (adapter.GenerationAdapter, error) {
	_, a, err := r.lookup(provider, modelName)
	return a, err
}

func (r *Registry) lookup(provider model.Provider, modelName string) (adapter.ModelSpec, adapter.GenerationAdapter, error) {
	p := model.ParseProvider(string(provider))
	a, ok := r.byProvider[p]
	if !ok {
		return adapter.ModelSpec{}, nil, &domain.UnsupportedModelError{Provider: string(p), Model: modelName}
	}
	spec, ok := r.models[p][strings.TrimSpace(modelName)]
	if !ok {
		return adapter.ModelSpec{}, nil, &domain.UnsupportedModelError{Provider: string(p), Model: modelName}
	}
	return spec, a, nil
}

// Validate returns the normalized request: trimmed prompt, lower-case
// provider and every declared option default filled in.
func (r *Registry) Validate(req model.GenerationRequest) (model.GenerationRequest, error) {
	out := req.Clone()
	out.Prompt = strings.TrimSpace(out.Prompt)
	out.Provider = model.ParseProvider(string(out.Provider))
	out.Model = strings.TrimSpace(out.Model)
	if out.Prompt == "" {
		return model.GenerationRequest{}, fmt.Errorf("%w: prompt is empty", domain.ErrInvalidArgument)
	}

	spec, _, err := r.lookup(out.Provider, out.Model)
	if err != nil {
		return model.GenerationRequest{}, err
	}

	byName := make(map[string]adapter.OptionSpec, len(spec.Options))
	for _, o := range spec.Options {
		byName[o.Name] = o
	}
	opts := make(map[string]string, len(spec.Options))
	for k, v := range out.Options {
		key := strings.ToLower(strings.TrimSpace(k))
		o, ok := byName[key]
		if !ok {
			return model.GenerationRequest{}, fmt.Errorf("%w: %s does not accept option %q", domain.ErrInvalidOption, spec.Name, k)
		}
		norm, err := checkOption(o, strings.TrimSpace(v))
		if err != nil {
			return model.GenerationRequest{}, err
		}
		opts[key] = norm
	}
	for _, o := range spec.Options {
		if _, set := opts[o.Name]; set {
			continue
		}
		if o.Required {
			return model.GenerationRequest{}, fmt.Errorf("%w: option %q is required", domain.ErrInvalidOption, o.Name)
		}
		if o.Default != "" {
			opts[o.Name] = o.Default
		}
	}
	out.Options = nil
	if len(opts) > 0 {
		out.Options = opts
	}

	if spec.MaxPromptTokens > 0 {
		if n := r.tokens.Count(out.Prompt); n > spec.MaxPromptTokens {
			return model.GenerationRequest{}, fmt.Errorf("%w: prompt has %d tokens, %s accepts at most %d",
				domain.ErrInvalidArgument, n, spec.Name, spec.MaxPromptTokens)
		}
	}
	return out, nil
}

func checkOption(o adapter.OptionSpec, v string) (string, error) {
	bad := func(why string) error {
		return fmt.Errorf("%w: %s=%q %s", domain.ErrInvalidOption, o.Name, v, why)
	}
	switch o.Kind {
	case adapter.OptionEnum:
		for _, a := range o.Allowed {
			if strings.EqualFold(a, v) {
				return a, nil
			}
		}
		return "", bad("must be one of " + strings.Join(o.Allowed, ", "))
	case adapter.OptionInt:
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", bad("is not an integer")
		}
		if n < o.Min || (o.Max != 0 && n > o.Max) {
			return "", bad(fmt.Sprintf("must be between %d and %d", o.Min, o.Max))
		}
		return strconv.Itoa(n), nil
	case adapter.OptionBool:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", bad("is not a boolean")
		}
		return strconv.FormatBool(b), nil
	case adapter.OptionString:
		if o.MaxLen > 0 && utf8.RuneCountInString(v) > o.MaxLen {
			return "", bad(fmt.Sprintf("is longer than %d characters", o.MaxLen))
		}
		return v, nil
	}
	return "", bad("has an unknown kind")
}

// Models lists every registered model, sorted by provider then name.
func (r *Registry) Models() []adapter.ModelDescriptor {
	out := make([]adapter.ModelDescriptor, 0, 16)
	for p, specs := range r.models {
		for _, s := range specs {
			out = append(out, adapter.ModelDescriptor{Provider: p, ModelSpec: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Name < out[j].Name
	})
	return out
}
