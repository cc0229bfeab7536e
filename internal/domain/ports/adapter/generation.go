package adapter

import (
	"context"

	"media-gen-orchestrator/internal/domain/model"
)

// OptionKind tells the registry how to validate an option value.
type OptionKind string

const (
	OptionEnum   OptionKind = "enum"
	OptionInt    OptionKind = "int"
	OptionBool   OptionKind = "bool"
	OptionString OptionKind = "string"
)

// OptionSpec describes one per-model request option.
type OptionSpec struct {
	Name        string     `json:"name"`
	Kind        OptionKind `json:"kind"`
	Allowed     []string   `json:"allowed,omitempty"`
	Min         int        `json:"min,omitempty"`
	Max         int        `json:"max,omitempty"`
	MaxLen      int        `json:"max_len,omitempty"`
	Default     string     `json:"default,omitempty"`
	Required    bool       `json:"required,omitempty"`
	Description string     `json:"description,omitempty"`
}

// ModelSpec is a model an adapter accepts.
type ModelSpec struct {
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	MaxPromptTokens int          `json:"max_prompt_tokens,omitempty"`
	Options         []OptionSpec `json:"options,omitempty"`
}

// ModelDescriptor is a ModelSpec qualified by its provider.
type ModelDescriptor struct {
	Provider model.Provider `json:"provider"`
	ModelSpec
}

// GenerationAdapter hides one provider's wire protocol. Submit returns the
// provider's job id; Poll maps the provider's status onto NormalizedStatus.
//
// Errors from Submit are *domain.SubmissionError and errors from Poll are
// *domain.PollError or *domain.InvalidProviderResponseError. Anything else is
// treated as a retryable transport failure by the scheduler.
type GenerationAdapter interface {
	Provider() model.Provider
	Models() []ModelSpec

	// Submit must be safe to repeat with the same idempotencyKey where the
	// provider supports it.
	Submit(ctx context.Context, req model.GenerationRequest, idempotencyKey string) (string, error)
	Poll(ctx context.Context, externalID string) (model.NormalizedStatus, error)
}

// ProviderRegistry resolves providers and validates requests against their models.
type ProviderRegistry interface {
	// Resolve fails with *domain.UnsupportedModelError when the pair is not
	// registered.
	Resolve(provider model.Provider, modelName string) (GenerationAdapter, error)

	// Validate returns the request with provider name normalized and option
	// defaults applied, or an error wrapping domain.ErrUnsupportedModel,
	// domain.ErrInvalidOption or domain.ErrInvalidArgument.
	Validate(req model.GenerationRequest) (model.GenerationRequest, error)
	Models() []ModelDescriptor
}
