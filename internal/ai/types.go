package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider selects an AI backend.
type Provider string

const (
	ProviderEdge   Provider = "edge"
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// ReasoningEffort hints how much thinking a text generation should spend.
type ReasoningEffort string

const (
	EffortLow    ReasoningEffort = "low"
	EffortMedium ReasoningEffort = "medium"
	EffortHigh   ReasoningEffort = "high"
)

// Options tunes a single gateway call. The zero value selects the edge
// provider with its default model.
type Options struct {
	Provider        Provider
	Model           string
	ReasoningEffort ReasoningEffort
	Sanitize        bool
}

// Schema is a JSON Schema document passed through to the backend.
type Schema map[string]interface{}

// RewriteContext carries optional structured context for question rewriting.
type RewriteContext struct {
	Bindings     map[string]string `json:"bindings,omitempty"`
	Libraries    []string          `json:"libraries,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CodeSnippets []string          `json:"codeSnippets,omitempty"`
}

// ErrStructuredGeneration is returned when structured output did not parse
// even after a sanitize-and-retry pass.
var ErrStructuredGeneration = errors.New("structured generation did not produce parseable JSON")

// ErrProviderDisabled is returned when a provider has no credentials configured.
var ErrProviderDisabled = errors.New("provider is not configured")

// BackendError wraps a provider-level failure with enough information for
// callers to decide on retry.
type BackendError struct {
	Provider   Provider
	StatusCode int
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s backend: %s", e.Provider, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying. Network errors and
// 5xx are transient; 4xx (auth, quota, schema) are permanent.
func (e *BackendError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// IsTransient classifies any error for retry purposes. Unknown errors are
// treated as transient so that retry policies err on the side of retrying.
func IsTransient(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient()
	}
	if errors.Is(err, ErrStructuredGeneration) || errors.Is(err, ErrProviderDisabled) {
		return false
	}
	return true
}

// backend is the narrow surface each provider adapter implements.
type backend interface {
	GenerateText(ctx context.Context, prompt, system, model string) (string, error)
	GenerateStructured(ctx context.Context, prompt, system string, schema Schema, model string) (string, error)
	GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error)
}

// Config controls the gateway.
type Config struct {
	EdgeBaseURL   string
	GatewayPrefix string // optional proxy prefix for external provider calls
	OpenAIAPIKey  string
	GeminiAPIKey  string
	ModelsPath    string // optional YAML file with per-provider model overrides
	Timeout       time.Duration
	MaxLRU        int
	CacheTTL      time.Duration
}
