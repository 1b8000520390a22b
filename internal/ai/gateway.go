package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/recallstack/memoryd/internal/metrics"
)

// Service routes generation and embedding calls to the configured providers,
// applies per-provider rate limits, and caches embeddings locally.
type Service struct {
	cfg      Config
	backends map[Provider]backend
	limiters map[Provider]*rate.Limiter
	models   map[Provider]ModelSet
	cache    *localLRU
	cacheTTL time.Duration
	logger   *zap.Logger
}

var (
	globalService *Service
	globalMu      sync.RWMutex
)

// Initialize creates the global AI gateway. Call once at startup.
func Initialize(cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EdgeBaseURL == "" {
		return nil, fmt.Errorf("edge base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}

	svc := &Service{
		cfg:      cfg,
		backends: make(map[Provider]backend),
		limiters: make(map[Provider]*rate.Limiter),
		cache:    newLocalLRU(cfg.MaxLRU),
		cacheTTL: cfg.CacheTTL,
		logger:   logger,
	}

	if cfg.ModelsPath != "" {
		models, err := loadModelSets(cfg.ModelsPath)
		if err != nil {
			return nil, err
		}
		svc.models = models
	}

	svc.backends[ProviderEdge] = newEdgeBackend(cfg.EdgeBaseURL, cfg.Timeout, logger)
	svc.limiters[ProviderEdge] = rate.NewLimiter(rate.Limit(20), 40)

	if cfg.OpenAIAPIKey != "" {
		svc.backends[ProviderOpenAI] = newOpenAIBackend(cfg.OpenAIAPIKey, cfg.GatewayPrefix, cfg.Timeout, logger)
		svc.limiters[ProviderOpenAI] = rate.NewLimiter(rate.Limit(5), 10)
	}
	if cfg.GeminiAPIKey != "" {
		svc.backends[ProviderGemini] = newGeminiBackend(cfg.GeminiAPIKey, cfg.GatewayPrefix, cfg.Timeout, logger)
		svc.limiters[ProviderGemini] = rate.NewLimiter(rate.Limit(5), 10)
	}

	globalMu.Lock()
	globalService = svc
	globalMu.Unlock()

	logger.Info("AI gateway initialized",
		zap.String("edge_base_url", cfg.EdgeBaseURL),
		zap.Bool("openai_enabled", cfg.OpenAIAPIKey != ""),
		zap.Bool("gemini_enabled", cfg.GeminiAPIKey != ""))
	return svc, nil
}

// Get returns the global gateway, or nil before Initialize.
func Get() *Service {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalService
}

func (s *Service) resolve(opts Options) (Provider, backend, error) {
	p := opts.Provider
	if p == "" {
		p = ProviderEdge
	}
	b, ok := s.backends[p]
	if !ok {
		return p, nil, fmt.Errorf("%w: %s", ErrProviderDisabled, p)
	}
	return p, b, nil
}

func (s *Service) wait(ctx context.Context, p Provider) error {
	lim, ok := s.limiters[p]
	if !ok {
		return nil
	}
	return lim.Wait(ctx)
}

// GenerateText produces free-form text from the selected provider.
func (s *Service) GenerateText(ctx context.Context, prompt, system string, opts Options) (string, error) {
	provider, b, err := s.resolve(opts)
	if err != nil {
		return "", err
	}
	if err := s.wait(ctx, provider); err != nil {
		return "", err
	}

	model := opts.Model
	if model == "" {
		if provider == ProviderEdge && opts.ReasoningEffort == EffortHigh {
			model = s.modelOverride(provider, kindReasoning, edgeReasoningModel)
		} else {
			model = s.modelOverride(provider, kindDefault, "")
		}
	}

	start := time.Now()
	out, err := b.GenerateText(ctx, prompt, system, model)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordAIRequest(string(provider), "generate_text", status, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if opts.Sanitize {
		out = Sanitize(out)
	}
	return out, nil
}

// GenerateStructured produces JSON conforming to the given schema. The edge
// provider uses a two-step reason-then-structure flow; external providers use
// their native schema-constrained modes. Unparseable output goes through one
// sanitize-and-reparse pass before failing.
func (s *Service) GenerateStructured(ctx context.Context, prompt, system string, schema Schema, opts Options) (json.RawMessage, error) {
	provider, b, err := s.resolve(opts)
	if err != nil {
		return nil, err
	}
	if err := s.wait(ctx, provider); err != nil {
		return nil, err
	}

	start := time.Now()
	var raw string
	if provider == ProviderEdge {
		raw, err = s.edgeStructured(ctx, b, prompt, system, schema, opts)
	} else {
		raw, err = b.GenerateStructured(ctx, prompt, system, schema, opts.Model)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordAIRequest(string(provider), "generate_structured", status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	parsed, perr := parseJSON(raw)
	if perr != nil {
		repaired := Sanitize(raw)
		parsed, perr = parseJSON(repaired)
		if perr != nil {
			s.logger.Warn("structured output unparseable after sanitize",
				zap.String("provider", string(provider)),
				zap.Int("raw_len", len(raw)))
			return nil, fmt.Errorf("%w: %v", ErrStructuredGeneration, perr)
		}
	}
	return parsed, nil
}

// edgeStructured runs the two-step flow: a reasoning pass produces an
// analysis, then a structuring pass converts it to schema-shaped JSON.
func (s *Service) edgeStructured(ctx context.Context, b backend, prompt, system string, schema Schema, opts Options) (string, error) {
	reasoningSystem := system
	if reasoningSystem == "" {
		reasoningSystem = "Analyze the request comprehensively. Think through all relevant details before answering."
	}
	analysis, err := b.GenerateText(ctx, prompt, reasoningSystem, s.modelOverride(ProviderEdge, kindReasoning, edgeReasoningModel))
	if err != nil {
		return "", fmt.Errorf("reasoning step: %w", err)
	}

	structPrompt := fmt.Sprintf("Convert the following analysis into the requested JSON structure.\n\nOriginal request:\n%s\n\nAnalysis:\n%s", prompt, analysis)
	model := opts.Model
	if model == "" {
		model = s.modelOverride(ProviderEdge, kindStructured, edgeStructuredModel)
	}
	out, err := b.GenerateStructured(ctx, structPrompt, "Respond with JSON only.", schema, model)
	if err != nil {
		return "", fmt.Errorf("structuring step: %w", err)
	}
	return out, nil
}

func parseJSON(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return json.RawMessage(s), nil
}

// GenerateEmbedding returns the vector for a text, consulting the local LRU
// cache first. All embeddings are 768-dimensional regardless of provider.
func (s *Service) GenerateEmbedding(ctx context.Context, text string, opts Options) ([]float32, error) {
	provider, b, err := s.resolve(opts)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		switch provider {
		case ProviderOpenAI:
			model = s.modelOverride(provider, kindEmbedding, openAIEmbeddingModel)
		case ProviderGemini:
			model = s.modelOverride(provider, kindEmbedding, geminiEmbeddingModel)
		default:
			model = s.modelOverride(provider, kindEmbedding, edgeEmbeddingModel)
		}
	}

	key := cacheKey(string(provider)+"/"+model, text)
	if vec, ok := s.cache.Get(key); ok {
		metrics.RecordEmbedding(model, "cache_hit", 0)
		return vec, nil
	}

	if err := s.wait(ctx, provider); err != nil {
		return nil, err
	}

	start := time.Now()
	vec, err := b.GenerateEmbedding(ctx, text, model)
	if err != nil {
		metrics.RecordEmbedding(model, "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordEmbedding(model, "success", time.Since(start).Seconds())
	s.cache.Set(key, vec, s.cacheTTL)
	return vec, nil
}

var rewriteSchema = Schema{
	"type": "object",
	"properties": map[string]interface{}{
		"rewritten": map[string]interface{}{
			"type":        "string",
			"description": "The question rewritten for semantic retrieval",
		},
	},
	"required": []string{"rewritten"},
}

// RewriteQuestion rewrites a retrieval question into a form that matches how
// stored memories are phrased, folding in any structured context the caller
// supplies.
func (s *Service) RewriteQuestion(ctx context.Context, question string, rctx *RewriteContext, opts Options) (string, error) {
	var sb strings.Builder
	sb.WriteString("Rewrite this question so it matches stored developer memories. Expand abbreviations, resolve references, and keep the intent.\n\nQuestion: ")
	sb.WriteString(question)
	if rctx != nil {
		if len(rctx.Bindings) > 0 {
			sb.WriteString("\n\nKnown bindings:")
			for k, v := range rctx.Bindings {
				sb.WriteString("\n  " + k + " = " + v)
			}
		}
		if len(rctx.Libraries) > 0 {
			sb.WriteString("\n\nLibraries in use: " + strings.Join(rctx.Libraries, ", "))
		}
		if len(rctx.Tags) > 0 {
			sb.WriteString("\nTags: " + strings.Join(rctx.Tags, ", "))
		}
		for _, snip := range rctx.CodeSnippets {
			sb.WriteString("\n\nCode context:\n" + snip)
		}
	}

	raw, err := s.GenerateStructured(ctx, sb.String(), "You rewrite retrieval queries.", rewriteSchema, opts)
	if err != nil {
		return "", err
	}

	var out struct {
		Rewritten string `json:"rewritten"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStructuredGeneration, err)
	}
	if strings.TrimSpace(out.Rewritten) == "" {
		return "", fmt.Errorf("%w: empty rewrite", ErrStructuredGeneration)
	}
	return out.Rewritten, nil
}
