package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/circuitbreaker"
	"github.com/recallstack/memoryd/internal/tracing"
)

const (
	geminiDefaultBase    = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "gemini-2.0-flash"
	geminiEmbeddingModel = "text-embedding-004"
)

// geminiBackend calls the Generative Language REST API directly. The optional
// base override routes calls through a gateway proxy instead.
type geminiBackend struct {
	base   string
	apiKey string
	httpw  *circuitbreaker.HTTPWrapper
	log    *zap.Logger
}

func newGeminiBackend(apiKey, baseOverride string, timeout time.Duration, logger *zap.Logger) *geminiBackend {
	base := geminiDefaultBase
	if baseOverride != "" {
		base = baseOverride
	}
	httpClient := &http.Client{Timeout: timeout}
	return &geminiBackend{
		base:   base,
		apiKey: apiKey,
		httpw:  circuitbreaker.NewHTTPWrapper(httpClient, "gemini", "ai-gateway", logger),
		log:    logger,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiGenCfg struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
	ResponseSchema   Schema `json:"responseSchema,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type geminiEmbedRequest struct {
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (b *geminiBackend) GenerateText(ctx context.Context, prompt, system, model string) (string, error) {
	return b.generate(ctx, prompt, system, model, nil)
}

func (b *geminiBackend) GenerateStructured(ctx context.Context, prompt, system string, schema Schema, model string) (string, error) {
	cfg := &geminiGenCfg{ResponseMimeType: "application/json", ResponseSchema: schema}
	return b.generate(ctx, prompt, system, model, cfg)
}

func (b *geminiBackend) generate(ctx context.Context, prompt, system, model string, cfg *geminiGenCfg) (string, error) {
	if model == "" {
		model = geminiDefaultModel
	}
	payload := geminiGenerateRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: cfg,
	}
	if system != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	var out geminiGenerateResponse
	if err := b.post(ctx, fmt.Sprintf("%s/models/%s:generateContent", b.base, model), payload, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", &BackendError{Provider: ProviderGemini, StatusCode: out.Error.Code, Message: out.Error.Message}
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", &BackendError{Provider: ProviderGemini, Message: "no candidates returned"}
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func (b *geminiBackend) GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error) {
	if model == "" {
		model = geminiEmbeddingModel
	}
	payload := geminiEmbedRequest{Content: geminiContent{Parts: []geminiPart{{Text: text}}}}

	var out geminiEmbedResponse
	if err := b.post(ctx, fmt.Sprintf("%s/models/%s:embedContent", b.base, model), payload, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding.Values) == 0 {
		return nil, &BackendError{Provider: ProviderGemini, Message: "no embedding returned"}
	}
	return out.Embedding.Values, nil
}

func (b *geminiBackend) post(ctx context.Context, url string, payload, out interface{}) error {
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", b.apiKey)
	tracing.InjectTraceparent(ctx, req)

	resp, err := b.httpw.Do(req)
	if err != nil {
		return &BackendError{Provider: ProviderGemini, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &BackendError{Provider: ProviderGemini, StatusCode: resp.StatusCode, Message: string(msg)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &BackendError{Provider: ProviderGemini, Message: "decode response: " + err.Error(), Err: err}
	}
	return nil
}
