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

// Edge model defaults. The embedding model defines the vector index
// dimensionality (768) and must not change for the lifetime of an index.
const (
	edgeDefaultModel    = "llama-3.2-3b-instruct"
	edgeReasoningModel  = "deepseek-r1-distill-llama-8b"
	edgeStructuredModel = "llama-3.2-3b-instruct"
	edgeEmbeddingModel  = "bge-base-en-v1.5"
)

// edgeBackend talks to the local edge AI gateway over its OpenAI-compatible
// HTTP surface.
type edgeBackend struct {
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

func newEdgeBackend(baseURL string, timeout time.Duration, logger *zap.Logger) *edgeBackend {
	httpClient := &http.Client{Timeout: timeout}
	return &edgeBackend{
		base:  baseURL,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "edge-ai", "ai-gateway", logger),
		log:   logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

func (b *edgeBackend) GenerateText(ctx context.Context, prompt, system, model string) (string, error) {
	if model == "" {
		model = edgeDefaultModel
	}
	return b.chat(ctx, prompt, system, model, nil)
}

func (b *edgeBackend) GenerateStructured(ctx context.Context, prompt, system string, schema Schema, model string) (string, error) {
	if model == "" {
		model = edgeStructuredModel
	}
	rf, err := json.Marshal(map[string]interface{}{
		"type": "json_schema",
		"json_schema": map[string]interface{}{
			"name":   "response",
			"strict": true,
			"schema": schema,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal response_format: %w", err)
	}
	return b.chat(ctx, prompt, system, model, rf)
}

func (b *edgeBackend) chat(ctx context.Context, prompt, system, model string, responseFormat json.RawMessage) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	url := fmt.Sprintf("%s/v1/chat/completions", b.base)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	body, _ := json.Marshal(chatRequest{Model: model, Messages: msgs, ResponseFormat: responseFormat})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := b.httpw.Do(req)
	if err != nil {
		return "", &BackendError{Provider: ProviderEdge, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &BackendError{Provider: ProviderEdge, StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", &BackendError{Provider: ProviderEdge, Message: "decode response: " + err.Error(), Err: err}
	}
	if len(cr.Choices) == 0 {
		return "", &BackendError{Provider: ProviderEdge, Message: "no choices returned"}
	}
	return cr.Choices[0].Message.Content, nil
}

func (b *edgeBackend) GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error) {
	if model == "" {
		model = edgeEmbeddingModel
	}

	url := fmt.Sprintf("%s/embeddings/", b.base)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	body, _ := json.Marshal(embedRequest{Texts: []string{text}, Model: model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := b.httpw.Do(req)
	if err != nil {
		return nil, &BackendError{Provider: ProviderEdge, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &BackendError{Provider: ProviderEdge, StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, &BackendError{Provider: ProviderEdge, Message: "decode response: " + err.Error(), Err: err}
	}
	if len(er.Embeddings) == 0 {
		return nil, &BackendError{Provider: ProviderEdge, Message: "no embeddings returned"}
	}
	out := make([]float32, len(er.Embeddings[0]))
	for i, f := range er.Embeddings[0] {
		out[i] = float32(f)
	}
	return out, nil
}
