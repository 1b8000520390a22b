package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

const (
	openAIDefaultModel   = "gpt-4o-mini"
	openAIEmbeddingModel = "text-embedding-3-small"
)

// openaiBackend adapts the official OpenAI SDK. Embeddings are requested at
// 768 dimensions so all providers share one vector index.
type openaiBackend struct {
	client *openai.Client
	log    *zap.Logger
}

func newOpenAIBackend(apiKey, baseURL string, timeout time.Duration, logger *zap.Logger) *openaiBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &openaiBackend{client: &client, log: logger}
}

func (b *openaiBackend) GenerateText(ctx context.Context, prompt, system, model string) (string, error) {
	if model == "" {
		model = openAIDefaultModel
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	})
	if err != nil {
		return "", wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &BackendError{Provider: ProviderOpenAI, Message: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *openaiBackend) GenerateStructured(ctx context.Context, prompt, system string, schema Schema, model string) (string, error) {
	if model == "" {
		model = openAIDefaultModel
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: map[string]interface{}(schema),
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return "", wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &BackendError{Provider: ProviderOpenAI, Message: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *openaiBackend) GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error) {
	if model == "" {
		model = openAIEmbeddingModel
	}
	resp, err := b.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(model),
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Dimensions: openai.Int(768),
	})
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, &BackendError{Provider: ProviderOpenAI, Message: "no embeddings returned"}
	}
	out := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		out[i] = float32(f)
	}
	return out, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &BackendError{Provider: ProviderOpenAI, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return &BackendError{Provider: ProviderOpenAI, Message: err.Error(), Err: err}
}
