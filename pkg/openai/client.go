// Package openai wraps openai-go for OpenAI-compatible chat completion
// endpoints (OpenRouter, Groq, the Gemini compatibility layer).
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rotisserie/eris"
)

// Client defines the chat completion operation used by the extractor.
type Client interface {
	CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a single-turn user request with optional inline images.
type ChatRequest struct {
	Model     string
	Prompt    string
	Images    []Image
	MaxTokens int64
	// ResponseFormat, when set, asks for JSON conforming to a schema.
	ResponseFormat *JSONSchemaFormat
}

// Image is an inline image attachment, sent as a data URL.
type Image struct {
	MediaType string
	Data      []byte
}

// DataURL renders the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MediaType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// JSONSchemaFormat is the json_schema response format directive.
type JSONSchemaFormat struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// ChatResponse is our own response type from CreateChatCompletion.
type ChatResponse struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a client for the endpoint at baseURL. The SDK's built-in
// retries are disabled; a failed call is reported to the caller.
func NewClient(apiKey, baseURL string, timeout time.Duration) Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := c.client.Chat.Completions.New(ctx, toSDKParams(req))
	if err != nil {
		return nil, eris.Wrap(err, "openai: create chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: response has no choices")
	}
	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toSDKParams(req ChatRequest) sdk.ChatCompletionNewParams {
	parts := make([]sdk.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
	parts = append(parts, sdk.TextContentPart(req.Prompt))
	for _, img := range req.Images {
		parts = append(parts, sdk.ImageContentPart(sdk.ChatCompletionContentPartImageImageURLParam{
			URL: img.DataURL(),
		}))
	}

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: []sdk.ChatCompletionMessageParamUnion{sdk.UserMessage(parts)},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(req.MaxTokens)
	}
	if rf := req.ResponseFormat; rf != nil {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   rf.Name,
					Schema: rf.Schema,
					Strict: sdk.Bool(rf.Strict),
				},
			},
		}
	}
	return params
}

// StatusCode returns the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
