package gateway

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/menu-extractor/pkg/anthropic"
	"github.com/sells-group/menu-extractor/pkg/openai"
)

const pngMediaType = "image/png"

// chatBackend calls an OpenAI-compatible chat completion endpoint with a
// json_schema response format.
type chatBackend struct {
	client    openai.Client
	model     string
	maxTokens int64
}

func (b *chatBackend) Invoke(ctx context.Context, req Request) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatRequest{
		Model:     b.model,
		Prompt:    req.Prompt,
		Images:    []openai.Image{{MediaType: pngMediaType, Data: req.Image.PNG}},
		MaxTokens: b.maxTokens,
		ResponseFormat: &openai.JSONSchemaFormat{
			Name:   req.Schema.Name,
			Schema: req.Schema.Schema,
			Strict: req.Schema.Strict,
		},
	})
	if err != nil {
		return "", markTransient(err, openai.StatusCode(err))
	}

	zap.L().Debug("token usage",
		zap.String("model", b.model),
		zap.String("schema", req.Schema.Name),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
		zap.String("finish_reason", resp.FinishReason),
	)
	return resp.Content, nil
}

// toolBackend calls the Anthropic Messages API, forcing a single tool whose
// input schema is the stage schema. The tool input is the structured output.
type toolBackend struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func (b *toolBackend) Invoke(ctx context.Context, req Request) (string, error) {
	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		System:    []anthropic.SystemBlock{{Text: toolInstruction(req.Schema.Name)}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: req.Prompt,
			Images:  []anthropic.Image{{MediaType: pngMediaType, Data: req.Image.PNG}},
		}},
		Tool: &anthropic.Tool{
			Name:        req.Schema.Name,
			Description: "Record the " + req.Schema.Name + " extracted from the menu page.",
			InputSchema: req.Schema.Schema,
		},
	})
	if err != nil {
		return "", markTransient(err, anthropic.StatusCode(err))
	}
	resp.Usage.LogCost(b.model, req.Schema.Name)

	raw, err := resp.ToolInput(req.Schema.Name)
	if err != nil {
		// No tool call: hand back whatever text came instead so the caller's
		// decode step reports it.
		var text []string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text = append(text, block.Text)
			}
		}
		return strings.Join(text, "\n"), nil
	}
	return string(raw), nil
}

func toolInstruction(tool string) string {
	return "You transcribe restaurant menu pages into structured data. " +
		"Answer only by calling the " + tool + " tool, copying names and prices exactly as printed."
}
