package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel     = anthropic.ModelClaudeSonnet4_5_20250929
	DefaultMaxTokens = 4096
)

// AnthropicLLMClient implements LLMClient using the Anthropic API.
type AnthropicLLMClient struct {
	client    anthropic.Client
	log       *slog.Logger
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicLLMClient creates a new Anthropic-based LLM client. Without an
// explicit API key the SDK reads ANTHROPIC_API_KEY.
func NewAnthropicLLMClient(log *slog.Logger, apiKey string, model anthropic.Model, maxTokens int64) *AnthropicLLMClient {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	// Single attempt per request.
	opts = append(opts, option.WithMaxRetries(0))
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &AnthropicLLMClient{
		client:    anthropic.NewClient(opts...),
		log:       log,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends a prompt to Claude and returns the response text.
func (c *AnthropicLLMClient) Complete(ctx context.Context, prompt Prompt, opts ...CompleteOption) (string, error) {
	params, err := c.buildParams(prompt, opts...)
	if err != nil {
		return "", err
	}

	start := time.Now()
	c.log.Info("Anthropic API call starting", "model", c.model, "max_tokens", c.maxTokens, "turns", len(prompt.Turns))

	msg, err := c.client.Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		c.log.Error("Anthropic API call failed", "duration", duration, "error", err)
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	c.log.Info("Anthropic API call completed", "duration", duration, "stop_reason", msg.StopReason,
		"input_tokens", msg.Usage.InputTokens, "output_tokens", msg.Usage.OutputTokens)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}

func (c *AnthropicLLMClient) buildParams(prompt Prompt, opts ...CompleteOption) (anthropic.MessageNewParams, error) {
	var options CompleteOptions
	for _, opt := range opts {
		opt(&options)
	}
	if len(prompt.Turns) == 0 {
		return anthropic.MessageNewParams{}, errors.New("prompt has no turns")
	}

	system := make([]anthropic.TextBlockParam, 0, len(prompt.System))
	for _, text := range prompt.System {
		if text == "" {
			continue
		}
		block := anthropic.TextBlockParam{Text: text}
		if options.CacheSystemPrompt && len(system) == 0 {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		system = append(system, block)
	}

	messages := make([]anthropic.MessageParam, 0, len(prompt.Turns))
	for _, turn := range prompt.Turns {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unknown role %q", turn.Role)
		}
	}

	return anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  messages,
	}, nil
}
