package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hashicorp/go-hclog"
)

// AnthropicClient implements Client using the Anthropic Messages API.
// The deployment parameter carries the Claude model name.
type AnthropicClient struct {
	client anthropic.Client
	logger hclog.Logger
}

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey string
	Logger hclog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	return &AnthropicClient{
		client: client,
		logger: config.Logger.Named("anthropic-client"),
	}, nil
}

// Chat runs one message completion. System messages are extracted into
// the System parameter; JSON mode is approximated with an instruction
// since the Messages API has no response_format.
func (c *AnthropicClient) Chat(ctx context.Context, deployment string, messages []Message, opts ChatOptions) (*Completion, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	var systemText string
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			if systemText == "" {
				systemText = m.Content
			}
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if opts.JSONMode {
		systemText += "\n\nRespond with a single JSON object and nothing else."
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(deployment),
		MaxTokens: int64(maxTokens),
		Messages:  converted,
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if systemText != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemText}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Anthropic API call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("no response generated")
	}

	finish := FinishStop
	if resp.StopReason == anthropic.StopReasonMaxTokens {
		finish = FinishLength
	}

	c.logger.Debug("chat completion",
		"deployment", deployment,
		"stop_reason", resp.StopReason,
	)

	return &Completion{
		Content:      sb.String(),
		FinishReason: finish,
		TokensUsed:   int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}, nil
}
