package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// OpenAIClient talks to an OpenAI-compatible chat/embeddings API. Azure
// OpenAI and self-hosted gateways fit the same surface; the deployment
// parameter selects the model.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	chatClient  *http.Client
	embedClient *http.Client
	logger      hclog.Logger
}

// OpenAIConfig holds configuration for the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey       string        // API key
	BaseURL      string        // Base URL (default: https://api.openai.com/v1)
	ChatTimeout  time.Duration // Chat HTTP timeout (default: 30s)
	EmbedTimeout time.Duration // Embeddings HTTP timeout (default: 10s)
	Logger       hclog.Logger  // Logger (optional)
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.ChatTimeout == 0 {
		config.ChatTimeout = 30 * time.Second
	}
	if config.EmbedTimeout == 0 {
		config.EmbedTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &OpenAIClient{
		apiKey:      config.APIKey,
		baseURL:     config.BaseURL,
		chatClient:  &http.Client{Timeout: config.ChatTimeout},
		embedClient: &http.Client{Timeout: config.EmbedTimeout},
		logger:      config.Logger.Named("openai-client"),
	}, nil
}

// Chat runs one chat completion against the named deployment.
func (c *OpenAIClient) Chat(ctx context.Context, deployment string, messages []Message, opts ChatOptions) (*Completion, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	reqBody := openAIChatRequest{
		Model:       deployment,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, openAIChatMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if opts.JSONMode {
		reqBody.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	respBody, err := c.post(ctx, c.chatClient, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := chatResp.Choices[0]

	c.logger.Debug("chat completion",
		"deployment", deployment,
		"finish_reason", choice.FinishReason,
		"tokens_used", chatResp.Usage.TotalTokens,
	)

	return &Completion{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		TokensUsed:   chatResp.Usage.TotalTokens,
	}, nil
}

// EmbedWith returns an Embedder bound to the given embeddings deployment.
func (c *OpenAIClient) EmbedWith(deployment string) Embedder {
	return &openAIEmbedder{client: c, deployment: deployment}
}

type openAIEmbedder struct {
	client     *OpenAIClient
	deployment string
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	respBody, err := e.client.post(ctx, e.client.embedClient, "/embeddings", openAIEmbeddingRequest{
		Model: e.deployment,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}

	var embedResp openAIEmbeddingResponse
	if err := json.Unmarshal(respBody, &embedResp); err != nil {
		return nil, fmt.Errorf("failed to parse embeddings response: %w", err)
	}
	if len(embedResp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(embedResp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range embedResp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// post sends a JSON request and returns the raw response body.
func (c *OpenAIClient) post(ctx context.Context, httpClient *http.Client, path string, body interface{}) ([]byte, error) {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("provider API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("provider API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// OpenAI-compatible API types

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
	Usage   openAIUsage        `json:"usage"`
}

type openAIChatChoice struct {
	Index        int               `json:"index"`
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
