package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/arcana-forge/arcana/pkg/auth"
)

const defaultBaseURL = "https://api.notion.com"

// RateLimitError reports a provider 429 with its retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("notion rate limited, retry after %s", e.RetryAfter)
}

// Client is a Notion API client. Every call fetches a fresh access token
// through the token provider, so refresh happens transparently mid-pull.
type Client struct {
	baseURL    string
	tokens     auth.TokenProvider
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     hclog.Logger
}

// ClientConfig holds Notion client configuration.
type ClientConfig struct {
	BaseURL string             // Base URL (default: https://api.notion.com)
	Tokens  auth.TokenProvider // Access token source
	Timeout time.Duration      // HTTP timeout (default: 60s)
	Logger  hclog.Logger
}

// NewClient creates a Notion API client. Requests are paced at the
// documented integration limit of three per second.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		tokens:     cfg.Tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(3), 3),
		logger:     cfg.Logger.Named("notion-client"),
	}, nil
}

// SearchPage is one page of search enumeration results.
type SearchPage struct {
	Pages      []Page
	NextCursor string
	HasMore    bool
}

// SearchPages enumerates pages shared with the integration, one API page
// at a time, resumable from cursor.
func (c *Client) SearchPages(ctx context.Context, cursor string) (*SearchPage, error) {
	body := map[string]interface{}{
		"filter":    map[string]string{"property": "object", "value": "page"},
		"page_size": 100,
		"sort": map[string]string{
			"direction": "descending",
			"timestamp": "last_edited_time",
		},
	}
	if cursor != "" {
		body["start_cursor"] = cursor
	}

	var resp searchResponse
	if err := c.do(ctx, "POST", "/v1/search", body, &resp); err != nil {
		return nil, err
	}

	return &SearchPage{
		Pages:      resp.Results,
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}, nil
}

// blockChildren fetches one page of a block's direct children.
func (c *Client) blockChildren(ctx context.Context, blockID, cursor string) (*blockChildrenResponse, error) {
	path := fmt.Sprintf("/v1/blocks/%s/children?page_size=100", blockID)
	if cursor != "" {
		path += "&start_cursor=" + cursor
	}

	var resp blockChildrenResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BlockTree fetches the full block tree under a page, depth-first.
// Child pages are not descended into; they are pulled as sources of
// their own by the enumeration.
func (c *Client) BlockTree(ctx context.Context, blockID string) ([]Block, error) {
	var blocks []Block
	cursor := ""

	for {
		resp, err := c.blockChildren(ctx, blockID, cursor)
		if err != nil {
			return nil, err
		}

		for _, block := range resp.Results {
			if block.HasChildren && block.Type != "child_page" {
				children, err := c.BlockTree(ctx, block.ID)
				if err != nil {
					return nil, err
				}
				block.Children = children
			}
			blocks = append(blocks, block)
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	return blocks, nil
}

// CreatedPage is the result of publishing a page.
type CreatedPage struct {
	ID  string
	URL string
}

// CreatePage publishes a new page with the given title and content
// blocks under the integration's workspace (parent page optional).
func (c *Client) CreatePage(ctx context.Context, parentPageID, title string, blocks []map[string]interface{}) (*CreatedPage, error) {
	parent := map[string]interface{}{"workspace": true}
	if parentPageID != "" {
		parent = map[string]interface{}{"page_id": parentPageID}
	}

	// The pages endpoint accepts at most 100 children; the rest are
	// appended in follow-up calls.
	first := blocks
	var rest []map[string]interface{}
	if len(blocks) > 100 {
		first, rest = blocks[:100], blocks[100:]
	}

	body := map[string]interface{}{
		"parent": parent,
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"title": []map[string]interface{}{
					{"type": "text", "text": map[string]string{"content": title}},
				},
			},
		},
		"children": first,
	}

	var resp createPageResponse
	if err := c.do(ctx, "POST", "/v1/pages", body, &resp); err != nil {
		return nil, err
	}

	for len(rest) > 0 {
		batch := rest
		if len(batch) > 100 {
			batch = batch[:100]
		}
		rest = rest[len(batch):]
		if err := c.AppendBlocks(ctx, resp.ID, batch); err != nil {
			return nil, err
		}
	}

	return &CreatedPage{ID: resp.ID, URL: resp.URL}, nil
}

// AppendBlocks appends content blocks to an existing block or page.
func (c *Client) AppendBlocks(ctx context.Context, blockID string, blocks []map[string]interface{}) error {
	body := map[string]interface{}{"children": blocks}
	return c.do(ctx, "PATCH", fmt.Sprintf("/v1/blocks/%s/children", blockID), body, nil)
}

// do executes one API call with rate pacing, fresh-token auth, and 429
// classification.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", APIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("notion API error (%d, %s): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("notion API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Title extracts the page title from its properties.
func (p *Page) Title() string {
	for _, prop := range p.Properties {
		propMap, ok := prop.(map[string]interface{})
		if !ok || propMap["type"] != "title" {
			continue
		}
		items, ok := propMap["title"].([]interface{})
		if !ok {
			continue
		}
		title := ""
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				if s, ok := m["plain_text"].(string); ok {
					title += s
				}
			}
		}
		return title
	}
	return ""
}
