package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const sessionHeader = "Mcp-Session-Id"

// Client talks to the xiaohongshu MCP search service over HTTP JSON-RPC.
// A session is initialized lazily on the first search and reused until a
// transport error invalidates it.
type Client struct {
	httpClient *http.Client
	mcpURL     string
	userAgent  string

	mu        sync.Mutex
	sessionID string
	requestID int64
}

func NewClient(mcpURL, userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		mcpURL:     mcpURL,
		userAgent:  userAgent,
	}
}

// SearchPosts fetches the latest page of candidates for the keyword. The
// result set size is whatever the service returns for one page.
func (c *Client) SearchPosts(ctx context.Context, keyword, sortBy string) ([]Candidate, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.requestID++
	id := c.requestID
	session := c.sessionID
	c.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "tools/call",
		Params: map[string]any{
			"name": "search_feeds",
			"arguments": map[string]any{
				"keyword": keyword,
				"filters": map[string]any{
					"location":     LocationAny,
					"note_type":    NoteTypeImage,
					"publish_time": PublishTimeAny,
					"search_scope": SearchScopeNew,
					"sort_by":      sortBy,
				},
			},
			"_meta": map[string]any{"progressToken": id},
		},
	}

	resp, _, err := c.post(ctx, req, session)
	if err != nil {
		// The session may have expired; force a re-initialize next time.
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		return nil, fmt.Errorf("search_feeds call failed: %w", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("search_feeds returned error: %s", resp.Error.Message)
	}
	if resp.Result == nil || len(resp.Result.Content) == 0 {
		slog.Warn("Feed search returned empty result", "keyword", keyword)
		return nil, nil
	}

	return parseSearchResult(resp.Result.Content[0].Text)
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	if c.sessionID != "" {
		c.mu.Unlock()
		return nil
	}
	c.requestID++
	id := c.requestID
	c.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{},
			"clientInfo": map[string]any{
				"name":    "tickethunter",
				"version": "1.0.0",
			},
		},
	}

	resp, session, err := c.post(ctx, req, "")
	if err != nil {
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("MCP initialize returned error: %s", resp.Error.Message)
	}

	c.mu.Lock()
	c.sessionID = session
	c.mu.Unlock()

	slog.Debug("MCP session initialized", "session", session)
	return nil
}

func (c *Client) post(ctx context.Context, payload rpcRequest, session string) (*rpcResponse, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mcpURL, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("User-Agent", c.userAgent)
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, "", fmt.Errorf("failed to decode response: %w", err)
	}

	return &rpcResp, resp.Header.Get(sessionHeader), nil
}

// parseSearchResult decodes the JSON document embedded in the tool result
// text. The service wraps candidates in a {"feeds": [...], "count": N}
// envelope, but older versions return a bare array.
func parseSearchResult(text string) ([]Candidate, error) {
	var envelope searchEnvelope
	if err := json.Unmarshal([]byte(text), &envelope); err == nil && envelope.Feeds != nil {
		return envelope.Feeds, nil
	}

	var candidates []Candidate
	if err := json.Unmarshal([]byte(text), &candidates); err == nil {
		return candidates, nil
	}

	return nil, fmt.Errorf("unexpected search result format")
}
