package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Verdict is the structured result of a resale classification. A negative
// verdict carries empty detail fields.
type Verdict struct {
	IsResale  bool   `json:"is_ticket_resale"`
	EventName string `json:"event_name"`
	City      string `json:"city"`
	EventDate string `json:"event_date"`
	Area      string `json:"area"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Contact   string `json:"contact"`
	Notes     string `json:"notes"`
}

// Client calls a chat-completions endpoint for keyword refinement and
// resale classification. Both operations are best-effort: refinement fails
// open to the original keyword, classification fails closed to a negative
// verdict.
type Client struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	model      string
}

func NewClient(apiURL, apiKey, model string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiURL:     apiURL,
		apiKey:     apiKey,
		model:      model,
	}
}

// OptimizeKeyword refines a raw search keyword. Any failure returns the
// original keyword; refinement must never block task creation.
func (c *Client) OptimizeKeyword(ctx context.Context, keyword string) string {
	text, err := c.complete(ctx, keywordPrompt(keyword), 0.3)
	if err != nil {
		slog.Warn("Keyword optimization failed, using original keyword", "keyword", keyword, "error", err)
		return keyword
	}

	refined := strings.TrimSpace(text)
	if refined == "" {
		slog.Warn("Keyword optimization returned empty result, using original keyword", "keyword", keyword)
		return keyword
	}

	slog.Info("Keyword optimized", "original", keyword, "refined", refined)
	return refined
}

// AnalyzeForResale classifies post text as a ticket-resale offer. Any
// failure or unparsable response yields a negative verdict.
func (c *Client) AnalyzeForResale(ctx context.Context, content string) Verdict {
	text, err := c.complete(ctx, analysisPrompt(content), 0.1)
	if err != nil {
		slog.Warn("Resale classification failed", "error", err)
		return Verdict{}
	}

	raw := extractJSON(text)
	if raw == "" {
		slog.Warn("No JSON found in classification response", "response", text)
		return Verdict{}
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		slog.Warn("Failed to parse classification response", "error", err, "response", raw)
		return Verdict{}
	}

	return verdict
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// extractJSON returns the substring between the first '{' and the last '}'.
// Models often wrap the JSON document in prose or code fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
