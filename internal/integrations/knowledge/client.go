// Package knowledge queries the retrieval service for ranked snippets used
// as grounding context by the agent prompts. An unreachable or empty
// knowledge base is not an error condition for the pipeline; the dispatcher
// simply proceeds without context.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
)

// Searcher is the retrieval interface consumed by the dispatcher.
type Searcher interface {
	Search(ctx context.Context, query string) ([]domain.Snippet, error)
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results []domain.Snippet `json:"results"`
}

// Client is an HTTP Searcher against a /search endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("knowledge: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Search returns ranked snippets for the query, best first. An empty result
// list is a valid answer.
func (c *Client) Search(ctx context.Context, query string) ([]domain.Snippet, error) {
	body, err := json.Marshal(searchRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshal request: %w", err)
	}

	url := c.baseURL + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("knowledge: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("knowledge: unexpected status %d: %s", res.StatusCode, string(buf))
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("knowledge: read response: %w", err)
	}

	var payload searchResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("knowledge: decode response: %w", err)
	}
	return payload.Results, nil
}

// FormatContext renders snippets into the prompt block appended to agent
// system instructions. Returns "" when there is nothing to add.
func FormatContext(snippets []domain.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("BASE DE CONOCIMIENTO:\n")
	for _, s := range snippets {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	if b.Len() == len("BASE DE CONOCIMIENTO:\n") {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}
