// Package manychat implements the outbound delivery channel: the ManyChat
// WhatsApp sendContent API. Sends are single-shot; the client never retries.
package manychat

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

const defaultAPIURL = "https://api.manychat.com/whatsapp/sending/sendContent"

// ErrNotConfigured is returned when no API token is set. Deliveries are
// reported as failed without issuing an HTTP call.
var ErrNotConfigured = errors.New("manychat: token not configured")

// sendRequest is the wire payload expected by the sendContent endpoint.
type sendRequest struct {
	SubscriberID string   `json:"subscriber_id"`
	Data         sendData `json:"data"`
	MessageTag   string   `json:"message_tag"`
}

type sendData struct {
	Version string      `json:"version"`
	Content sendContent `json:"content"`
}

type sendContent struct {
	Messages []sendMessage `json:"messages"`
}

type sendMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Status string `json:"status"`
}

// Client posts text messages to subscribers through ManyChat.
type Client struct {
	apiURL     string
	token      string
	adminID    string
	httpClient *http.Client
}

type Option func(*Client)

func WithAPIURL(url string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimSpace(url)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAdminSubscriberID sets the fixed recipient for escalation alerts.
func WithAdminSubscriberID(id string) Option {
	return func(c *Client) {
		c.adminID = strings.TrimSpace(id)
	}
}

// NewClient creates a Client. An empty token is tolerated so the service
// can boot in environments without delivery credentials; every send then
// fails with ErrNotConfigured.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		apiURL:     defaultAPIURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers one text message to a subscriber. A nil error means
// ManyChat acknowledged the message.
func (c *Client) Send(ctx context.Context, subscriberID, text string) error {
	if c.token == "" {
		return ErrNotConfigured
	}
	if strings.TrimSpace(subscriberID) == "" {
		return errors.New("manychat: subscriber id is required")
	}

	body, err := json.Marshal(sendRequest{
		SubscriberID: subscriberID,
		Data: sendData{
			Version: "v2",
			Content: sendContent{
				Messages: []sendMessage{{Type: "text", Text: text}},
			},
		},
		MessageTag: "ACCOUNT_UPDATE",
	})
	if err != nil {
		return fmt.Errorf("manychat: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("manychat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("manychat: send request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("manychat: unexpected status %d: %s", res.StatusCode, string(raw))
	}

	var payload sendResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("manychat: decode response: %w", err)
	}
	if payload.Status != "success" {
		return fmt.Errorf("manychat: delivery not acknowledged: status %q", payload.Status)
	}
	return nil
}

// NotifyAdmin sends the escalation alert to the configured administrative
// subscriber.
func (c *Client) NotifyAdmin(ctx context.Context, e domain.Escalation) error {
	if c.adminID == "" {
		return errors.New("manychat: admin subscriber id not configured")
	}
	return c.Send(ctx, c.adminID, FormatAdminAlert(e))
}

// FormatAdminAlert renders the escalation alert text.
func FormatAdminAlert(e domain.Escalation) string {
	return fmt.Sprintf(
		"🚨 *NOTIFICACIÓN SENSORA AI*\n\n*Cliente:* %s\n*ID:* %s\n*Mensaje:* %q\n*Fecha:* %s\n\nRequiere atención humana.",
		e.DisplayName,
		e.SubscriberID,
		e.Message,
		e.Timestamp.UTC().Format(time.RFC3339),
	)
}
