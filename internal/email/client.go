// Package email sends transactional mail through the Resend HTTP API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("email is not configured")
	// ErrSendFailed is returned on any non-success provider response.
	ErrSendFailed = errors.New("email could not be sent")
)

const defaultEndpoint = "https://api.resend.com/emails"

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

// Client sends mail through Resend.
type Client struct {
	apiKey   string
	from     string
	endpoint string
	http     *http.Client
}

// NewClient creates a Resend client. An empty apiKey produces a client
// whose sends fail with ErrNotConfigured, which keeps local development
// working without credentials.
func NewClient(apiKey, from string) *Client {
	if from == "" {
		from = "Quarters <no-reply@quartershq.com>"
	}
	return &Client{
		apiKey:   apiKey,
		from:     from,
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send delivers one message. Provider errors are collapsed into
// ErrSendFailed with the response detail wrapped in.
func (c *Client) Send(ctx context.Context, m Message) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	if m.To == "" {
		return fmt.Errorf("%w: missing recipient", ErrSendFailed)
	}

	body, err := json.Marshal(sendRequest{
		From:    c.from,
		To:      m.To,
		Subject: m.Subject,
		HTML:    m.HTML,
		Text:    m.Text,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	var parsed sendResponse
	_ = json.NewDecoder(resp.Body).Decode(&parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || parsed.ID == "" {
		detail := parsed.Message
		if detail == "" {
			detail = resp.Status
		}
		return fmt.Errorf("%w: %s", ErrSendFailed, detail)
	}
	return nil
}
