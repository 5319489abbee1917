// Package push delivers notifications to devices through the Expo push API.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/njoerd114/fuelrelay/internal/apperr"
)

// DefaultEndpoint is the Expo push API.
const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

// MaxBatch is the most messages Expo accepts in one request.
const MaxBatch = 100

// Message is one push notification addressed to a single device token.
type Message struct {
	To        string         `json:"to"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	Sound     string         `json:"sound,omitempty"`
	ChannelID string         `json:"channelId,omitempty"`
}

// Ticket is Expo's receipt for one message. Status is "ok" or "error".
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// OK reports whether Expo accepted the message.
func (t Ticket) OK() bool { return t.Status == "ok" }

// Sender delivers a batch of messages.
// Implemented by [ExpoClient].
type Sender interface {
	Send(ctx context.Context, msgs []Message) ([]Ticket, error)
}

// ExpoClient posts messages to the Expo push API. The zero value uses
// [DefaultEndpoint] and a client with a 15s timeout.
type ExpoClient struct {
	Endpoint    string
	AccessToken string
	HTTPClient  *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

// Send posts msgs in one request and returns one ticket per message.
func (c *ExpoClient) Send(ctx context.Context, msgs []Message) ([]Ticket, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if len(msgs) > MaxBatch {
		return nil, apperr.Validation(fmt.Sprintf("%d messages exceed the batch limit of %d", len(msgs), MaxBatch))
	}

	body, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode push messages: %w", err)
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, apperr.Transient("network", fmt.Errorf("execute push request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var out struct {
		Data []Ticket `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Transient(apperr.CodeSchema, fmt.Errorf("decode push response: %w", err))
	}
	if len(out.Data) != len(msgs) {
		return out.Data, apperr.Transient(apperr.CodeSchema,
			fmt.Errorf("push response has %d tickets for %d messages", len(out.Data), len(msgs)))
	}
	return out.Data, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("expo returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return apperr.Wrap(apperr.KindAuth, "", err)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return apperr.Transient(fmt.Sprint(resp.StatusCode), err)
	default:
		return apperr.Wrap(apperr.KindValidation, fmt.Sprint(resp.StatusCode), err)
	}
}

// Chunk splits tokens into consecutive slices of at most size elements.
func Chunk(tokens []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatch
	}
	chunks := make([][]string, 0, (len(tokens)+size-1)/size)
	for i := 0; i < len(tokens); i += size {
		chunks = append(chunks, tokens[i:min(i+size, len(tokens))])
	}
	return chunks
}
