package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"chat-sync/internal/models"
)

// SendCategory classifies a failed send for the UI layer.
type SendCategory string

const (
	SendRateLimited    SendCategory = "rate_limited"
	SendPeerNotFound   SendCategory = "peer_not_found"
	SendInvalidContent SendCategory = "invalid_content"
	SendUnknown        SendCategory = "unknown"
)

// SendError carries the failure category derived from the response status.
type SendError struct {
	Category SendCategory
	Status   int
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %s (status %d)", e.Category, e.Status)
}

// Client is the REST collaborator surface consumed by the session: history
// retrieval, the persistence call that also triggers the push broadcast,
// and daily usage reporting.
type Client interface {
	FetchHistory(ctx context.Context, peer string) ([]models.Message, error)
	SendMessage(ctx context.Context, msg models.Message) error
	FetchDailyUsage(ctx context.Context) (models.Usage, error)
}

// HTTPClient talks to the backend message store over REST.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.SugaredLogger
}

// NewHTTPClient builds a client with a bounded request timeout. No
// infinite hangs: a stuck call would leave an optimistic entry pending
// forever.
func NewHTTPClient(baseURL, token string, timeout time.Duration, log *zap.SugaredLogger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// FetchHistory loads the server-ordered message history with a peer.
func (c *HTTPClient) FetchHistory(ctx context.Context, peer string) ([]models.Message, error) {
	endpoint := c.baseURL + "/messages?peer=" + url.QueryEscape(peer)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode)
	}

	var body struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return body.Messages, nil
}

// SendMessage persists the message and triggers the push broadcast. The
// correlation id travels with the payload so the echoed push can be
// matched exactly.
func (c *HTTPClient) SendMessage(ctx context.Context, msg models.Message) error {
	payload, err := json.Marshal(map[string]string{
		"receiver":       msg.Receiver,
		"content":        msg.Content,
		"timestamp":      msg.Timestamp.UTC().Format(time.RFC3339Nano),
		"correlation_id": msg.CorrelationID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &SendError{Category: SendUnknown}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &SendError{Category: classifyStatus(resp.StatusCode), Status: resp.StatusCode}
}

// FetchDailyUsage returns messages-sent-today against the daily limit.
func (c *HTTPClient) FetchDailyUsage(ctx context.Context) (models.Usage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/usage/daily", nil)
	if err != nil {
		return models.Usage{}, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Usage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Usage{}, fmt.Errorf("fetch usage: status %d", resp.StatusCode)
	}

	var usage models.Usage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return models.Usage{}, fmt.Errorf("fetch usage: %w", err)
	}
	return usage, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func classifyStatus(status int) SendCategory {
	switch status {
	case http.StatusTooManyRequests:
		return SendRateLimited
	case http.StatusNotFound:
		return SendPeerNotFound
	case http.StatusBadRequest:
		return SendInvalidContent
	default:
		return SendUnknown
	}
}

var _ Client = (*HTTPClient)(nil)
