package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nfrund/relay/internal/domain"
)

// RESTClient talks to the history service's REST fallback endpoints.
type RESTClient struct {
	base   string
	client *http.Client
}

// NewRESTClient creates a client for the server at baseURL (http or https).
// A nil httpClient gets a 10s timeout.
func NewRESTClient(baseURL string, httpClient *http.Client) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTClient{
		base:   strings.TrimRight(baseURL, "/") + "/api/chat",
		client: httpClient,
	}
}

// SendRequest is the body of POST /api/chat/send. ID and Timestamp carry the
// relay's stamp when resubmitting an undelivered message.
type SendRequest struct {
	ID         string     `json:"id,omitempty"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Message    string     `json:"message"`
	SenderName string     `json:"senderName,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

// Send stores a message and returns the stored copy.
func (c *RESTClient) Send(ctx context.Context, req SendRequest) (domain.ChatMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	var msg domain.ChatMessage
	err = c.do(ctx, http.MethodPost, c.base+"/send", bytes.NewReader(body), &msg)
	return msg, err
}

// Recent returns the latest messages between two users, oldest first.
func (c *RESTClient) Recent(ctx context.Context, user1, user2 string) ([]domain.ChatMessage, error) {
	return c.conversation(ctx, "/recent", user1, user2)
}

// History returns the whole conversation between two users, oldest first.
func (c *RESTClient) History(ctx context.Context, user1, user2 string) ([]domain.ChatMessage, error) {
	return c.conversation(ctx, "/history", user1, user2)
}

func (c *RESTClient) conversation(ctx context.Context, path, user1, user2 string) ([]domain.ChatMessage, error) {
	q := url.Values{"user1": {user1}, "user2": {user2}}
	var msgs []domain.ChatMessage
	if err := c.do(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Health checks the store behind the REST endpoints.
func (c *RESTClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.base+"/health", nil, nil)
}

func (c *RESTClient) do(ctx context.Context, method, target string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrConnection, method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		if e.Message == "" {
			e.Message = resp.Status
		}
		if resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, e.Message)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, target, resp.StatusCode, e.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
