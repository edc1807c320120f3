// Package client is a Go client for the messaging service's delivery channel: a
// ticker-driven Poller and a websocket PushSubscription that re-fetches after every
// (re)connect.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"messaging-service/internal/models"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("messaging api: %d %s", e.Status, e.Message)
}

// DeliveryConfig is the server-advertised poll cadence.
type DeliveryConfig struct {
	PushMode          string
	AdminPollInterval time.Duration
	UserPollInterval  time.Duration
}

// Client calls the HTTP surface with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// Messages fetches messages newer than afterID, oldest first. A zero afterID returns
// the latest page.
func (c *Client) Messages(ctx context.Context, conversationID, afterID int64) ([]models.Message, error) {
	q := url.Values{}
	if conversationID > 0 {
		q.Set("conversation_id", strconv.FormatInt(conversationID, 10))
	}
	if afterID > 0 {
		q.Set("after_id", strconv.FormatInt(afterID, 10))
	}
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.get(ctx, "/messages", q, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) UnreadCount(ctx context.Context, conversationID int64) (int, error) {
	q := url.Values{}
	if conversationID > 0 {
		q.Set("conversation_id", strconv.FormatInt(conversationID, 10))
	}
	var resp struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.get(ctx, "/unread-count", q, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

func (c *Client) DeliveryConfig(ctx context.Context) (DeliveryConfig, error) {
	var resp struct {
		PushMode          string `json:"push_mode"`
		AdminPollInterval int64  `json:"admin_poll_interval"`
		UserPollInterval  int64  `json:"user_poll_interval"`
	}
	if err := c.get(ctx, "/config/delivery", nil, &resp); err != nil {
		return DeliveryConfig{}, err
	}
	return DeliveryConfig{
		PushMode:          resp.PushMode,
		AdminPollInterval: time.Duration(resp.AdminPollInterval) * time.Millisecond,
		UserPollInterval:  time.Duration(resp.UserPollInterval) * time.Millisecond,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			apiErr.Message = body.Error
			apiErr.Fields = body.Fields
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// pushURL maps the HTTP base URL onto the websocket endpoint for a conversation.
func (c *Client) pushURL(conversationID int64) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/conversations/" + strconv.FormatInt(conversationID, 10)
	return u.String(), nil
}
