// Package apiclient is a typed client for the Pulse REST surface.
//
// It carries no credential logic: pass it the *http.Client from
// transport.Layer.HTTPClient and every call is authenticated, refreshed and
// replayed by the dispatcher underneath.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	v1 "pulse/shared/contracts/realtime/v1"
)

const maxResponseBytes = 4 << 20

// APIError is a non-2xx response decoded from {"error":{"code","message"}}.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// User is the authenticated principal returned by /api/me.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CompanyID string `json:"company_id"`
}

// Notification is one dashboard notification.
type Notification = v1.NotificationPayload

// NewNotification is the create payload for POST /api/notifications.
type NewNotification struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// Client calls the REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// New builds a Client. httpClient should be the dispatcher-backed client.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base url %q", baseURL)
	}
	if httpClient == nil {
		return nil, errors.New("apiclient: nil http client")
	}
	return &Client{baseURL: u, httpClient: httpClient}, nil
}

// Me returns the current user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Notifications lists the current user's notifications, newest first.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var out struct {
		Items []Notification `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateNotification creates a notification for the current user.
func (c *Client) CreateNotification(ctx context.Context, in NewNotification) (*Notification, error) {
	var n Notification
	if err := c.do(ctx, http.MethodPost, "/api/notifications", in, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Raw performs an authenticated GET of path and returns the body verbatim.
func (c *Client) Raw(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return b, resp.StatusCode, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := *c.baseURL
	p, rawQuery, _ := strings.Cut(path, "?")
	u.Path = strings.TrimRight(u.Path, "/") + p
	u.RawQuery = rawQuery
	return u.String()
}

func parseErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}
