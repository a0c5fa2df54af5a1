package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/eventverse/eventchat/internal/models"
)

// TokenSource supplies the bearer token appended to every request.
// Token storage and refresh live outside this package.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() (string, error) { return string(s), nil }

// FetchError is returned when a history or send call fails at the
// network or HTTP level. Callers treat it as non-fatal: state is left
// unchanged and the user may retry.
type FetchError struct {
	Status int
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("history: request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("history: request to %s failed with status %d", e.URL, e.Status)
}

// Unwrap exposes the underlying transport error, if any.
func (e *FetchError) Unwrap() error { return e.Err }

// Client is a wrapper around the chat backend's REST API: paginated
// message history, the send fallback, and the best-effort presence
// count.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a REST client for the given base URL. A zero
// timeout falls back to 10 seconds.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// doRequest executes an HTTP request against the backend, adding the
// auth header and decoding error statuses into FetchError.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	fullURL := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to obtain auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: fullURL, Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &FetchError{Status: resp.StatusCode, URL: fullURL}
	}

	return respBody, nil
}

// LoadPage fetches one page of historical messages for a room.
// Pages are zero-indexed and oldest-first within a page.
func (c *Client) LoadPage(ctx context.Context, roomID string, page, size int) (*models.HistoryPage, error) {
	q := url.Values{}
	q.Set("roomId", roomID)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	respBody, err := c.doRequest(ctx, http.MethodGet, "/chat/messages/paginated?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var result models.HistoryPage
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse history page: %w", err)
	}
	return &result, nil
}

// LoadLatest seeds a fresh view: it probes page 0 to learn the totals,
// then fetches the last page so the most recent messages come first.
func (c *Client) LoadLatest(ctx context.Context, roomID string, size int) (*models.HistoryPage, error) {
	first, err := c.LoadPage(ctx, roomID, 0, size)
	if err != nil {
		return nil, err
	}

	lastPage := first.TotalPages - 1
	if lastPage <= 0 {
		return first, nil
	}

	last, err := c.LoadPage(ctx, roomID, lastPage, size)
	if err != nil {
		return nil, err
	}
	return last, nil
}

// Send posts a message through the REST fallback path. Used when the
// transport session is not connected.
func (c *Client) Send(ctx context.Context, msg models.SendMessageRequest) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/chat/send", msg)
	return err
}

// PresenceCount returns the number of users currently online in a
// room. Best-effort display data, not part of the sync invariants.
func (c *Client) PresenceCount(ctx context.Context, roomID string) (int, error) {
	q := url.Values{}
	q.Set("roomId", roomID)

	respBody, err := c.doRequest(ctx, http.MethodGet, "/presence?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}

	var count int
	if err := json.Unmarshal(respBody, &count); err != nil {
		return 0, fmt.Errorf("failed to parse presence count: %w", err)
	}
	return count, nil
}
