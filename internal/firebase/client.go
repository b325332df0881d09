package firebase

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BilalWattu521/doorbot-fyp/internal/doorbell"
)

// HTTPError reports a non-retryable response from the database or
// messaging endpoints.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client talks to a Firebase Realtime Database over its REST surface and
// implements doorbell.RemoteStore. Transient failures (429, 5xx, network
// errors) are retried with capped exponential backoff.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(databaseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	databaseURL = strings.TrimRight(strings.TrimSpace(databaseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    databaseURL,
		tokens:     tokens,
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// ReadValue fetches the JSON value at path. The database reports an
// absent node with a 200 "null" body, which maps to a zero Value.
func (c *Client) ReadValue(ctx context.Context, path string) (doorbell.Value, error) {
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return doorbell.Value{}, err
	}
	return doorbell.Value{Raw: body}, nil
}

// ListChildKeys returns the immediate child key names under path using a
// shallow query, so listing the users root never downloads frame-sized
// subtrees.
func (c *Client) ListChildKeys(ctx context.Context, path string) ([]string, error) {
	body, err := c.get(ctx, path, url.Values{"shallow": []string{"true"}})
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var children map[string]json.RawMessage
	if err := json.Unmarshal(body, &children); err != nil {
		return nil, fmt.Errorf("unexpected shallow listing for %s: %w", path, err)
	}
	keys := make([]string, 0, len(children))
	for key := range children {
		keys = append(keys, key)
	}
	return keys, nil
}

// SubscribeValue opens the database's event-stream endpoint for path and
// delivers the initial value plus every subsequent change on the
// returned channel, in server order. The stop function tears the stream
// down and closes the channel.
func (c *Client) SubscribeValue(ctx context.Context, path string) (<-chan doorbell.Value, func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(streamCtx, path, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	values := make(chan doorbell.Value)
	go func() {
		defer close(values)
		defer resp.Body.Close()
		streamValues(streamCtx, resp.Body, values)
	}()
	return values, cancel, nil
}

// streamValues parses the server-sent event stream. A "put" targeting
// the subscribed node itself ("/") carries the new value; keep-alives
// are ignored and auth_revoked/cancel end the stream so the caller can
// resubscribe with a fresh token.
func streamValues(ctx context.Context, r io.Reader, out chan<- doorbell.Value) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "put", "patch":
				var change struct {
					Path string          `json:"path"`
					Data json.RawMessage `json:"data"`
				}
				if err := json.Unmarshal([]byte(data), &change); err != nil {
					continue
				}
				if change.Path != "/" {
					continue
				}
				select {
				case out <- doorbell.Value{Raw: change.Data}:
				case <-ctx.Done():
					return
				}
			case "auth_revoked", "cancel":
				return
			}
		}
	}
}

func (c *Client) newRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	if query == nil {
		query = url.Values{}
	}
	requestURL := c.baseURL + "/" + strings.Trim(path, "/") + ".json"
	if encoded := query.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("token source: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := c.newRequest(ctx, path, query)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return body, nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
