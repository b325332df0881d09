package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Uploader pushes JPEG frames to the relay's upload endpoint. Transient
// failures (429, 5xx, network errors) are retried with capped backoff;
// anything else surfaces to the caller.
type Uploader struct {
	baseURL    string
	apiKey     string
	uid        string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewUploader(baseURL, apiKey, uid string, httpClient *http.Client) *Uploader {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Uploader{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		uid:        strings.TrimSpace(uid),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// UploadFrame sends one frame body.
func (u *Uploader) UploadFrame(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty frame")
	}
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/upload", bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "image/jpeg")
		req.Header.Set("X-Api-Key", u.apiKey)
		req.Header.Set("X-User-Uid", u.uid)

		resp, err := u.httpClient.Do(req)
		if err != nil {
			if attempt < u.maxRetries {
				if waitErr := waitWithContext(ctx, u.retryDelay(attempt+1)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < u.maxRetries {
			if waitErr := waitWithContext(ctx, u.retryDelay(attempt+1)); waitErr != nil {
				return waitErr
			}
			continue
		}
		return fmt.Errorf("upload rejected: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// UploadFile reads path and uploads its contents.
func (u *Uploader) UploadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return u.UploadFrame(ctx, data)
}

func (u *Uploader) retryDelay(attempt int) time.Duration {
	delay := u.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	maxDelay := u.maxDelay
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
