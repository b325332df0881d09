package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BilalWattu521/doorbot-fyp/internal/doorbell"
)

const defaultMessagingEndpoint = "https://fcm.googleapis.com"

// MessagingClient sends push notifications through the FCM HTTP v1 API
// and implements doorbell.Messenger. Sends are fire-and-forget from the
// caller's perspective: no retries here.
type MessagingClient struct {
	projectID  string
	endpoint   string
	tokens     TokenSource
	httpClient *http.Client
}

func NewMessagingClient(projectID string, tokens TokenSource, httpClient *http.Client) *MessagingClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &MessagingClient{
		projectID:  projectID,
		endpoint:   defaultMessagingEndpoint,
		tokens:     tokens,
		httpClient: httpClient,
	}
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroidNotification struct {
	ChannelID             string `json:"channel_id"`
	NotificationPriority  string `json:"notification_priority"`
	DefaultSound          bool   `json:"default_sound"`
	DefaultVibrateTimings bool   `json:"default_vibrate_timings"`
	Visibility            string `json:"visibility"`
}

type fcmAndroidConfig struct {
	Priority     string                 `json:"priority"`
	Notification fcmAndroidNotification `json:"notification"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Android      fcmAndroidConfig  `json:"android"`
	Data         map[string]string `json:"data,omitempty"`
}

// Send delivers one push to the given device token. Android delivery
// settings match the mobile app's doorbot notification channel.
func (c *MessagingClient) Send(ctx context.Context, token string, msg doorbell.Message) error {
	payload := struct {
		Message fcmMessage `json:"message"`
	}{
		Message: fcmMessage{
			Token: token,
			Notification: fcmNotification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Android: fcmAndroidConfig{
				Priority: "high",
				Notification: fcmAndroidNotification{
					ChannelID:             "doorbot_notifications",
					NotificationPriority:  "PRIORITY_MAX",
					DefaultSound:          true,
					DefaultVibrateTimings: true,
					Visibility:            "PUBLIC",
				},
			},
			Data: msg.Data,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	sendURL := fmt.Sprintf("%s/v1/projects/%s/messages:send", strings.TrimRight(c.endpoint, "/"), c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		accessToken, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("token source: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8192))
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	return nil
}
