// ABOUTME: Bus client for a shared relay reached over HTTP
// ABOUTME: Publishes with an authenticated POST and subscribes through the relay's SSE stream

package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// RelaySecretHeader carries the shared secret on relay publish requests.
const RelaySecretHeader = "X-Relay-Secret"

// RemoteBus talks to a relay exposing:
//
//	POST {base}/relay/channels/{channel}/events   (publish, secret required)
//	GET  {base}/api/channels/{channel}/events     (SSE subscribe)
type RemoteBus struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	bufferSize int
	logger     *slog.Logger
}

// RemoteConfig configures a RemoteBus.
type RemoteConfig struct {
	BaseURL    string
	Secret     string       // required only for Publish
	HTTPClient *http.Client // nil for http.DefaultClient; must not set a total timeout for subscriptions
	BufferSize int
	Logger     *slog.Logger
}

// NewRemoteBus creates a relay client.
func NewRemoteBus(cfg RemoteConfig) *RemoteBus {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RemoteBus{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:     cfg.Secret,
		httpClient: cfg.HTTPClient,
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger.With("component", "remote-bus"),
	}
}

// Publish posts the event to the relay.
func (b *RemoteBus) Publish(ctx context.Context, channel string, event Event) error {
	event.Channel = channel
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	endpoint := b.baseURL + "/relay/channels/" + url.PathEscape(channel) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RelaySecretHeader, b.secret)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("publishing to relay: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("relay rejected publish: %s", resp.Status)
	}
	return nil
}

// Subscribe opens an SSE stream on the relay. It returns once the relay has
// acknowledged the subscription with its response headers.
func (b *RemoteBus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	endpoint := b.baseURL + "/api/channels/" + url.PathEscape(channel) + "/events"
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating subscribe request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to relay: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("relay rejected subscription: %s", resp.Status)
	}

	events := make(chan Event, b.bufferSize)
	subID := uuid.New().String()

	go func() {
		defer close(events)
		defer resp.Body.Close()

		err := readSSE(resp.Body, func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-streamCtx.Done():
				return false
			}
		})
		if err != nil && streamCtx.Err() == nil {
			b.logger.Warn("relay stream ended", "channel", channel, "error", err)
		}
	}()

	b.logger.Debug("subscribed to relay", "channel", channel, "sub_id", subID)
	return newSubscription(subID, channel, events, cancel), nil
}
