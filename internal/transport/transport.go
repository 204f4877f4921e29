// Package transport abstracts the upstream chat session. Pairing, reconnect
// and browser lifecycle belong to the session sidecar; this side only sends
// and asks about liveness.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"order-messenger/internal/resilience"
)

const sendTimeout = 30 * time.Second

// Transport is the single shared send channel. Implementations must accept
// one message at a time; callers never drive it in parallel.
type Transport interface {
	Send(ctx context.Context, phoneNumber, body string) error
	Connected(ctx context.Context) bool
}

// Bridge talks to the chat-session sidecar over its local HTTP API.
type Bridge struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewBridge(baseURL string, logger *zap.Logger) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: sendTimeout},
		logger:  logger,
	}
}

type sendRequest struct {
	Phone string `json:"phone"`
	Body  string `json:"body"`
}

type statusResponse struct {
	Connected bool `json:"connected"`
}

// Send posts one message to the sidecar. Non-2xx responses surface as
// HTTPError so the resilience layer can classify retriability.
func (b *Bridge) Send(ctx context.Context, phoneNumber, body string) error {
	payload, err := json.Marshal(sendRequest{Phone: phoneNumber, Body: body})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &resilience.HTTPError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("transport send rejected: %s", string(msg)),
		}
	}
	return nil
}

// Connected asks the sidecar for session liveness. Any failure reads as
// not-connected; the engine treats that as "queue now, drain later".
func (b *Bridge) Connected(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/status", nil)
	if err != nil {
		return false
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Debug("transport status check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false
	}
	return status.Connected
}
