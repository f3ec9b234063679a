// Package fcm implements the Firebase-style push provider: a bearer
// token sent with a JSON payload over plain net/http, in the same thin
// HTTP-client idiom the teacher uses for its Telegram client.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/pushbox/outbox-dispatcher/internal/model"
	"github.com/pushbox/outbox-dispatcher/internal/provider"
)

// Config holds the static credentials and endpoint for the FCM-style backend.
type Config struct {
	ProjectID string
	ServerKey string
	Endpoint  string // defaults to the legacy-style send endpoint if empty
	Timeout   time.Duration
}

const defaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// Provider sends JSON push payloads with a bearer-token Authorization header.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New builds an FCM-style provider from cfg, defaulting the endpoint and
// outer call timeout per the spec's suggested 30s deadline.
func New(cfg Config) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *Provider) Name() string { return "fcm" }

type sendRequest struct {
	To           string            `json:"to"`
	Notification notificationBlock `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type notificationBlock struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send POSTs a JSON payload to the configured endpoint with the server
// key as a bearer token, then maps the HTTP response per the shared
// backend error-mapping table.
func (p *Provider) Send(ctx context.Context, token, title, body string, data map[string]string) provider.Result {
	reqBody, err := json.Marshal(sendRequest{
		To:           token,
		Notification: notificationBlock{Title: title, Body: body},
		Data:         data,
	})
	if err != nil {
		return provider.Failure(model.CategoryInvalidPayload, 0, fmt.Sprintf("fcm: marshal payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return provider.Failure(model.CategoryInvalidPayload, 0, fmt.Sprintf("fcm: build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.ServerKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			return provider.Failure(model.CategoryNetworkError, 0, fmt.Sprintf("fcm: call cancelled or timed out: %v", err))
		}
		return provider.Failure(model.CategoryNetworkError, 0, fmt.Sprintf("fcm: send request: %v", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return provider.Success()
	}

	zlog.Logger.Warn().
		Int("status", resp.StatusCode).
		Str("provider", "fcm").
		Str("body", string(respBody)).
		Msg("fcm backend returned non-2xx")

	return provider.Failure(provider.MapStatusCode(resp.StatusCode), resp.StatusCode, fmt.Sprintf("fcm: backend returned %s: %s", resp.Status, string(respBody)))
}
