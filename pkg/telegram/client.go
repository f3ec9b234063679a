// Package telegram adapts the Telegram Bot API to the dispatcher's
// Provider contract — a second extensibility demo alongside pkg/email,
// registered under the "telegram" platform name.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pushbox/outbox-dispatcher/internal/model"
	"github.com/pushbox/outbox-dispatcher/internal/provider"
)

// Provider sends push bodies as Telegram Bot API messages.
type Provider struct {
	token  string
	client *http.Client
}

// New builds a Telegram Provider from a bot token.
func New(token string) *Provider {
	return &Provider{
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Provider) Name() string { return "telegram" }

// sendMessageRequest is the payload for the Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Send posts title and body (joined) to the chat id given as token.
func (p *Provider) Send(ctx context.Context, token, title, body string, data map[string]string) provider.Result {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", p.token)

	reqBody, err := json.Marshal(sendMessageRequest{
		ChatID: token,
		Text:   title + "\n" + body,
	})
	if err != nil {
		return provider.Failure(model.CategoryInvalidPayload, 0, "telegram: marshal request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return provider.Failure(model.CategoryInvalidPayload, 0, "telegram: build request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.Failure(model.CategoryNetworkError, 0, "telegram: send request: "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.Failure(provider.MapStatusCode(resp.StatusCode), resp.StatusCode, "telegram API error: "+resp.Status)
	}

	return provider.Success()
}
