// Package wns implements the Windows push provider: OAuth2
// client-credentials bearer tokens (proactively refreshed before
// expiry, safe under concurrent sends) POSTing an XML toast payload.
package wns

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/wb-go/wbf/zlog"

	"github.com/pushbox/outbox-dispatcher/internal/model"
	"github.com/pushbox/outbox-dispatcher/internal/provider"
)

// refreshMargin is how long before expiry the cached token is considered
// stale and eagerly refreshed, per the spec's "refresh >=5 min before
// expiry" design note.
const refreshMargin = 5 * time.Minute

// Config holds the OAuth2 client-credentials parameters and the push
// endpoint for the Windows Notification Service backend.
type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	TokenURL     string
	PushURL      string // per-device-token channel URI template is supplied by the caller via token
	Timeout      time.Duration
}

// Provider sends XML toast notifications to WNS channel URIs.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	tokenCfg   *clientcredentials.Config

	mu    sync.Mutex
	cache *oauth2.Token
}

// New builds a WNS provider. The OAuth2 client-credentials config is
// built eagerly but tokens are only fetched lazily on first Send.
func New(cfg Config) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	ccCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}

	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokenCfg:   ccCfg,
	}
}

func (p *Provider) Name() string { return "wns" }

// toastXML is escaped via encoding/xml.Marshal so title/body cannot
// inject markup into the payload.
type toastXML struct {
	XMLName xml.Name `xml:"toast"`
	Visual  visual   `xml:"visual"`
}

type visual struct {
	Binding binding `xml:"binding"`
}

type binding struct {
	Template string      `xml:"template,attr"`
	Texts    []toastText `xml:"text"`
}

type toastText struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

// Send acquires a bearer token (refreshing if stale) and POSTs an XML
// toast to token, which is the device's WNS channel URI.
func (p *Provider) Send(ctx context.Context, token, title, body string, data map[string]string) provider.Result {
	tok, err := p.bearerToken(ctx)
	if err != nil {
		return provider.Failure(model.CategoryNetworkError, 0, fmt.Sprintf("wns: acquire token: %v", err))
	}

	payload, err := xml.Marshal(toastXML{
		Visual: visual{Binding: binding{
			Template: "ToastText02",
			Texts: []toastText{
				{ID: "1", Value: title},
				{ID: "2", Value: body},
			},
		}},
	})
	if err != nil {
		return provider.Failure(model.CategoryInvalidPayload, 0, fmt.Sprintf("wns: marshal toast: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, token, bytes.NewReader(payload))
	if err != nil {
		return provider.Failure(model.CategoryInvalidPayload, 0, fmt.Sprintf("wns: build request: %v", err))
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("X-WNS-Type", "wns/toast")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			return provider.Failure(model.CategoryNetworkError, 0, fmt.Sprintf("wns: call cancelled or timed out: %v", err))
		}
		return provider.Failure(model.CategoryNetworkError, 0, fmt.Sprintf("wns: send request: %v", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return provider.Success()
	}

	zlog.Logger.Warn().
		Int("status", resp.StatusCode).
		Str("provider", "wns").
		Str("body", string(respBody)).
		Msg("wns backend returned non-2xx")

	return provider.Failure(provider.MapStatusCode(resp.StatusCode), resp.StatusCode, fmt.Sprintf("wns: backend returned %s: %s", resp.Status, string(respBody)))
}

// bearerToken returns a valid access token, refreshing it if the cached
// one is absent or within refreshMargin of expiry. Readers that lose the
// refresh race simply take the lock after the winner and observe the
// fresh token; there is at most one in-flight refresh at a time because
// the whole check-and-refresh runs under mu.
func (p *Provider) bearerToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cache != nil && time.Until(p.cache.Expiry) > refreshMargin {
		return p.cache.AccessToken, nil
	}

	tok, err := p.tokenCfg.Token(ctx)
	if err != nil {
		return "", err
	}

	p.cache = tok
	return tok.AccessToken, nil
}
