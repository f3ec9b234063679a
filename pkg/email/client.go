// Package email adapts SMTP delivery to the dispatcher's Provider
// contract, demonstrating the registry's extensibility claim
// ("extensible to Slack/SMS/email" in the design overview). It is not
// one of the two required real providers (WNS, FCM) but registers
// alongside them the same way.
package email

import (
	"context"
	"time"

	"gopkg.in/mail.v2"

	"github.com/pushbox/outbox-dispatcher/internal/model"
	"github.com/pushbox/outbox-dispatcher/internal/provider"
)

// Provider sends push bodies as plain-text email via SMTP.
type Provider struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	timeout  time.Duration
}

// New builds an email Provider from SMTP credentials.
func New(smtpHost string, smtpPort int, username, password, from string) *Provider {
	return &Provider{
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		username: username,
		password: password,
		from:     from,
		timeout:  30 * time.Second,
	}
}

func (p *Provider) Name() string { return "email" }

// Send treats token as the recipient address. Cancellation is honored
// on a best-effort basis: mail.v2's dialer has no context parameter, so
// a cancelled ctx is checked before dialing but not mid-send.
func (p *Provider) Send(ctx context.Context, token, title, body string, data map[string]string) provider.Result {
	if err := ctx.Err(); err != nil {
		return provider.Failure(model.CategoryNetworkError, 0, "email: context already done: "+err.Error())
	}

	message := mail.NewMessage()
	message.SetHeader("From", p.from)
	message.SetHeader("To", token)
	message.SetHeader("Subject", title)
	message.SetBody("text/plain", body)

	dialer := mail.NewDialer(p.smtpHost, p.smtpPort, p.username, p.password)

	if err := dialer.DialAndSend(message); err != nil {
		return provider.Failure(model.CategoryNetworkError, 0, "email: send: "+err.Error())
	}

	return provider.Success()
}
