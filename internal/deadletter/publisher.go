// Package deadletter implements the Dead-Letter Publisher (C9): a
// best-effort fan-out of DeadLettered transitions onto a RabbitMQ
// exchange for operator tooling. It is never on the dispatch critical
// path — publish failures are logged and swallowed, never retried
// here, matching spec §9(c)'s "pick one retry layer" guidance.
//
// The exchange/queue topology is adapted from the teacher's
// rabbitmq/queue/notification.go DLQ declaration, repurposed: there the
// DLQ received messages that failed delivery through an in-process
// queue; here it receives a notification of an outbox row that the
// dispatcher has already, independently, decided to dead-letter.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/zlog"

	"github.com/pushbox/outbox-dispatcher/internal/dispatcher"
)

const routingKey = "deadlettered"

// envelope is the JSON body published for every DeadLettered transition.
type envelope struct {
	ID         string `json:"id"`
	Platform   string `json:"platform"`
	Category   string `json:"category"`
	LastError  string `json:"last_error"`
	RetryCount int    `json:"retry_count"`
}

// Publisher declares the notifications.dlq exchange once at construction
// and publishes one envelope per DeadLettered transition.
type Publisher struct {
	pub      *rabbitmq.Publisher
	exchange string
}

// New declares the exchange on ch and returns a ready Publisher.
func New(ch *rabbitmq.Channel, exchange string) (*Publisher, error) {
	ex := rabbitmq.NewExchange(exchange, "direct")
	if err := ex.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("deadletter: declare exchange: %w", err)
	}

	return &Publisher{
		pub:      rabbitmq.NewPublisher(ch, ex.Name()),
		exchange: exchange,
	}, nil
}

// Publish implements dispatcher.DeadLetterPublisher. It never blocks the
// dispatch cycle: a publish failure is logged at Warn and dropped.
func (p *Publisher) Publish(_ context.Context, event dispatcher.DeadLetterEvent) {
	body, err := json.Marshal(envelopeFor(event))
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("id", event.ID.String()).Msg("deadletter: failed to marshal envelope, dropping")
		return
	}

	if err := p.pub.Publish(body, routingKey, "application/json"); err != nil {
		zlog.Logger.Warn().Err(err).Str("id", event.ID.String()).Str("exchange", p.exchange).
			Msg("deadletter: publish failed, dropping (best-effort only)")
	}
}

func envelopeFor(event dispatcher.DeadLetterEvent) envelope {
	return envelope{
		ID:         event.ID.String(),
		Platform:   event.Platform,
		Category:   string(event.Category),
		LastError:  event.LastError,
		RetryCount: event.RetryCount,
	}
}

// NoOp is the disabled-by-default implementation: deadletter.enabled=false
// yields this instead of a real AMQP connection, per spec SPEC_FULL §4.9.
type NoOp struct{}

// Publish logs at Debug and does nothing else.
func (NoOp) Publish(_ context.Context, event dispatcher.DeadLetterEvent) {
	zlog.Logger.Debug().Str("id", event.ID.String()).Msg("deadletter: publisher disabled, dropping event")
}
