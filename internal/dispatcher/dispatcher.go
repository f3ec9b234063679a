// Package dispatcher implements the polling dispatch loop (C5): it
// claims eligible outbox rows, routes each to a provider with bounded
// concurrency, interprets the result, and persists the next state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/pushbox/outbox-dispatcher/internal/model"
	"github.com/pushbox/outbox-dispatcher/internal/outbox"
	"github.com/pushbox/outbox-dispatcher/internal/provider"
)

// Store is the subset of the outbox store the dispatcher drives.
type Store interface {
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]model.NotificationMessage, error)
	ClaimFailed(ctx context.Context, limit int, now time.Time) ([]model.NotificationMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, now, nextAttempt time.Time, errMsg string, category model.FailureCategory) error
	MarkDeadLettered(ctx context.Context, id uuid.UUID, now time.Time, reason string, category model.FailureCategory, incrementAttempt bool) error
}

// Registry resolves a provider by platform name.
type Registry interface {
	Lookup(platform string) (provider.Provider, bool)
}

// RetryPolicy computes the next-attempt delay for a completed-attempt count.
type RetryPolicy interface {
	Delay(retryCount int) time.Duration
}

// DeadLetterEvent is the payload handed to the DeadLetterPublisher on
// every DeadLettered transition.
type DeadLetterEvent struct {
	ID         uuid.UUID
	Platform   string
	Category   model.FailureCategory
	LastError  string
	RetryCount int
}

// DeadLetterPublisher fans out terminal outcomes for operator visibility.
// It must never block or fail a dispatch; Publish has no error result,
// so implementations that cannot publish log the failure and drop the
// event.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, event DeadLetterEvent)
}

// Config holds the dispatcher's tunables, all with spec-documented defaults.
type Config struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxConcurrency int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 10, PollInterval: 5 * time.Second, MaxConcurrency: 10}
}

// Dispatcher runs the polling loop described in spec §4.5.
type Dispatcher struct {
	store      Store
	registry   Registry
	policy     RetryPolicy
	deadletter DeadLetterPublisher
	cfg        Config

	now func() time.Time // overridable for tests
}

// New builds a Dispatcher. deadletter may be nil, in which case dead-letter
// events are dropped without being logged.
func New(store Store, registry Registry, policy RetryPolicy, deadletter DeadLetterPublisher, cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}

	return &Dispatcher{
		store:      store,
		registry:   registry,
		policy:     policy,
		deadletter: deadletter,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes cycles every PollInterval until ctx is cancelled. Already
// started dispatches finish their current transaction before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.Cycle(ctx)

		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("dispatcher: shutting down")
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs exactly one poll: claim pending rows, schedule their
// dispatch, then claim failed rows eligible for retry and schedule
// those, waiting for every scheduled dispatch in the cycle to finish
// before returning.
func (d *Dispatcher) Cycle(ctx context.Context) {
	now := d.now()

	sem := make(chan struct{}, d.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	schedule := func(rows []model.NotificationMessage) {
		for _, row := range rows {
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func(row model.NotificationMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				d.dispatch(ctx, row)
			}(row)
		}
	}

	pending, err := d.store.ClaimPending(ctx, d.cfg.BatchSize, now)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("dispatcher: claim pending failed")
	} else {
		schedule(pending)
	}

	failed, err := d.store.ClaimFailed(ctx, d.cfg.BatchSize, now)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("dispatcher: claim failed failed")
	} else {
		schedule(failed)
	}

	wg.Wait()
}

// dispatch drives one claimed row (already Processing) through a single
// provider attempt and persists the resulting transition.
func (d *Dispatcher) dispatch(ctx context.Context, row model.NotificationMessage) {
	p, ok := d.registry.Lookup(row.TargetPlatform)
	if !ok {
		d.deadLetter(ctx, row, "no provider registered for platform", model.CategoryPlatformNotSupported, false)
		return
	}

	data, err := outbox.DecodeData(row.Data)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("id", row.ID.String()).Msg("dispatcher: failed to parse data, continuing with empty map")
		data = map[string]string{}
	}

	result := d.safeSend(ctx, p, row.DeviceToken, row.Title, row.Body, data)

	now := d.now()

	switch {
	case result.Ok:
		if err := d.store.MarkSent(ctx, row.ID, now); err != nil {
			d.logAbandon(row.ID, "mark sent", err)
		}

	case !result.Retryable:
		d.deadLetter(ctx, row, result.Message, result.Category, true)

	default:
		newRetryCount := row.RetryCount + 1
		if newRetryCount >= row.MaxRetries {
			d.deadLetter(ctx, row, result.Message, result.Category, true)
			return
		}

		next := now.Add(d.policy.Delay(newRetryCount))
		if err := d.store.MarkFailed(ctx, row.ID, now, next, result.Message, result.Category); err != nil {
			d.logAbandon(row.ID, "mark failed", err)
		}
	}
}

// safeSend calls the provider, converting a panic into the retryable
// Unknown category (spec §4.5 step 8) and refusing to report Ok if ctx
// was cancelled mid-call (spec §5's cancellation guarantee).
func (d *Dispatcher) safeSend(ctx context.Context, p provider.Provider, token, title, body string, data map[string]string) (res provider.Result) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Logger.Error().Interface("panic", r).Msg("dispatcher: provider send panicked")
			res = provider.Failure(model.CategoryUnknown, 0, fmt.Sprintf("provider panicked: %v", r))
		}
	}()

	res = p.Send(ctx, token, title, body, data)

	if res.Ok && ctx.Err() != nil {
		return provider.Failure(model.CategoryUnknown, 0, "context cancelled during send; cannot confirm delivery")
	}

	return res
}

func (d *Dispatcher) deadLetter(ctx context.Context, row model.NotificationMessage, message string, category model.FailureCategory, incrementAttempt bool) {
	now := d.now()

	if err := d.store.MarkDeadLettered(ctx, row.ID, now, message, category, incrementAttempt); err != nil {
		d.logAbandon(row.ID, "mark dead-lettered", err)
		return
	}

	if d.deadletter != nil {
		d.deadletter.Publish(ctx, DeadLetterEvent{
			ID:         row.ID,
			Platform:   row.TargetPlatform,
			Category:   category,
			LastError:  message,
			RetryCount: row.RetryCount,
		})
	}
}

func (d *Dispatcher) logAbandon(id uuid.UUID, op string, err error) {
	if errors.Is(err, outbox.ErrNotFound) {
		zlog.Logger.Warn().Str("id", id.String()).Str("op", op).Msg("dispatcher: lost claim race, abandoning silently")
		return
	}
	zlog.Logger.Error().Err(err).Str("id", id.String()).Str("op", op).Msg("dispatcher: store write failed, row left for next cycle")
}
