// Package statuscache implements the Status Cache (C8): a read-through
// Redis cache in front of the outbox store's point read, grounded on
// the teacher's own cache-aside GetNotificationStatusByID in
// service.go, adapted to front the outbox instead of the repository
// and to cache the full status projection instead of a bare string.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/pushbox/outbox-dispatcher/internal/model"
)

const keyPrefix = "notif:status:"

// outboxStore is the subset of the outbox store the cache falls back to.
type outboxStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.NotificationMessage, error)
}

// client is the subset of a go-redis client the cache needs, satisfied
// directly by the *redis.Client wb-go/wbf/redis.New returns.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
}

// Cache is the read-through status cache (C8). Cache errors never fail
// a request; they degrade to a direct store read.
type Cache struct {
	store    outboxStore
	client   client
	strategy retry.Strategy
	ttl      time.Duration
}

// New builds a Cache with the given retry strategy for transient Redis
// failures and a TTL. There is no explicit invalidation: a terminal write
// from the dispatcher becomes visible once the cached entry expires, at
// most one TTL later.
func New(store outboxStore, client client, strategy retry.Strategy, ttl time.Duration) *Cache {
	return &Cache{store: store, client: client, strategy: strategy, ttl: ttl}
}

// entry is the JSON projection cached under notif:status:<id>.
type entry struct {
	ID             uuid.UUID   `json:"id"`
	Status         model.Status `json:"status"`
	TargetPlatform string      `json:"targetPlatform"`
	RetryCount     int         `json:"retryCount"`
	CreatedAt      time.Time   `json:"createdAt"`
	SentAt         *time.Time  `json:"sentAt,omitempty"`
	LastError      *string     `json:"lastError,omitempty"`
}

// GetStatus resolves id's current projection, consulting Redis first
// and populating it from the outbox store on miss.
func (c *Cache) GetStatus(ctx context.Context, id uuid.UUID) (*model.NotificationMessage, error) {
	key := keyPrefix + id.String()

	var raw string
	err := retry.Do(func() error {
		var getErr error
		raw, getErr = c.client.Get(ctx, key).Result()
		return getErr
	}, c.strategy)

	if err == nil {
		var e entry
		if jsonErr := json.Unmarshal([]byte(raw), &e); jsonErr == nil {
			return e.toModel(), nil
		}
		zlog.Logger.Warn().Str("id", id.String()).Msg("statuscache: corrupt cache entry, falling back to store")
	} else if !errors.Is(err, redis.Nil) {
		zlog.Logger.Warn().Err(err).Str("id", id.String()).Msg("statuscache: redis read failed, falling back to store")
	}

	notif, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.put(ctx, notif)
	return notif, nil
}

// put best-effort writes notif's projection with the configured TTL.
// Failures are logged, never propagated.
func (c *Cache) put(ctx context.Context, notif *model.NotificationMessage) {
	body, err := json.Marshal(fromModel(notif))
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("statuscache: failed to marshal cache entry")
		return
	}

	err = retry.Do(func() error {
		return c.client.Set(ctx, keyPrefix+notif.ID.String(), body, c.ttl).Err()
	}, c.strategy)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("id", notif.ID.String()).Msg("statuscache: cache write failed, degrading to store-only")
	}
}

func fromModel(n *model.NotificationMessage) entry {
	return entry{
		ID:             n.ID,
		Status:         n.Status,
		TargetPlatform: n.TargetPlatform,
		RetryCount:     n.RetryCount,
		CreatedAt:      n.CreatedAt,
		SentAt:         n.SentAt,
		LastError:      n.LastError,
	}
}

func (e entry) toModel() *model.NotificationMessage {
	return &model.NotificationMessage{
		ID:             e.ID,
		Status:         e.Status,
		TargetPlatform: e.TargetPlatform,
		RetryCount:     e.RetryCount,
		CreatedAt:      e.CreatedAt,
		SentAt:         e.SentAt,
		LastError:      e.LastError,
	}
}
