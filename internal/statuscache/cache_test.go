package statuscache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/pushbox/outbox-dispatcher/internal/model"
)

type fakeRedis struct {
	values map[string]string
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	v, ok := f.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	b, ok := value.([]byte)
	if !ok {
		b, _ = json.Marshal(value)
	}
	f.values[key] = string(b)
	cmd.SetVal("OK")
	return cmd
}

type fakeStore struct {
	row *model.NotificationMessage
}

func (f *fakeStore) GetByID(context.Context, uuid.UUID) (*model.NotificationMessage, error) {
	return f.row, nil
}

func TestGetStatus_CacheMiss_PopulatesFromStore(t *testing.T) {
	id := uuid.New()
	row := &model.NotificationMessage{ID: id, Status: model.StatusSent, TargetPlatform: "fake", CreatedAt: time.Now().UTC()}

	redisFake := &fakeRedis{values: map[string]string{}}
	c := New(&fakeStore{row: row}, redisFake, retry.Strategy{Attempts: 1}, 10*time.Second)

	got, err := c.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Contains(t, redisFake.values, keyPrefix+id.String())
}

func TestGetStatus_CacheHit_SkipsStore(t *testing.T) {
	id := uuid.New()
	cached := entry{ID: id, Status: model.StatusDeadLettered, TargetPlatform: "wns", RetryCount: 3}
	body, err := json.Marshal(cached)
	require.NoError(t, err)

	redisFake := &fakeRedis{values: map[string]string{keyPrefix + id.String(): string(body)}}
	c := New(nil, redisFake, retry.Strategy{Attempts: 1}, 10*time.Second)

	got, err := c.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeadLettered, got.Status)
	assert.Equal(t, 3, got.RetryCount)
}
