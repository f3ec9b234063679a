package deadletter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushbox/outbox-dispatcher/internal/dispatcher"
	"github.com/pushbox/outbox-dispatcher/internal/model"
)

func TestEnvelopeFor_CarriesAllFields(t *testing.T) {
	id := uuid.New()
	event := dispatcher.DeadLetterEvent{
		ID:         id,
		Platform:   "wns",
		Category:   model.CategoryInvalidToken,
		LastError:  "404 not found",
		RetryCount: 1,
	}

	e := envelopeFor(event)

	body, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, id.String(), decoded["id"])
	assert.Equal(t, "wns", decoded["platform"])
	assert.Equal(t, "InvalidToken", decoded["category"])
	assert.Equal(t, "404 not found", decoded["last_error"])
	assert.Equal(t, float64(1), decoded["retry_count"])
}

func TestNoOp_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		NoOp{}.Publish(context.Background(), dispatcher.DeadLetterEvent{ID: uuid.New()})
	})
}
