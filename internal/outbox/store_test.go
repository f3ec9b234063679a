package outbox

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"

	"github.com/pushbox/outbox-dispatcher/internal/model"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return New(&dbpg.DB{Master: db}), mock
}

func sampleMessage() model.NotificationMessage {
	now := time.Now().UTC()
	return model.NotificationMessage{
		ID:             uuid.New(),
		IdempotencyKey: "key-1",
		TargetPlatform: "fake",
		DeviceToken:    "token-1",
		Title:          "hello",
		Body:           "world",
		Priority:       model.PriorityNormal,
		Status:         model.StatusPending,
		MaxRetries:     model.DefaultMaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestInsert_Success(t *testing.T) {
	store, mock := setupMockStore(t)
	n := sampleMessage()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notifications`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Insert(context.Background(), n)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_Conflict(t *testing.T) {
	store, mock := setupMockStore(t)
	n := sampleMessage()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notifications`)).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Insert(context.Background(), n)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetByID_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(selectColumns + ` WHERE id = $1`)).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByID_Found(t *testing.T) {
	store, mock := setupMockStore(t)
	n := sampleMessage()

	rows := sqlmock.NewRows([]string{
		"id", "idempotency_key", "target_platform", "device_token", "title", "body",
		"data", "tags", "priority", "status", "retry_count", "max_retries",
		"created_at", "updated_at", "scheduled_for", "sent_at", "last_attempt_utc",
		"next_attempt_utc", "last_error", "last_error_category",
	}).AddRow(
		n.ID, n.IdempotencyKey, n.TargetPlatform, n.DeviceToken, n.Title, n.Body,
		nil, nil, string(n.Priority), string(n.Status), n.RetryCount, n.MaxRetries,
		n.CreatedAt, n.UpdatedAt, nil, nil, nil, nil, nil, nil,
	)

	mock.ExpectQuery(regexp.QuoteMeta(selectColumns + ` WHERE id = $1`)).
		WithArgs(n.ID).
		WillReturnRows(rows)

	got, err := store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestMarkSent_NotFoundWhenNotProcessing(t *testing.T) {
	store, mock := setupMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkSent(context.Background(), id, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkFailed_IncrementsAndSchedulesNextAttempt(t *testing.T) {
	store, mock := setupMockStore(t)
	id := uuid.New()
	now := time.Now()
	next := now.Add(5 * time.Second)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications`)).
		WithArgs(id, next, "boom", string(model.CategoryServiceUnavailable), now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.MarkFailed(context.Background(), id, now, next, "boom", model.CategoryServiceUnavailable)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDeadLettered_IncrementAttemptToggle(t *testing.T) {
	store, mock := setupMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.MarkDeadLettered(context.Background(), id, now, "platform not supported", model.CategoryPlatformNotSupported, false)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPending_EmptyResult(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(claimPendingQuery)).
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	rows, err := store.ClaimPending(context.Background(), 10, now)
	assert.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPending_ClaimsAndReturnsRows(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now()
	n := sampleMessage()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(claimPendingQuery)).
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(n.ID))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	claimedRows := sqlmock.NewRows([]string{
		"id", "idempotency_key", "target_platform", "device_token", "title", "body",
		"data", "tags", "priority", "status", "retry_count", "max_retries",
		"created_at", "updated_at", "scheduled_for", "sent_at", "last_attempt_utc",
		"next_attempt_utc", "last_error", "last_error_category",
	}).AddRow(
		n.ID, n.IdempotencyKey, n.TargetPlatform, n.DeviceToken, n.Title, n.Body,
		nil, nil, string(n.Priority), "Processing", n.RetryCount, n.MaxRetries,
		n.CreatedAt, n.UpdatedAt, nil, nil, now, nil, nil, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = ANY($1::uuid[]) ORDER BY created_at ASC`)).
		WillReturnRows(claimedRows)
	mock.ExpectCommit()

	rows, err := store.ClaimPending(context.Background(), 10, now)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusProcessing, rows[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

