// Package outbox implements the durable outbox store (C1): the
// notifications table, its unique idempotency-key constraint, and the
// claim/advance operations the dispatcher drives its state machine
// through. Claims use SELECT ... FOR UPDATE SKIP LOCKED inside a single
// transaction, so multiple dispatcher processes can share one table
// without double-sending a row.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/pushbox/outbox-dispatcher/internal/model"
)

var (
	// ErrNotFound is returned by point reads when no row matches.
	ErrNotFound = errors.New("outbox: notification not found")
	// ErrConflict is returned by Insert when idempotency_key collides.
	ErrConflict = errors.New("outbox: idempotency key already exists")
)

const uniqueViolation = "23505"

// Store is the Postgres-backed outbox.
type Store struct {
	db *dbpg.DB
}

// New wraps an already-connected dbpg.DB.
func New(db *dbpg.DB) *Store {
	return &Store{db: db}
}

// Insert appends a new Pending row. notif.ID is assigned by the caller
// before Insert (so ingest can log/return it even if the insert races
// with another request on the idempotency key).
func (s *Store) Insert(ctx context.Context, notif model.NotificationMessage) error {
	query := `
		INSERT INTO notifications (
			id, idempotency_key, target_platform, device_token, title, body,
			data, tags, priority, status, retry_count, max_retries,
			created_at, updated_at, scheduled_for
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		notif.ID, notif.IdempotencyKey, notif.TargetPlatform, notif.DeviceToken,
		notif.Title, notif.Body, notif.Data, nullableTags(notif.Tags), string(notif.Priority),
		string(notif.Status), notif.RetryCount, notif.MaxRetries,
		notif.CreatedAt, notif.UpdatedAt, notif.ScheduledFor,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("outbox: insert: %w", err)
	}

	return nil
}

// GetByID returns the row with id, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*model.NotificationMessage, error) {
	row := s.db.Master.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	return scanRow(row)
}

// GetByIdempotencyKey returns the row with the given key, or ErrNotFound.
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*model.NotificationMessage, error) {
	row := s.db.Master.QueryRowContext(ctx, selectColumns+` WHERE idempotency_key = $1`, key)
	return scanRow(row)
}

// ClaimPending atomically selects up to limit Pending rows eligible now
// (scheduled_for is null or has passed), transitions them to Processing,
// and returns them. Ordered by created_at ascending.
func (s *Store) ClaimPending(ctx context.Context, limit int, now time.Time) ([]model.NotificationMessage, error) {
	return s.claim(ctx, limit, now, claimPendingQuery, claimPendingOrder)
}

// ClaimFailed atomically selects up to limit Failed rows whose retry
// budget is not exhausted and whose next_attempt_utc has passed (or is
// null), transitions them to Processing, and returns them. Ordered by
// next_attempt_utc ascending, falling back to updated_at when null.
func (s *Store) ClaimFailed(ctx context.Context, limit int, now time.Time) ([]model.NotificationMessage, error) {
	return s.claim(ctx, limit, now, claimFailedQuery, claimFailedOrder)
}

const (
	selectColumns = `
		SELECT id, idempotency_key, target_platform, device_token, title, body,
			data, tags, priority, status, retry_count, max_retries,
			created_at, updated_at, scheduled_for, sent_at, last_attempt_utc,
			next_attempt_utc, last_error, last_error_category
		FROM notifications`

	claimPendingQuery = `
		SELECT id FROM notifications
		WHERE status = 'Pending' AND (scheduled_for IS NULL OR scheduled_for <= $1)
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	claimFailedQuery = `
		SELECT id FROM notifications
		WHERE status = 'Failed' AND retry_count < max_retries
			AND (next_attempt_utc IS NULL OR next_attempt_utc <= $1)
		ORDER BY COALESCE(next_attempt_utc, updated_at) ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	claimPendingOrder = `created_at ASC`
	claimFailedOrder  = `COALESCE(next_attempt_utc, updated_at) ASC`
)

// claim runs the select-for-update-skip-locked + transition-to-Processing
// sequence as one transaction, satisfying the store's concurrency
// contract: the claim query and the state write commit together.
func (s *Store) claim(ctx context.Context, limit int, now time.Time, selectQuery, order string) ([]model.NotificationMessage, error) {
	tx, err := s.db.Master.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("outbox: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, selectQuery, now, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: select for claim: %w", err)
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("outbox: scan claim id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claim rows: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}

	updateQuery := `
		UPDATE notifications
		SET status = 'Processing', last_attempt_utc = $1, updated_at = $1
		WHERE id = ANY($2::uuid[])`

	if _, err := tx.ExecContext(ctx, updateQuery, now, pq.Array(idStrs)); err != nil {
		return nil, fmt.Errorf("outbox: mark processing on claim: %w", err)
	}

	selectClaimed := selectColumns + ` WHERE id = ANY($1::uuid[]) ORDER BY ` + order

	claimedRows, err := tx.QueryContext(ctx, selectClaimed, pq.Array(idStrs))
	if err != nil {
		return nil, fmt.Errorf("outbox: reselect claimed rows: %w", err)
	}
	defer claimedRows.Close()

	var result []model.NotificationMessage
	for claimedRows.Next() {
		n, err := scanInto(claimedRows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	if err := claimedRows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claimed rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("outbox: commit claim tx: %w", err)
	}

	return result, nil
}

// MarkProcessing performs a standalone CAS transition for manual/operator
// requeue paths; the claim path above already transitions atomically and
// does not need this. Returns ErrNotFound if status was not Pending/Failed.
func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'Processing', last_attempt_utc = $2, updated_at = $2
		WHERE id = $1 AND status IN ('Pending', 'Failed')`, id, now)
	if err != nil {
		return fmt.Errorf("outbox: mark processing: %w", err)
	}
	return requireRowsAffected(res)
}

// MarkSent transitions a Processing row to the terminal Sent state.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'Sent', sent_at = $2, updated_at = $2, last_error = NULL, last_error_category = NULL
		WHERE id = $1 AND status = 'Processing'`, id, now)
	if err != nil {
		return fmt.Errorf("outbox: mark sent: %w", err)
	}
	return requireRowsAffected(res)
}

// MarkFailed transitions a Processing row back to Failed, incrementing
// retry_count and recording the caller-computed next_attempt_utc (the
// dispatcher computes this from the RetryPolicy using the post-increment
// retry count, per spec §4.5 step 7).
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, now, nextAttempt time.Time, errMsg string, category model.FailureCategory) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'Failed', retry_count = retry_count + 1,
			next_attempt_utc = $2, last_error = $3, last_error_category = $4,
			updated_at = $5
		WHERE id = $1 AND status = 'Processing'`,
		id, nextAttempt, truncate(errMsg, model.MaxLastErrorLen), string(category), now)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return requireRowsAffected(res)
}

// MarkDeadLettered transitions a Processing row to the terminal
// DeadLettered state. incrementAttempt records whether a real provider
// attempt was made (true) or the row was dead-lettered without a send
// (e.g. PlatformNotSupported), matching spec §4.5 steps 2 vs 6/7.
func (s *Store) MarkDeadLettered(ctx context.Context, id uuid.UUID, now time.Time, reason string, category model.FailureCategory, incrementAttempt bool) error {
	query := `
		UPDATE notifications
		SET status = 'DeadLettered', last_error = $2, last_error_category = $3, updated_at = $4`
	if incrementAttempt {
		query += `, retry_count = retry_count + 1`
	}
	query += ` WHERE id = $1 AND status = 'Processing'`

	res, err := s.db.ExecContext(ctx, query, id, truncate(reason, model.MaxLastErrorLen), string(category), now)
	if err != nil {
		return fmt.Errorf("outbox: mark dead-lettered: %w", err)
	}
	return requireRowsAffected(res)
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func nullableTags(tags string) any {
	if tags == "" {
		return nil
	}
	return tags
}

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*model.NotificationMessage, error) {
	n, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("outbox: scan row: %w", err)
	}
	return n, nil
}

func scanInto(row rowScanner) (*model.NotificationMessage, error) {
	var (
		n            model.NotificationMessage
		data, tags   sql.NullString
		priority     string
		status       string
		scheduledFor sql.NullTime
		sentAt       sql.NullTime
		lastAttempt  sql.NullTime
		nextAttempt  sql.NullTime
		lastError    sql.NullString
		lastErrCat   sql.NullString
	)

	err := row.Scan(
		&n.ID, &n.IdempotencyKey, &n.TargetPlatform, &n.DeviceToken, &n.Title, &n.Body,
		&data, &tags, &priority, &status, &n.RetryCount, &n.MaxRetries,
		&n.CreatedAt, &n.UpdatedAt, &scheduledFor, &sentAt, &lastAttempt,
		&nextAttempt, &lastError, &lastErrCat,
	)
	if err != nil {
		return nil, err
	}

	n.Priority = model.Priority(priority)
	n.Status = model.Status(status)

	if data.Valid {
		n.Data = &data.String
	}
	if tags.Valid {
		n.Tags = tags.String
	}
	if scheduledFor.Valid {
		t := scheduledFor.Time
		n.ScheduledFor = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		n.LastAttemptUTC = &t
	}
	if nextAttempt.Valid {
		t := nextAttempt.Time
		n.NextAttemptUTC = &t
	}
	if lastError.Valid {
		n.LastError = &lastError.String
	}
	if lastErrCat.Valid {
		c := model.FailureCategory(lastErrCat.String)
		n.LastErrorCategory = &c
	}

	return &n, nil
}

// EncodeData serializes a string->string map to the opaque JSON text
// stored in the data column. A nil/empty map yields a nil pointer so
// ingest never writes a spurious "{}" for notifications without data.
func EncodeData(m map[string]string) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("outbox: encode data: %w", err)
	}
	s := string(b)
	return &s, nil
}

// DecodeData parses the opaque serialized data column back into a
// mapping. Used by the dispatcher (spec §4.5 step 3), not by ingest.
func DecodeData(raw *string) (map[string]string, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(*raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
