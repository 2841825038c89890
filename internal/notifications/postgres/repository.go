// Package postgres provides the PostgreSQL implementation of the
// delivery record repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const recordColumns = `
	id, tenant_id, event_id, event_type, channel, recipient, subject, body,
	data, context, priority, state, retry_count, max_retries, failure_reason,
	provider_response, created_at, sent_at, next_attempt_at, claimed_at, read_at
`

// CreateRecord persists a new delivery record in PENDING state.
// Records that carry an event ID are idempotent per
// (tenant, event, channel, recipient): a duplicate insert returns
// ErrDuplicateDelivery without modifying the existing row.
func (r *Repository) CreateRecord(ctx context.Context, record *domain.DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (
			tenant_id, event_id, event_type, channel, recipient, subject, body,
			data, context, priority, state, retry_count, max_retries, next_attempt_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'PENDING', 0, $11, NOW())
		RETURNING id, state, retry_count, created_at, next_attempt_at
	`
	err := r.db.QueryRow(ctx, query,
		record.TenantID,
		record.EventID,
		record.EventType,
		record.Channel,
		record.Recipient,
		record.Subject,
		record.Body,
		record.Data,
		record.Context,
		record.Priority,
		record.MaxRetries,
	).Scan(&record.ID, &record.State, &record.RetryCount, &record.CreatedAt, &record.NextAttemptAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return notifications.ErrDuplicateDelivery
		}
		return fmt.Errorf("create delivery record: %w", err)
	}
	return nil
}

// GetRecordByID retrieves a delivery record scoped to the tenant.
func (r *Repository) GetRecordByID(ctx context.Context, tenantID, id string) (*domain.DeliveryRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM delivery_records
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`
	record, err := scanRecord(r.db.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	return record, nil
}

// ListRecords retrieves the tenant's delivery records matching the
// filter, newest first.
func (r *Repository) ListRecords(ctx context.Context, tenantID string, filter notifications.Filter) ([]domain.DeliveryRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM delivery_records
		WHERE tenant_id = $1 AND deleted_at IS NULL
	`
	args := []any{tenantID}

	if filter.Channel != "" {
		args = append(args, filter.Channel)
		query += fmt.Sprintf(" AND channel = $%d", len(args))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if filter.Recipient != "" {
		args = append(args, filter.Recipient)
		query += fmt.Sprintf(" AND recipient = $%d", len(args))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DeliveryRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ClaimDue claims up to limit due records for processing. SKIP LOCKED
// keeps concurrent workers from claiming the same row; the claimed_at
// stamp makes the claim visible for lease reclaim.
func (r *Repository) ClaimDue(ctx context.Context, limit int) ([]domain.DeliveryRecord, error) {
	query := `
		UPDATE delivery_records
		SET claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM delivery_records
			WHERE state IN ('PENDING', 'RETRYING')
			  AND next_attempt_at <= NOW()
			  AND claimed_at IS NULL
			  AND deleted_at IS NULL
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + recordColumns + `
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DeliveryRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ExtendClaim refreshes the lease on a claimed record. The previous
// claimed_at value is a fencing token: once the reclaim loop or another
// worker has touched the claim the update matches nothing and the
// caller learns it lost the record.
func (r *Repository) ExtendClaim(ctx context.Context, id string, claimedAt time.Time) (time.Time, error) {
	query := `
		UPDATE delivery_records
		SET claimed_at = NOW()
		WHERE id = $1 AND claimed_at = $2
		  AND state IN ('PENDING', 'RETRYING')
		RETURNING claimed_at
	`
	var renewed time.Time
	if err := r.db.QueryRow(ctx, query, id, claimedAt).Scan(&renewed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, notifications.ErrClaimLost
		}
		return time.Time{}, fmt.Errorf("extend delivery claim: %w", err)
	}
	return renewed, nil
}

// MarkSucceeded moves an in-flight record to SUCCESS.
func (r *Repository) MarkSucceeded(ctx context.Context, id, providerResponse string) error {
	query := `
		UPDATE delivery_records
		SET state = 'SUCCESS', sent_at = NOW(), provider_response = $2,
		    failure_reason = NULL, claimed_at = NULL
		WHERE id = $1 AND state IN ('PENDING', 'RETRYING')
	`
	return r.transition(ctx, query, id, providerResponse)
}

// MarkRetrying schedules the next attempt for an in-flight record.
func (r *Repository) MarkRetrying(ctx context.Context, id string, reason domain.FailureReason, providerResponse string, nextAttemptAt time.Time) error {
	query := `
		UPDATE delivery_records
		SET state = 'RETRYING', retry_count = retry_count + 1,
		    failure_reason = $2, provider_response = $3,
		    next_attempt_at = $4, claimed_at = NULL
		WHERE id = $1 AND state IN ('PENDING', 'RETRYING')
	`
	return r.transition(ctx, query, id, reason, providerResponse, nextAttemptAt)
}

// MarkFailed moves an in-flight record to FAILED.
func (r *Repository) MarkFailed(ctx context.Context, id string, reason domain.FailureReason, providerResponse string) error {
	query := `
		UPDATE delivery_records
		SET state = 'FAILED', failure_reason = $2, provider_response = $3,
		    claimed_at = NULL
		WHERE id = $1 AND state IN ('PENDING', 'RETRYING')
	`
	return r.transition(ctx, query, id, reason, providerResponse)
}

// transition runs a guarded state update. Zero affected rows means the
// record is gone or already terminal.
func (r *Repository) transition(ctx context.Context, query, id string, args ...any) error {
	result, err := r.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update delivery record: %w", err)
	}
	if result.RowsAffected() == 0 {
		exists, err := r.recordExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return notifications.ErrRecordNotFound
		}
		return notifications.ErrRecordTerminal
	}
	return nil
}

func (r *Repository) recordExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM delivery_records WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check delivery record: %w", err)
	}
	return exists, nil
}

// ReclaimStale releases claims stuck on a dead worker. The lost attempt
// spends one retry; records whose budget is already exhausted go
// straight to FAILED so retry_count never passes max_retries.
func (r *Repository) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE delivery_records
		SET state = CASE WHEN retry_count >= max_retries
		                 THEN 'FAILED' ELSE 'RETRYING' END,
		    retry_count = CASE WHEN retry_count >= max_retries
		                       THEN retry_count ELSE retry_count + 1 END,
		    failure_reason = CASE WHEN retry_count >= max_retries
		                          THEN 'INTERNAL_ERROR' ELSE failure_reason END,
		    claimed_at = NULL
		WHERE state IN ('PENDING', 'RETRYING')
		  AND claimed_at IS NOT NULL
		  AND claimed_at < NOW() - $1::interval
	`
	result, err := r.db.Exec(ctx, query, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return result.RowsAffected(), nil
}

// MarkRead stamps read_at on the recipient's in-app record. Already-read
// records keep their original read_at; repeat calls are a no-op.
func (r *Repository) MarkRead(ctx context.Context, tenantID, recipient, id string) error {
	query := `
		UPDATE delivery_records
		SET read_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND recipient = $3
		  AND channel = 'inapp' AND read_at IS NULL
	`
	result, err := r.db.Exec(ctx, query, id, tenantID, recipient)
	if err != nil {
		return fmt.Errorf("mark record read: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	record, err := r.GetRecordByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if record.Recipient != recipient {
		return notifications.ErrRecipientMismatch
	}
	return nil
}

// UnreadCount counts unread in-app records for the recipient. Records
// still pending delivery count too: the recipient simply has not seen
// them yet.
func (r *Repository) UnreadCount(ctx context.Context, tenantID, recipient string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM delivery_records
		WHERE tenant_id = $1 AND recipient = $2 AND channel = 'inapp'
		  AND state IN ('PENDING', 'SUCCESS')
		  AND read_at IS NULL AND deleted_at IS NULL
	`
	if err := r.db.QueryRow(ctx, query, tenantID, recipient).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread records: %w", err)
	}
	return count, nil
}

// GetQueueStats returns record counts per state.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `
		SELECT state, COUNT(*)
		FROM delivery_records
		WHERE deleted_at IS NULL
		GROUP BY state
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &notifications.QueueStats{}
	for rows.Next() {
		var state domain.DeliveryState
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch state {
		case domain.DeliveryStatePending:
			stats.Pending = count
		case domain.DeliveryStateRetrying:
			stats.Retrying = count
		case domain.DeliveryStateSuccess:
			stats.Success = count
		case domain.DeliveryStateFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// scanRecord scans one delivery record row.
func scanRecord(row pgx.Row) (*domain.DeliveryRecord, error) {
	var record domain.DeliveryRecord
	err := row.Scan(
		&record.ID,
		&record.TenantID,
		&record.EventID,
		&record.EventType,
		&record.Channel,
		&record.Recipient,
		&record.Subject,
		&record.Body,
		&record.Data,
		&record.Context,
		&record.Priority,
		&record.State,
		&record.RetryCount,
		&record.MaxRetries,
		&record.FailureReason,
		&record.ProviderResponse,
		&record.CreatedAt,
		&record.SentAt,
		&record.NextAttemptAt,
		&record.ClaimedAt,
		&record.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}
