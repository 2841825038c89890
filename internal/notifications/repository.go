// Package notifications implements the delivery pipeline: the persistent
// delivery queue, the renderer, the dispatcher and the worker pool that
// drains the queue through the channel senders.
package notifications

import (
	"context"
	"time"

	"github.com/heraldhq/herald/internal/domain"
)

// Repository defines data access for delivery records.
type Repository interface {
	// CreateRecord persists a new record in PENDING state. When the record
	// carries an event ID and a row already exists for the same
	// (tenant, event, channel, recipient) it returns ErrDuplicateDelivery
	// and leaves the existing row untouched.
	CreateRecord(ctx context.Context, record *domain.DeliveryRecord) error
	GetRecordByID(ctx context.Context, tenantID, id string) (*domain.DeliveryRecord, error)
	ListRecords(ctx context.Context, tenantID string, filter Filter) ([]domain.DeliveryRecord, error)

	// ClaimDue atomically claims up to limit records that are due
	// (state PENDING or RETRYING, next_attempt_at in the past) by stamping
	// claimed_at. Claimed records are invisible to other workers.
	ClaimDue(ctx context.Context, limit int) ([]domain.DeliveryRecord, error)

	// ExtendClaim refreshes the lease on a claimed record. The claimed_at
	// value the worker holds acts as a fencing token: when the claim was
	// reclaimed or taken over in the meantime the call returns
	// ErrClaimLost and the worker must not process the record.
	ExtendClaim(ctx context.Context, id string, claimedAt time.Time) (time.Time, error)

	// MarkSucceeded moves a claimed record to SUCCESS and stamps sent_at.
	MarkSucceeded(ctx context.Context, id, providerResponse string) error
	// MarkRetrying schedules another attempt: increments retry_count,
	// records the failure and clears the claim.
	MarkRetrying(ctx context.Context, id string, reason domain.FailureReason, providerResponse string, nextAttemptAt time.Time) error
	// MarkFailed moves a record to FAILED with the final failure reason.
	MarkFailed(ctx context.Context, id string, reason domain.FailureReason, providerResponse string) error

	// ReclaimStale releases claims older than olderThan, so work lost to
	// a crashed worker is retried. The lost attempt counts against the
	// retry budget; records with no budget left become FAILED instead of
	// RETRYING. Returns the number of reclaimed records.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// MarkRead stamps read_at on an in-app record belonging to recipient.
	// Delivery state is not touched; terminal states stay immutable.
	MarkRead(ctx context.Context, tenantID, recipient, id string) error
	// UnreadCount counts the recipient's in-app records without read_at.
	UnreadCount(ctx context.Context, tenantID, recipient string) (int, error)

	// GetQueueStats returns record counts per state for metrics.
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}

// Filter narrows ListRecords results. Zero values mean "any".
type Filter struct {
	Channel   domain.ChannelType
	State     domain.DeliveryState
	Recipient string
	EventType string
	Limit     int
	Offset    int
}

// QueueStats holds record counts per delivery state.
type QueueStats struct {
	Pending  int64
	Retrying int64
	Success  int64
	Failed   int64
}
