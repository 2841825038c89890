package notifications

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/heraldhq/herald/internal/domain"
)

// WorkerConfig contains worker pool configuration.
type WorkerConfig struct {
	NumWorkers        int
	BatchSize         int
	PollInterval      time.Duration
	ClaimTimeout      time.Duration
	SendTimeout       time.Duration
	InAppTimeout      time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFraction    float64
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:        16,
		BatchSize:         100,
		PollInterval:      5 * time.Second,
		ClaimTimeout:      2 * time.Minute,
		SendTimeout:       30 * time.Second,
		InAppTimeout:      5 * time.Second,
		InitialBackoff:    time.Minute,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.25,
	}
}

// LifecycleNotifier receives terminal delivery outcomes, e.g. to publish
// them back to the event log.
type LifecycleNotifier interface {
	NotificationSent(record *domain.DeliveryRecord)
	NotificationFailed(record *domain.DeliveryRecord, cause string)
}

// maxProviderResponse bounds the provider response stored on a record.
const maxProviderResponse = 1000

// Worker drains the delivery queue: it claims due records, renders their
// content against current branding and pushes them through the
// dispatcher, applying the retry state machine on failure.
type Worker struct {
	config     WorkerConfig
	repo       Repository
	dispatcher *Dispatcher
	renderer   *Renderer
	tenants    TenantDirectory
	lifecycle  LifecycleNotifier // nil when no lifecycle topic is configured

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a delivery worker pool.
func NewWorker(config WorkerConfig, repo Repository, dispatcher *Dispatcher, renderer *Renderer, tenants TenantDirectory, lifecycle LifecycleNotifier) *Worker {
	return &Worker{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
		renderer:   renderer,
		tenants:    tenants,
		lifecycle:  lifecycle,
		stopCh:     make(chan struct{}),
	}
}

// Start reclaims stale claims from a previous run and launches the worker
// goroutines plus the periodic reclaim loop.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting delivery workers",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
	)

	w.reclaim(ctx)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}

	w.wg.Add(1)
	go w.reclaimLoop(ctx)
}

// Stop gracefully stops all workers; in-flight records finish first.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("delivery workers stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, workerID)
		}
	}
}

// reclaimLoop periodically returns abandoned claims to the queue.
func (w *Worker) reclaimLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ClaimTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.reclaim(ctx)
		}
	}
}

func (w *Worker) reclaim(ctx context.Context) {
	reclaimed, err := w.repo.ReclaimStale(ctx, w.config.ClaimTimeout)
	if err != nil {
		slog.Error("failed to reclaim stale claims", "error", err)
		return
	}
	if reclaimed > 0 {
		slog.Warn("reclaimed stale delivery claims", "count", reclaimed)
	}
}

func (w *Worker) processBatch(ctx context.Context, workerID int) {
	records, err := w.repo.ClaimDue(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to claim due records", "worker", workerID, "error", err)
		return
	}

	if len(records) == 0 {
		return
	}

	slog.Debug("processing delivery records", "worker", workerID, "count", len(records))
	recordQueueClaimed(len(records))

	for i := range records {
		record := &records[i]
		if !w.renewClaim(ctx, record) {
			continue
		}
		w.processRecord(ctx, record)
	}
}

// renewClaim refreshes the record's lease right before processing.
// Records late in a large batch can otherwise sit past the claim
// timeout while earlier sends run; once the reclaim loop has returned
// a record to the queue, sending it here too would duplicate the
// delivery.
func (w *Worker) renewClaim(ctx context.Context, record *domain.DeliveryRecord) bool {
	if record.ClaimedAt == nil {
		return true
	}

	renewed, err := w.repo.ExtendClaim(ctx, record.ID, *record.ClaimedAt)
	if err != nil {
		if errors.Is(err, ErrClaimLost) {
			slog.Warn("delivery claim lost, skipping record", "record_id", record.ID)
		} else {
			slog.Error("failed to extend delivery claim", "record_id", record.ID, "error", err)
		}
		return false
	}

	record.ClaimedAt = &renewed
	return true
}

func (w *Worker) processRecord(ctx context.Context, record *domain.DeliveryRecord) {
	start := time.Now()

	branding, err := w.tenants.Branding(ctx, record.TenantID)
	if err != nil {
		w.handleSendError(ctx, record, AsSendError(err))
		return
	}

	content := Content{Subject: record.Subject, Body: record.Body, Data: record.Data}
	rendered, err := w.renderer.Render(record.Channel, content, record.Context, branding)
	if err != nil {
		// Rendering is deterministic, a retry cannot help.
		w.handleSendError(ctx, record, NewPermanentSendError(domain.FailureReasonContent, "", err))
		return
	}
	rendered.RecordID = record.ID
	rendered.TenantID = record.TenantID
	rendered.Priority = record.Priority

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout(record.Channel))
	response, err := w.dispatcher.Dispatch(sendCtx, record, rendered)
	cancel()
	duration := time.Since(start)

	if err != nil {
		w.handleSendError(ctx, record, AsSendError(err))
		return
	}

	if err := w.repo.MarkSucceeded(ctx, record.ID, truncateResponse(response)); err != nil {
		slog.Error("failed to mark record succeeded", "record_id", record.ID, "error", err)
		return
	}

	recordDeliverySent(string(record.Channel), "success")
	recordDeliveryDuration(string(record.Channel), duration)

	if w.lifecycle != nil {
		now := time.Now().UTC()
		record.State = domain.DeliveryStateSuccess
		record.SentAt = &now
		w.lifecycle.NotificationSent(record)
	}

	slog.Debug("delivery record sent",
		"record_id", record.ID,
		"channel", record.Channel,
		"duration", duration,
	)
}

func (w *Worker) handleSendError(ctx context.Context, record *domain.DeliveryRecord, sendErr *SendError) {
	slog.Warn("delivery attempt failed",
		"record_id", record.ID,
		"channel", record.Channel,
		"attempt", record.RetryCount+1,
		"max_retries", record.MaxRetries,
		"reason", sendErr.Reason,
		"error", sendErr,
	)

	response := truncateResponse(sendErr.ProviderResponse)

	if !sendErr.IsRetryable() || record.RetryCount >= record.MaxRetries {
		if err := w.repo.MarkFailed(ctx, record.ID, sendErr.Reason, response); err != nil {
			slog.Error("failed to mark record failed", "record_id", record.ID, "error", err)
			return
		}
		recordDeliverySent(string(record.Channel), "failed")

		if w.lifecycle != nil {
			record.State = domain.DeliveryStateFailed
			w.lifecycle.NotificationFailed(record, sendErr.Error())
		}
		return
	}

	nextAttempt := time.Now().Add(w.backoff(record.RetryCount + 1))
	if err := w.repo.MarkRetrying(ctx, record.ID, sendErr.Reason, response, nextAttempt); err != nil {
		slog.Error("failed to mark record retrying", "record_id", record.ID, "error", err)
		return
	}
	recordDeliverySent(string(record.Channel), "retry")

	slog.Info("delivery scheduled for retry",
		"record_id", record.ID,
		"retry_count", record.RetryCount+1,
		"next_attempt_at", nextAttempt,
	)
}

func (w *Worker) sendTimeout(channel domain.ChannelType) time.Duration {
	if channel == domain.ChannelTypeInApp {
		return w.config.InAppTimeout
	}
	return w.config.SendTimeout
}

// backoff computes the delay before the given attempt: exponential from
// the initial backoff with jitter, capped at the maximum.
func (w *Worker) backoff(attempt int) time.Duration {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}
	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	if w.config.JitterFraction > 0 {
		jitter := 1 + w.config.JitterFraction*(2*rand.Float64()-1)
		backoff *= jitter
	}
	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Duration(backoff)
}

// truncateResponse bounds a provider response for storage.
func truncateResponse(response string) string {
	if len(response) <= maxProviderResponse {
		return response
	}
	return response[:maxProviderResponse]
}
