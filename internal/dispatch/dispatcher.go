package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"postpilot/internal/domain"
	"postpilot/internal/events"
	"postpilot/internal/metrics"
	"postpilot/internal/models"

	"github.com/rs/zerolog"
)

// Dispatcher drives one batch cycle: select due posts, forward each to its
// delivery service under a bounded worker pool, record per-platform
// outcomes, and advance each post through the retry state machine.
type Dispatcher struct {
	posts       domain.PostStore
	registry    domain.ServiceRegistry
	assignments domain.AssignmentStore
	forwarder   domain.Forwarder
	eventBus    domain.EventPublisher

	batchSize    int
	workerCount  int
	retryCeiling int

	logger zerolog.Logger
}

// CycleStats summarizes one dispatch cycle.
type CycleStats struct {
	Selected  int
	Published int
	Retried   int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

func NewDispatcher(
	posts domain.PostStore,
	registry domain.ServiceRegistry,
	assignments domain.AssignmentStore,
	forwarder domain.Forwarder,
	eventBus domain.EventPublisher,
	batchSize, workerCount, retryCeiling int,
	logger *zerolog.Logger,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = models.DefaultBatchSize
	}
	if workerCount <= 0 {
		workerCount = models.DefaultWorkerCount
	}
	if retryCeiling <= 0 {
		retryCeiling = models.DefaultRetryCeiling
	}

	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "dispatcher").Logger()
	}

	return &Dispatcher{
		posts:        posts,
		registry:     registry,
		assignments:  assignments,
		forwarder:    forwarder,
		eventBus:     eventBus,
		batchSize:    batchSize,
		workerCount:  workerCount,
		retryCeiling: retryCeiling,
		logger:       base,
	}
}

// RunCycle executes one dispatch pass. A selection failure aborts the whole
// cycle with no posts mutated; per-post failures never affect the rest of
// the batch.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()

	// Posts left in publishing by a crashed process would otherwise never
	// be selected again.
	if n, err := d.posts.RequeueStalePublishing(ctx, start.Add(-models.StalePublishingAge)); err != nil {
		d.logger.Error().Err(err).Msg("requeue stale publishing posts")
	} else if n > 0 {
		d.logger.Warn().Int64("count", n).Msg("requeued posts abandoned in publishing")
	}

	due, err := d.posts.GetDuePosts(ctx, start, d.batchSize)
	if err != nil {
		return CycleStats{}, fmt.Errorf("select due posts: %w", err)
	}

	metrics.SetDueBatch(len(due))

	stats := CycleStats{Selected: len(due)}
	if len(due) == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan *models.ScheduledPost)

	for i := 0; i < d.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for post := range jobs {
				outcome := d.dispatchPost(ctx, post)
				mu.Lock()
				switch outcome {
				case outcomePublished:
					stats.Published++
				case outcomeRetried:
					stats.Retried++
				case outcomeFailed:
					stats.Failed++
				default:
					stats.Skipped++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, post := range due {
		select {
		case <-ctx.Done():
			// Stop handing out work; in-flight dispatches finish or
			// time out on their own.
			break feed
		case jobs <- post:
		}
	}
	close(jobs)
	wg.Wait()

	stats.Duration = time.Since(start)
	metrics.ObserveCycle(stats.Duration)

	d.logger.Info().
		Int("selected", stats.Selected).
		Int("published", stats.Published).
		Int("retried", stats.Retried).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Dur("duration", stats.Duration).
		Msg("dispatch cycle completed")

	return stats, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomePublished
	outcomeRetried
	outcomeFailed
)

func (d *Dispatcher) dispatchPost(ctx context.Context, post *models.ScheduledPost) outcome {
	claimed, err := d.posts.MarkPublishing(ctx, post.ID)
	if err != nil {
		d.logger.Error().Err(err).Int64("post_id", post.ID).Msg("claim post")
		return outcomeSkipped
	}
	if !claimed {
		// Status changed since selection; the post is no longer ours.
		return outcomeSkipped
	}

	svc, err := d.registry.GetActiveService(ctx, post.ServiceType)
	if err != nil {
		reason := fmt.Sprintf("no active delivery service for type %q: %v", post.ServiceType, err)
		return d.applyFailure(ctx, post, reason)
	}

	if err := d.forwarder.Forward(ctx, post, svc); err != nil {
		return d.applyFailure(ctx, post, err.Error())
	}
	return d.applySuccess(ctx, post)
}

func (d *Dispatcher) applySuccess(ctx context.Context, post *models.ScheduledPost) outcome {
	// The claim already happened; the outcome must land even when the
	// batch is being cancelled, or the post stays in publishing forever.
	ctx = context.WithoutCancel(ctx)
	sentAt := time.Now().UTC()

	if err := d.posts.MarkPublished(ctx, post.ID); err != nil {
		d.logger.Error().Err(err).Int64("post_id", post.ID).Msg("mark published")
		metrics.IncDispatch("error")
		return outcomeSkipped
	}

	// Assignment rows are an audit projection; failures here are logged
	// and never block the post-level transition.
	if err := d.assignments.MarkAssignmentsSent(ctx, post.ID, sentAt); err != nil {
		d.logger.Error().Err(err).Int64("post_id", post.ID).Msg("mark assignments sent")
	}

	metrics.IncDispatch("published")
	d.publishEvent(events.EventPostPublished, post, models.StatusPublished, post.RetryCount, "")

	d.logger.Info().
		Int64("post_id", post.ID).
		Str("public_id", post.PublicID).
		Str("service_type", post.ServiceType).
		Msg("post published")
	return outcomePublished
}

func (d *Dispatcher) applyFailure(ctx context.Context, post *models.ScheduledPost, reason string) outcome {
	// Same as applySuccess: a claimed post must always resolve.
	ctx = context.WithoutCancel(ctx)
	updated, err := d.posts.RecordFailedAttempt(ctx, post.ID, reason, d.retryCeiling)
	if err != nil {
		d.logger.Error().Err(err).Int64("post_id", post.ID).Msg("record failed attempt")
		metrics.IncDispatch("error")
		return outcomeSkipped
	}

	if err := d.assignments.MarkAssignmentsFailed(ctx, post.ID, reason); err != nil {
		d.logger.Error().Err(err).Int64("post_id", post.ID).Msg("mark assignments failed")
	}

	if updated.Status == models.StatusFailed {
		metrics.IncDispatch("failed")
		d.publishEvent(events.EventPostFailed, post, models.StatusFailed, updated.RetryCount, reason)
		d.logger.Warn().
			Int64("post_id", post.ID).
			Int("retry_count", updated.RetryCount).
			Str("reason", reason).
			Msg("post permanently failed")
		return outcomeFailed
	}

	metrics.IncDispatch("retried")
	d.logger.Warn().
		Int64("post_id", post.ID).
		Int("retry_count", updated.RetryCount).
		Str("reason", reason).
		Msg("dispatch failed, post re-queued")
	return outcomeRetried
}

func (d *Dispatcher) publishEvent(eventType string, post *models.ScheduledPost, status models.Status, retryCount int, reason string) {
	if d.eventBus == nil {
		return
	}

	payload := events.PostEventPayload{
		PostID:      post.ID,
		PublicID:    post.PublicID,
		ContentID:   post.ContentID,
		OwnerID:     post.OwnerID,
		ServiceType: post.ServiceType,
		Status:      string(status),
		ScheduledAt: post.ScheduledAt,
		Repeat:      post.Repeat,
		RetryCount:  retryCount,
		Reason:      reason,
	}

	if err := d.eventBus.PublishJSON(eventType, payload); err != nil {
		d.logger.Error().Err(err).Str("event_type", eventType).Int64("post_id", post.ID).Msg("publish event error")
	}
}
