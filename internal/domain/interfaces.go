package domain

import (
	"context"
	"time"

	"postpilot/internal/models"
)

// PostStore is the durable home of scheduled posts. Implementations must
// provide single-row atomic status updates; components hold no post state
// beyond one processing cycle.
type PostStore interface {
	CreatePost(ctx context.Context, post *models.ScheduledPost) error
	GetPost(ctx context.Context, id int64) (*models.ScheduledPost, error)
	GetPostByPublicID(ctx context.Context, publicID string) (*models.ScheduledPost, error)
	GetDuePosts(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error)
	ListPostsByStatus(ctx context.Context, status models.Status, limit, offset int) ([]*models.ScheduledPost, error)
	MarkPublishing(ctx context.Context, id int64) (bool, error)
	MarkPublished(ctx context.Context, id int64) error
	RecordFailedAttempt(ctx context.Context, id int64, reason string, ceiling int) (*models.ScheduledPost, error)
	RequeueStalePublishing(ctx context.Context, cutoff time.Time) (int64, error)
	PromotePost(ctx context.Context, id int64, scheduledAt time.Time, timezone, serviceType, repeat string, platforms []string) (*models.ScheduledPost, error)
	CancelPost(ctx context.Context, id int64) error
	ReschedulePost(ctx context.Context, id int64, scheduledAt time.Time) error
}

// ServiceRegistry resolves a service-type key to its active registration.
type ServiceRegistry interface {
	GetActiveService(ctx context.Context, serviceType string) (*models.DeliveryService, error)
	ListServices(ctx context.Context) ([]*models.DeliveryService, error)
}

// AssignmentStore tracks per-platform delivery outcomes.
type AssignmentStore interface {
	GetAssignments(ctx context.Context, postID int64) ([]*models.PlatformAssignment, error)
	MarkAssignmentsSent(ctx context.Context, postID int64, sentAt time.Time) error
	MarkAssignmentsFailed(ctx context.Context, postID int64, reason string) error
}

// Forwarder performs one bounded dispatch attempt against a delivery service.
type Forwarder interface {
	Forward(ctx context.Context, post *models.ScheduledPost, svc *models.DeliveryService) error
}

// LeaseRepository provides the single-flight lease guarding overlapping
// dispatch cycles.
type LeaseRepository interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// EventPublisher is the in-process event fan-out.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
