package service

import (
	"context"
	"strings"
	"time"

	"postpilot/internal/database"
	"postpilot/internal/domain"
	"postpilot/internal/events"
	"postpilot/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PostService owns the user-facing lifecycle of a post: draft creation,
// promotion into the dispatch-eligible set, cancellation and explicit
// re-scheduling. The dispatcher never goes through this layer.
type PostService struct {
	posts    domain.PostStore
	registry domain.ServiceRegistry
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewPostService(posts domain.PostStore, registry domain.ServiceRegistry, eventBus domain.EventPublisher, logger *zerolog.Logger) *PostService {
	return &PostService{
		posts:    posts,
		registry: registry,
		eventBus: eventBus,
		logger:   logger,
	}
}

// DraftInput carries the content payload of a new draft post.
type DraftInput struct {
	ContentID   string   `json:"content_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
	Keywords    string   `json:"keywords"`
	CTA         string   `json:"cta"`
	MediaRefs   []string `json:"media_refs"`
	CharacterID string   `json:"character_id"`
	OwnerID     string   `json:"owner_id"`
	TemplateID  *int64   `json:"template_id,omitempty"`
}

// ScheduleInput carries the scheduling parameters of a promotion.
type ScheduleInput struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	Timezone    string    `json:"timezone"`
	ServiceType string    `json:"service_type"`
	Repeat      string    `json:"repeat"`
	Platforms   []string  `json:"platforms"`
}

// CreateDraft stores a new post in pending_schedule. Drafts hold content
// only; scheduling parameters arrive at promotion.
func (s *PostService) CreateDraft(ctx context.Context, input DraftInput) (*models.ScheduledPost, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, database.ErrMissingTitle
	}
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, database.ErrMissingOwner
	}

	post := &models.ScheduledPost{
		PublicID:    uuid.NewString(),
		ContentID:   input.ContentID,
		Title:       input.Title,
		Description: input.Description,
		Hashtags:    input.Hashtags,
		Keywords:    input.Keywords,
		CTA:         input.CTA,
		MediaRefs:   input.MediaRefs,
		CharacterID: input.CharacterID,
		OwnerID:     input.OwnerID,
		TemplateID:  input.TemplateID,
		Status:      models.StatusPendingSchedule,
	}

	if err := s.posts.CreatePost(ctx, post); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("post_id", post.ID).
		Str("public_id", post.PublicID).
		Str("owner_id", post.OwnerID).
		Msg("draft post created")
	return post, nil
}

// ValidateSchedule checks the scheduling parameters before promotion.
func (s *PostService) ValidateSchedule(input ScheduleInput) error {
	if input.ScheduledAt.IsZero() || input.ScheduledAt.Before(time.Now()) {
		return database.ErrPastSchedule
	}
	if strings.TrimSpace(input.Timezone) == "" {
		return database.ErrMissingTimezone
	}
	if _, err := time.LoadLocation(input.Timezone); err != nil {
		return database.ErrInvalidTimezone
	}
	if !models.ValidRepeat(input.Repeat) {
		return database.ErrInvalidRepeat
	}
	if len(input.Platforms) == 0 {
		return database.ErrNoPlatforms
	}
	if strings.TrimSpace(input.ServiceType) == "" {
		return database.ErrMissingServiceType
	}
	return nil
}

// SchedulePost promotes a pending_schedule post into the dispatch-eligible
// set. A missing delivery service registration is a warning, not an error;
// the governor charges the attempt when the post comes due.
func (s *PostService) SchedulePost(ctx context.Context, postID int64, input ScheduleInput) (*models.ScheduledPost, error) {
	if err := s.ValidateSchedule(input); err != nil {
		return nil, err
	}

	if _, err := s.registry.GetActiveService(ctx, input.ServiceType); err != nil {
		s.logger.Warn().
			Int64("post_id", postID).
			Str("service_type", input.ServiceType).
			Msg("scheduling against a service type with no active registration")
	}

	post, err := s.posts.PromotePost(ctx, postID, input.ScheduledAt, input.Timezone, input.ServiceType, input.Repeat, input.Platforms)
	if err != nil {
		return nil, err
	}

	s.publishEvent(events.EventPostScheduled, post, "")

	s.logger.Info().
		Int64("post_id", post.ID).
		Str("public_id", post.PublicID).
		Time("scheduled_at", post.ScheduledAt).
		Str("service_type", post.ServiceType).
		Msg("post scheduled")
	return post, nil
}

// CancelPost is the user-initiated terminal transition.
func (s *PostService) CancelPost(ctx context.Context, postID int64) error {
	if err := s.posts.CancelPost(ctx, postID); err != nil {
		return err
	}

	post, err := s.posts.GetPost(ctx, postID)
	if err == nil {
		s.publishEvent(events.EventPostCancelled, post, "")
	}

	s.logger.Info().Int64("post_id", postID).Msg("post cancelled")
	return nil
}

// ReschedulePost moves a failed or scheduled post to a new time. This is
// the only path that resets the retry counter.
func (s *PostService) ReschedulePost(ctx context.Context, postID int64, scheduledAt time.Time) (*models.ScheduledPost, error) {
	if scheduledAt.IsZero() || scheduledAt.Before(time.Now()) {
		return nil, database.ErrPastSchedule
	}

	if err := s.posts.ReschedulePost(ctx, postID, scheduledAt); err != nil {
		return nil, err
	}

	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	s.publishEvent(events.EventPostScheduled, post, "")

	s.logger.Info().
		Int64("post_id", postID).
		Time("scheduled_at", scheduledAt).
		Msg("post rescheduled")
	return post, nil
}

func (s *PostService) GetPost(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	return s.posts.GetPost(ctx, id)
}

func (s *PostService) GetPostByPublicID(ctx context.Context, publicID string) (*models.ScheduledPost, error) {
	return s.posts.GetPostByPublicID(ctx, publicID)
}

func (s *PostService) ListPostsByStatus(ctx context.Context, status models.Status, limit, offset int) ([]*models.ScheduledPost, error) {
	return s.posts.ListPostsByStatus(ctx, status, limit, offset)
}

func (s *PostService) publishEvent(eventType string, post *models.ScheduledPost, reason string) {
	if s.eventBus == nil {
		return
	}

	payload := events.PostEventPayload{
		PostID:      post.ID,
		PublicID:    post.PublicID,
		ContentID:   post.ContentID,
		OwnerID:     post.OwnerID,
		ServiceType: post.ServiceType,
		Status:      string(post.Status),
		ScheduledAt: post.ScheduledAt,
		Repeat:      post.Repeat,
		RetryCount:  post.RetryCount,
		Reason:      reason,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("post_id", post.ID).Msg("publish event error")
	}
}
