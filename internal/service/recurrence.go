package service

import (
	"context"
	"encoding/json"

	"postpilot/internal/domain"
	"postpilot/internal/events"
	"postpilot/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RecurrenceExpander listens for published posts and materializes the next
// occurrence of repeating ones. Each occurrence is a fresh post with its
// own retry budget, linked back through source_post_id.
type RecurrenceExpander struct {
	posts  domain.PostStore
	logger *zerolog.Logger
}

func NewRecurrenceExpander(posts domain.PostStore, logger *zerolog.Logger) *RecurrenceExpander {
	return &RecurrenceExpander{posts: posts, logger: logger}
}

// Register subscribes the expander to published-post events.
func (r *RecurrenceExpander) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventPostPublished, r.handlePublished)
}

func (r *RecurrenceExpander) handlePublished(event *events.Event) error {
	var payload events.PostEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		r.logger.Error().Err(err).Msg("decode published event payload")
		return err
	}

	if payload.Repeat == models.RepeatNone {
		return nil
	}

	ctx := context.Background()
	source, err := r.posts.GetPost(ctx, payload.PostID)
	if err != nil {
		r.logger.Error().Err(err).Int64("post_id", payload.PostID).Msg("load published post for recurrence")
		return err
	}

	next := source.NextOccurrence()
	if next.IsZero() {
		return nil
	}

	sourceID := source.ID
	clone := &models.ScheduledPost{
		PublicID:     uuid.NewString(),
		ContentID:    source.ContentID,
		Title:        source.Title,
		Description:  source.Description,
		Hashtags:     source.Hashtags,
		Keywords:     source.Keywords,
		CTA:          source.CTA,
		MediaRefs:    source.MediaRefs,
		CharacterID:  source.CharacterID,
		OwnerID:      source.OwnerID,
		TemplateID:   source.TemplateID,
		SourcePostID: &sourceID,
		Status:       models.StatusPendingSchedule,
	}

	if err := r.posts.CreatePost(ctx, clone); err != nil {
		r.logger.Error().Err(err).Int64("source_post_id", source.ID).Msg("create recurring occurrence")
		return err
	}

	if _, err := r.posts.PromotePost(ctx, clone.ID, next, source.Timezone, source.ServiceType, source.Repeat, source.Platforms); err != nil {
		r.logger.Error().Err(err).Int64("post_id", clone.ID).Msg("promote recurring occurrence")
		return err
	}

	r.logger.Info().
		Int64("source_post_id", source.ID).
		Int64("post_id", clone.ID).
		Time("scheduled_at", next).
		Str("repeat", source.Repeat).
		Msg("recurring occurrence scheduled")
	return nil
}
