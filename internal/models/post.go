package models

import "time"

// Repeat directives a user can attach when scheduling a post.
const (
	RepeatNone    = ""
	RepeatDaily   = "daily"
	RepeatWeekly  = "weekly"
	RepeatMonthly = "monthly"
)

// ScheduledPost is the unit of work for the dispatch pipeline.
type ScheduledPost struct {
	ID        int64  `json:"id"`
	PublicID  string `json:"public_id"`
	ContentID string `json:"content_id"`

	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
	Keywords    string   `json:"keywords"`
	CTA         string   `json:"cta"`
	MediaRefs   []string `json:"media_refs"`
	Platforms   []string `json:"platforms"`
	CharacterID string   `json:"character_id"`

	ServiceType   string     `json:"service_type"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	Timezone      string     `json:"timezone"`
	Repeat        string     `json:"repeat,omitempty"`
	Status        Status     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	OwnerID      string `json:"owner_id"`
	TemplateID   *int64 `json:"template_id,omitempty"`
	SourcePostID *int64 `json:"source_post_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidRepeat reports whether the repeat directive is one of the supported values.
func ValidRepeat(repeat string) bool {
	switch repeat {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatMonthly:
		return true
	default:
		return false
	}
}

// NextOccurrence returns the scheduled time of the next occurrence for a
// repeating post, or the zero time when the post does not repeat.
func (p *ScheduledPost) NextOccurrence() time.Time {
	switch p.Repeat {
	case RepeatDaily:
		return p.ScheduledAt.AddDate(0, 0, 1)
	case RepeatWeekly:
		return p.ScheduledAt.AddDate(0, 0, 7)
	case RepeatMonthly:
		return p.ScheduledAt.AddDate(0, 1, 0)
	default:
		return time.Time{}
	}
}
