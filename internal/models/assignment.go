package models

import "time"

// Delivery outcome of a single platform assignment.
const (
	AssignmentPending = "pending"
	AssignmentSent    = "sent"
	AssignmentFailed  = "failed"
)

// PlatformAssignment records the delivery outcome for one destination
// platform of a post. One row per (post, platform), created at promotion.
type PlatformAssignment struct {
	ID        int64      `json:"id"`
	PostID    int64      `json:"post_id"`
	Platform  string     `json:"platform"`
	Status    string     `json:"status"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	Error     *string    `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
