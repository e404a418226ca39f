package models

// Status is the lifecycle state of a scheduled post.
type Status string

const (
	StatusPendingSchedule Status = "pending_schedule"
	StatusScheduled       Status = "scheduled"
	StatusPublishing      Status = "publishing"
	StatusPublished       Status = "published"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingSchedule, StatusScheduled, StatusPublishing,
		StatusPublished, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a post in this status can never change again
// through the dispatch pipeline.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPublished, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// DispatchEligible reports whether the due-work selector may pick up a post
// in this status.
func (s Status) DispatchEligible() bool {
	return s == StatusScheduled
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
// The only backward edge is publishing -> scheduled (failed attempt with retry
// budget remaining).
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPendingSchedule:
		return next == StatusScheduled || next == StatusCancelled
	case StatusScheduled:
		return next == StatusPublishing || next == StatusCancelled
	case StatusPublishing:
		return next == StatusPublished || next == StatusFailed ||
			next == StatusScheduled || next == StatusCancelled
	default:
		return false
	}
}

// NormalizeStatus maps the legacy status vocabulary onto the canonical
// enumeration. Unknown values pass through unchanged so the caller can
// reject them explicitly.
func NormalizeStatus(raw string) Status {
	switch raw {
	case "pending":
		return StatusScheduled
	case "processing", "resending":
		return StatusPublishing
	case "complete", "completed":
		return StatusPublished
	case "canceled":
		return StatusCancelled
	default:
		return Status(raw)
	}
}
