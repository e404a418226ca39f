package database

import "errors"

var (
	// ErrNotFound is returned when a post does not exist.
	ErrNotFound = errors.New("post not found")

	// ErrServiceNotFound is returned when no active delivery service is
	// registered for a service type.
	ErrServiceNotFound = errors.New("delivery service not found or inactive")

	// ErrNotPromotable is returned when promotion targets a post that is
	// not in pending_schedule.
	ErrNotPromotable = errors.New("post is not awaiting a schedule")

	// ErrTerminalStatus is returned when an update would move a post out
	// of a terminal status.
	ErrTerminalStatus = errors.New("post is in a terminal status")

	// ErrPastSchedule is returned when a schedule targets a time in the past.
	ErrPastSchedule = errors.New("scheduled time is in the past")

	// ErrMissingTimezone is returned when a schedule names no timezone.
	ErrMissingTimezone = errors.New("timezone is required")

	// ErrInvalidTimezone is returned for timezone names the platform does
	// not recognize.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrInvalidRepeat is returned for unsupported repeat directives.
	ErrInvalidRepeat = errors.New("invalid repeat directive")

	// ErrNoPlatforms is returned when a schedule selects no target platforms.
	ErrNoPlatforms = errors.New("at least one platform is required")

	// ErrMissingTitle is returned when a draft carries no title.
	ErrMissingTitle = errors.New("title is required")

	// ErrMissingOwner is returned when a draft carries no owner.
	ErrMissingOwner = errors.New("owner is required")

	// ErrMissingServiceType is returned when a schedule names no service type.
	ErrMissingServiceType = errors.New("service type is required")
)
