package models

import "time"

const (
	// DefaultRetryCeiling is the number of failed dispatch attempts after
	// which a post becomes permanently failed.
	DefaultRetryCeiling = 3

	// DefaultDeliveryTimeout bounds a single forward to a delivery service.
	DefaultDeliveryTimeout = 30 * time.Second

	// DefaultBatchSize caps how many due posts one cycle picks up.
	DefaultBatchSize = 50

	// DefaultWorkerCount bounds concurrent dispatches within a cycle.
	DefaultWorkerCount = 5

	// DefaultDispatchInterval is the polling interval between cycles.
	DefaultDispatchInterval = time.Minute

	// DefaultLeaseTTL bounds how long one cycle may hold the dispatch lease.
	DefaultLeaseTTL = 2 * time.Minute

	// FailureReasonMax caps stored failure reasons (response bodies are
	// truncated to this length).
	FailureReasonMax = 512

	// StalePublishingAge is how long a post may sit in publishing before a
	// cycle treats it as abandoned by a crashed process and requeues it.
	StalePublishingAge = 10 * time.Minute
)
