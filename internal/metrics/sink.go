package metrics

import "time"

// Sink defines the interface for recording engine metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Run lifecycle
	RunStarted(trigger string)
	RunCompleted(status string, duration time.Duration, processed, errors int)
	RunSkipped()

	// Synthesis outcomes
	EnsureOutcome(automation, target, outcome string)
	RuleError(automation string)
}

// Run status label values, matching the run ledger statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Ensure outcome label values.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
)
