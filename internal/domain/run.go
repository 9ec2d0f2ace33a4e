package domain

import (
	"time"

	"github.com/google/uuid"
)

type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

// Counters accumulates per-run work across all tenants and rules.
type Counters struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Errors    int

	RuleHits map[AutomationType]int
}

// NewCounters returns a zeroed counter set with the rule-hit map initialized.
func NewCounters() *Counters {
	return &Counters{RuleHits: make(map[AutomationType]int)}
}

// Hit records that a rule found one eligible source record.
func (c *Counters) Hit(a AutomationType) {
	if c.RuleHits == nil {
		c.RuleHits = make(map[AutomationType]int)
	}
	c.RuleHits[a]++
}

// Run is one execution of the orchestrator. It is created in `running` state
// before any work starts and finalized exactly once.
type Run struct {
	ID uuid.UUID

	Trigger TriggerKind
	// TenantID is nil for a global run covering all active tenants.
	TenantID *uuid.UUID

	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time

	Counters Counters
	// Details carries the per-rule hit counts and, on failure, the error
	// summary. Free-form text for the run ledger.
	Details string
}
