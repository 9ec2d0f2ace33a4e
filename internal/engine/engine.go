// Package engine implements the automation reconciliation engine.
//
// A run scans each active tenant's source collections (contracts, licenses,
// policies, vulnerabilities), decides which records require governance
// action, and synthesizes or refreshes the downstream records (risk items,
// tickets, findings, change requests). Idempotency is guaranteed by the link
// registry: one link row per source condition, keyed by
// (tenant, rule, source type, source id, target type).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/govsync/internal/domain"
)

// ErrNotFound is returned by the store and the target collaborators when a
// link or downstream record does not exist.
var ErrNotFound = errors.New("not found")

// ErrTargetPaused is returned when the circuit breaker is refusing writes to
// a target collaborator. Entities hitting it count as skipped, not errors.
var ErrTargetPaused = errors.New("target writes paused")

// Store persists links and the run ledger, and resolves active tenants.
type Store interface {
	ListActiveTenants(ctx context.Context) ([]uuid.UUID, error)

	// GetLink returns ErrNotFound when no link exists for the key.
	GetLink(ctx context.Context, key domain.LinkKey) (domain.Link, error)
	// UpsertLink inserts or replaces the link for link.Key().
	UpsertLink(ctx context.Context, link domain.Link) error

	InsertRun(ctx context.Context, run domain.Run) error
	// FinalizeRun updates status, finish time, counters and details.
	// A run is finalized exactly once.
	FinalizeRun(ctx context.Context, run domain.Run) error
}

// Source collaborators. Each list operation is tenant-scoped.
type ContractSource interface {
	ListActiveContracts(ctx context.Context, tenantID uuid.UUID) ([]domain.Contract, error)
}

type LicenseSource interface {
	ListLicenses(ctx context.Context, tenantID uuid.UUID) ([]domain.License, error)
}

type PolicySource interface {
	// ListOverdueForReview returns only policies whose next review date has
	// passed; the policy service does the filtering.
	ListOverdueForReview(ctx context.Context, tenantID uuid.UUID) ([]domain.Policy, error)
}

type VulnerabilitySource interface {
	ListVulnerabilities(ctx context.Context, tenantID uuid.UUID) ([]domain.Vulnerability, error)
}

// Target collaborators. Get returns ErrNotFound for missing records.
type RiskRegister interface {
	GetRiskItem(ctx context.Context, id uuid.UUID) (domain.RiskItem, error)
	CreateRiskItem(ctx context.Context, item domain.RiskItem) (uuid.UUID, error)
	UpdateRiskItem(ctx context.Context, id uuid.UUID, patch domain.RiskItemPatch) error
}

type ServiceDesk interface {
	GetTicket(ctx context.Context, id uuid.UUID) (domain.Ticket, error)
	CreateTicket(ctx context.Context, t domain.Ticket) (uuid.UUID, error)
	UpdateTicket(ctx context.Context, id uuid.UUID, patch domain.TicketPatch) error
}

type AuditRegistry interface {
	GetFinding(ctx context.Context, id uuid.UUID) (domain.Finding, error)
	CreateFinding(ctx context.Context, f domain.Finding) (uuid.UUID, error)
	UpdateFinding(ctx context.Context, id uuid.UUID, patch domain.FindingPatch) error
}

type ChangeManager interface {
	GetChangeRequest(ctx context.Context, id uuid.UUID) (domain.ChangeRequest, error)
	CreateChangeRequest(ctx context.Context, cr domain.ChangeRequest) (uuid.UUID, error)
	UpdateChangeRequest(ctx context.Context, id uuid.UUID, patch domain.ChangeRequestPatch) error
}

// Sources bundles the four source collaborators.
type Sources struct {
	Contracts       ContractSource
	Licenses        LicenseSource
	Policies        PolicySource
	Vulnerabilities VulnerabilitySource
}

// Targets bundles the four target collaborators.
type Targets struct {
	Risks    RiskRegister
	Tickets  ServiceDesk
	Findings AuditRegistry
	Changes  ChangeManager
}

// MetricsSink defines the interface for recording engine metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RunStarted(trigger string)
	RunCompleted(status string, duration time.Duration, processed, errors int)
	RunSkipped()
	EnsureOutcome(automation, target, outcome string)
	RuleError(automation string)
}

// AnalyticsSink records rule hits for dashboards. Best-effort only.
type AnalyticsSink interface {
	RecordRuleHit(ctx context.Context, tenantID uuid.UUID, automation domain.AutomationType, at time.Time)
}

// Breaker guards downstream writes per target type.
type Breaker interface {
	Allow(target string) bool
	RecordSuccess(target string)
	RecordFailure(target string)
}

// Engine is the run orchestrator.
type Engine struct {
	store     Store
	sources   Sources
	targets   Targets
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	breaker   Breaker       // optional, nil = disabled
	clock     func() time.Time

	// running is the single-flight guard. Manual and scheduled triggers can
	// race, so it is flipped with compare-and-swap, never a plain read+write.
	running atomic.Bool
}

// New creates an Engine.
func New(store Store, sources Sources, targets Targets) *Engine {
	return &Engine{
		store:   store,
		sources: sources,
		targets: targets,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the engine.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// WithAnalytics attaches an analytics sink to the engine.
func (e *Engine) WithAnalytics(sink AnalyticsSink) *Engine {
	e.analytics = sink
	return e
}

// WithBreaker attaches a circuit breaker guarding target writes.
func (e *Engine) WithBreaker(b Breaker) *Engine {
	e.breaker = b
	return e
}

// Running reports whether a run is currently in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// RunNow executes one reconciliation run. tenantID nil means all active
// tenants. If a run is already in progress the returned Run has status
// skipped, zero counters, a nil ID, and is not persisted.
//
// The returned error is non-nil only for run-level fatal failures (tenant
// resolution, run-ledger writes); per-entity failures are absorbed into the
// error counter and the run status.
func (e *Engine) RunNow(ctx context.Context, trigger domain.TriggerKind, tenantID *uuid.UUID) (domain.Run, error) {
	if !e.running.CompareAndSwap(false, true) {
		log.Printf("engine: run already in progress, skipping %s trigger", trigger)
		if e.metrics != nil {
			e.metrics.RunSkipped()
		}
		return domain.Run{
			Trigger:   trigger,
			TenantID:  tenantID,
			Status:    domain.RunStatusSkipped,
			StartedAt: e.clock().UTC(),
			Counters:  *domain.NewCounters(),
			Details:   "skipped: a run is already in progress",
		}, nil
	}
	defer e.running.Store(false)

	startedAt := e.clock().UTC()
	run := domain.Run{
		ID:        uuid.New(),
		Trigger:   trigger,
		TenantID:  tenantID,
		Status:    domain.RunStatusRunning,
		StartedAt: startedAt,
		Counters:  *domain.NewCounters(),
	}

	if err := e.store.InsertRun(ctx, run); err != nil {
		return run, fmt.Errorf("insert run: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RunStarted(string(trigger))
	}
	log.Printf("engine: run %s started (trigger=%s, scope=%s)", run.ID, trigger, scopeString(tenantID))

	counters := domain.NewCounters()

	var fatal error
	var tenants []uuid.UUID
	if tenantID != nil {
		tenants = []uuid.UUID{*tenantID}
	} else {
		var err error
		tenants, err = e.store.ListActiveTenants(ctx)
		if err != nil {
			fatal = fmt.Errorf("resolve active tenants: %w", err)
		}
	}

	if fatal == nil {
		for _, tenant := range tenants {
			e.processTenant(ctx, tenant, counters)
		}
	}

	finishedAt := e.clock().UTC()
	run.Status = classify(counters, fatal)
	run.FinishedAt = &finishedAt
	run.Counters = *counters
	run.Details = buildDetails(counters, len(tenants), fatal)

	if err := e.store.FinalizeRun(ctx, run); err != nil {
		// The run happened; losing the ledger update is log-worthy but the
		// guard must still be released via the deferred Store.
		log.Printf("engine: run %s: failed to finalize: %v", run.ID, err)
		if fatal == nil {
			fatal = fmt.Errorf("finalize run: %w", err)
		}
	}

	duration := finishedAt.Sub(startedAt)
	if e.metrics != nil {
		e.metrics.RunCompleted(string(run.Status), duration, counters.Processed, counters.Errors)
	}
	log.Printf("engine: run %s finished status=%s processed=%d created=%d updated=%d skipped=%d errors=%d (%s)",
		run.ID, run.Status, counters.Processed, counters.Created, counters.Updated,
		counters.Skipped, counters.Errors, duration.Round(time.Millisecond))

	return run, fatal
}

// processTenant runs all four rules for one tenant. A rule whose source list
// cannot be read counts one error and does not stop the remaining rules.
func (e *Engine) processTenant(ctx context.Context, tenantID uuid.UUID, c *domain.Counters) {
	for _, r := range ruleTable {
		if err := r.eval(e, ctx, tenantID, c); err != nil {
			log.Printf("engine: tenant=%s rule=%s: %v", tenantID, r.automation, err)
			c.Errors++
			if e.metrics != nil {
				e.metrics.RuleError(string(r.automation))
			}
		}
	}
}

// classify derives the final run status from the accumulated counters.
func classify(c *domain.Counters, fatal error) domain.RunStatus {
	switch {
	case fatal != nil:
		return domain.RunStatusFailed
	case c.Errors > 0 && c.Created == 0 && c.Updated == 0:
		return domain.RunStatusFailed
	case c.Errors > 0:
		return domain.RunStatusPartial
	case c.Processed == 0:
		return domain.RunStatusSkipped
	case c.Created == 0 && c.Updated == 0 && c.Skipped > 0:
		// Eligible records existed but every write was paused.
		return domain.RunStatusSkipped
	default:
		return domain.RunStatusSuccess
	}
}

func buildDetails(c *domain.Counters, tenantCount int, fatal error) string {
	details := fmt.Sprintf("tenants=%d", tenantCount)

	autos := make([]string, 0, len(c.RuleHits))
	for a := range c.RuleHits {
		autos = append(autos, string(a))
	}
	sort.Strings(autos)
	for _, a := range autos {
		details += fmt.Sprintf(" %s=%d", a, c.RuleHits[domain.AutomationType(a)])
	}

	if fatal != nil {
		details += "; fatal: " + fatal.Error()
	}
	return details
}

func scopeString(tenantID *uuid.UUID) string {
	if tenantID == nil {
		return "all"
	}
	return tenantID.String()
}
