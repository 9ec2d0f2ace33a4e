package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/djlord-it/govsync/internal/domain"
)

type ensureOutcome string

const (
	outcomeCreated ensureOutcome = "created"
	outcomeUpdated ensureOutcome = "updated"
)

// targetOps parameterizes ensure over one target collaborator. The rule
// evaluators build the closures over their synthesized payloads; terminal
// decides when an existing downstream record must be replaced instead of
// updated (the governance action is considered reopened).
type targetOps struct {
	fetchStatus func(ctx context.Context, id uuid.UUID) (string, error)
	create      func(ctx context.Context) (uuid.UUID, error)
	update      func(ctx context.Context, id uuid.UUID) error
	terminal    func(status string) bool
}

// ensure is the idempotency core: it resolves a source condition to exactly
// one live downstream record. Re-running on an unchanged condition always
// lands on the same record and updates it in place, unless that record has
// since reached a terminal state or vanished, in which case a fresh one is
// created and the link repointed.
func (e *Engine) ensure(ctx context.Context, key domain.LinkKey, notes string, ops targetOps) (ensureOutcome, error) {
	if e.breaker != nil && !e.breaker.Allow(string(key.TargetType)) {
		return "", fmt.Errorf("%w: %s", ErrTargetPaused, key.TargetType)
	}

	now := e.clock().UTC()

	link, err := e.store.GetLink(ctx, key)
	if errors.Is(err, ErrNotFound) {
		link = domain.Link{
			ID:         uuid.New(),
			TenantID:   key.TenantID,
			Automation: key.Automation,
			SourceType: key.SourceType,
			SourceID:   key.SourceID,
			TargetType: key.TargetType,
			CreatedAt:  now,
		}
		return e.createTarget(ctx, link, notes, ops)
	}
	if err != nil {
		return "", fmt.Errorf("lookup link: %w", err)
	}

	status, err := ops.fetchStatus(ctx, link.TargetID)
	if errors.Is(err, ErrNotFound) {
		return e.createTarget(ctx, link, notes, ops)
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s %s: %w", key.TargetType, link.TargetID, err)
	}
	if ops.terminal(status) {
		return e.createTarget(ctx, link, notes, ops)
	}

	if err := ops.update(ctx, link.TargetID); err != nil {
		if e.breaker != nil {
			e.breaker.RecordFailure(string(key.TargetType))
		}
		return "", fmt.Errorf("update %s %s: %w", key.TargetType, link.TargetID, err)
	}
	if e.breaker != nil {
		e.breaker.RecordSuccess(string(key.TargetType))
	}

	link.Status = domain.LinkStatusActive
	link.Notes = notes
	link.LastEvaluatedAt = now
	link.UpdatedAt = now
	if err := e.store.UpsertLink(ctx, link); err != nil {
		return "", fmt.Errorf("refresh link: %w", err)
	}

	if e.metrics != nil {
		e.metrics.EnsureOutcome(string(key.Automation), string(key.TargetType), string(outcomeUpdated))
	}
	return outcomeUpdated, nil
}

// createTarget creates a fresh downstream record and upserts the link to
// point at it.
func (e *Engine) createTarget(ctx context.Context, link domain.Link, notes string, ops targetOps) (ensureOutcome, error) {
	targetID, err := ops.create(ctx)
	if err != nil {
		if e.breaker != nil {
			e.breaker.RecordFailure(string(link.TargetType))
		}
		return "", fmt.Errorf("create %s: %w", link.TargetType, err)
	}
	if e.breaker != nil {
		e.breaker.RecordSuccess(string(link.TargetType))
	}

	now := e.clock().UTC()
	link.TargetID = targetID
	link.Status = domain.LinkStatusActive
	link.Notes = notes
	link.LastEvaluatedAt = now
	link.UpdatedAt = now
	if err := e.store.UpsertLink(ctx, link); err != nil {
		return "", fmt.Errorf("record link: %w", err)
	}

	if e.metrics != nil {
		e.metrics.EnsureOutcome(string(link.Automation), string(link.TargetType), string(outcomeCreated))
	}
	return outcomeCreated, nil
}

// tally maps an ensure outcome onto the run counters.
func tally(c *domain.Counters, out ensureOutcome) {
	switch out {
	case outcomeCreated:
		c.Created++
	case outcomeUpdated:
		c.Updated++
	}
}
