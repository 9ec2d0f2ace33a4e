// Package ledger provides read-only reporting over persisted runs and links.
// It performs no mutation; dashboards and the status API are its consumers.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/djlord-it/govsync/internal/domain"
)

// ErrNoRuns is returned when no run has ever been recorded for the scope.
var ErrNoRuns = errors.New("no runs recorded")

// Store defines the read operations the ledger needs.
type Store interface {
	// GetLatestRun returns the most recent run. With a tenant id it covers
	// both tenant-scoped and global runs; ErrNoRuns when none exist.
	GetLatestRun(ctx context.Context, tenantID *uuid.UUID) (domain.Run, error)
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, tenantID *uuid.UUID, limit int) ([]domain.Run, error)
	// SummarizeLinks groups a tenant's links by automation and target type.
	SummarizeLinks(ctx context.Context, tenantID uuid.UUID) ([]domain.LinkSummary, error)
}

// Report is the aggregate returned to the status API.
type Report struct {
	LastRun     *domain.Run
	RecentRuns  []domain.Run
	LinkSummary []domain.LinkSummary
}

// DefaultRecentRuns is how many runs a report includes.
const DefaultRecentRuns = 10

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Report assembles the tenant's automation status: the newest run touching
// the tenant (tenant-scoped or global, whichever is newer), recent run
// history, and the link summary.
func (l *Ledger) Report(ctx context.Context, tenantID uuid.UUID) (Report, error) {
	var report Report

	last, err := l.store.GetLatestRun(ctx, &tenantID)
	switch {
	case errors.Is(err, ErrNoRuns):
		// A tenant with no history is a valid, empty report.
	case err != nil:
		return Report{}, fmt.Errorf("latest run: %w", err)
	default:
		report.LastRun = &last
	}

	report.RecentRuns, err = l.store.ListRuns(ctx, &tenantID, DefaultRecentRuns)
	if err != nil {
		return Report{}, fmt.Errorf("list runs: %w", err)
	}

	report.LinkSummary, err = l.store.SummarizeLinks(ctx, tenantID)
	if err != nil {
		return Report{}, fmt.Errorf("summarize links: %w", err)
	}

	return report, nil
}
