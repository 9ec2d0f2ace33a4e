package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/govsync/internal/domain"
)

// TriggerRunRequest is the body of POST /automation/run.
type TriggerRunRequest struct {
	TenantID string `json:"tenant_id,omitempty"` // empty = all active tenants
}

type RunResponse struct {
	ID        string         `json:"id,omitempty"`
	Trigger   string         `json:"trigger"`
	Scope     string         `json:"scope"`
	Status    string         `json:"status"`
	StartedAt string         `json:"started_at"`
	EndedAt   string         `json:"ended_at,omitempty"`
	Processed int            `json:"processed"`
	Created   int            `json:"created"`
	Updated   int            `json:"updated"`
	Skipped   int            `json:"skipped"`
	Errors    int            `json:"errors"`
	RuleHits  map[string]int `json:"rule_hits,omitempty"`
	Details   string         `json:"details,omitempty"`
}

type LinkSummaryResponse struct {
	Automation      string `json:"automation"`
	TargetType      string `json:"target_type"`
	Count           int    `json:"count"`
	LastEvaluatedAt string `json:"last_evaluated_at"`
}

type StatusResponse struct {
	Running     bool                  `json:"running"`
	LastRun     *RunResponse          `json:"last_run,omitempty"`
	RecentRuns  []RunResponse         `json:"recent_runs"`
	LinkSummary []LinkSummaryResponse `json:"link_summary"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toRunResponse(run domain.Run) RunResponse {
	resp := RunResponse{
		Trigger:   string(run.Trigger),
		Scope:     "all",
		Status:    string(run.Status),
		StartedAt: formatTime(run.StartedAt),
		Processed: run.Counters.Processed,
		Created:   run.Counters.Created,
		Updated:   run.Counters.Updated,
		Skipped:   run.Counters.Skipped,
		Errors:    run.Counters.Errors,
		Details:   run.Details,
	}
	if run.ID != uuid.Nil {
		resp.ID = run.ID.String()
	}
	if run.TenantID != nil {
		resp.Scope = run.TenantID.String()
	}
	if run.FinishedAt != nil {
		resp.EndedAt = formatTime(*run.FinishedAt)
	}
	if len(run.Counters.RuleHits) > 0 {
		resp.RuleHits = make(map[string]int, len(run.Counters.RuleHits))
		for a, n := range run.Counters.RuleHits {
			resp.RuleHits[string(a)] = n
		}
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
