package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/govsync/internal/domain"
	"github.com/djlord-it/govsync/internal/ledger"
)

// Engine is the automation entry point the handler drives.
type Engine interface {
	Running() bool
	RunNow(ctx context.Context, trigger domain.TriggerKind, tenantID *uuid.UUID) (domain.Run, error)
}

// Reporter assembles the tenant status report.
type Reporter interface {
	Report(ctx context.Context, tenantID uuid.UUID) (ledger.Report, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	engine   Engine
	reporter Reporter
	db       HealthChecker
}

func NewHandler(engine Engine, reporter Reporter) *Handler {
	return &Handler{engine: engine, reporter: reporter}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/automation/status" && r.Method == http.MethodGet:
		h.status(w, r)

	case path == "/automation/run" && r.Method == http.MethodPost:
		h.triggerRun(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant_id")
		return
	}

	report, err := h.reporter.Report(r.Context(), tenantID)
	if err != nil {
		log.Printf("api: status report error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to build status report")
		return
	}

	resp := StatusResponse{
		Running:     h.engine.Running(),
		RecentRuns:  make([]RunResponse, len(report.RecentRuns)),
		LinkSummary: make([]LinkSummaryResponse, len(report.LinkSummary)),
	}
	if report.LastRun != nil {
		last := toRunResponse(*report.LastRun)
		resp.LastRun = &last
	}
	for i, run := range report.RecentRuns {
		resp.RecentRuns[i] = toRunResponse(run)
	}
	for i, s := range report.LinkSummary {
		resp.LinkSummary[i] = LinkSummaryResponse{
			Automation:      string(s.Automation),
			TargetType:      string(s.TargetType),
			Count:           s.Count,
			LastEvaluatedAt: formatTime(s.LastEvaluatedAt),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// maxRequestBodySize is the maximum allowed request body size (64KB).
const maxRequestBodySize = 64 << 10

// triggerRun runs the engine synchronously: the caller waits for the full
// run result. A guard skip is a normal 200 with status "skipped".
func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req TriggerRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	var tenantID *uuid.UUID
	if req.TenantID != "" {
		id, err := uuid.Parse(req.TenantID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		tenantID = &id
	}

	run, err := h.engine.RunNow(r.Context(), domain.TriggerManual, tenantID)
	if err != nil {
		log.Printf("api: manual run error: %v", err)
		writeJSON(w, http.StatusInternalServerError, toRunResponse(run))
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
