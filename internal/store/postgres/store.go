// Package postgres implements the engine and ledger storage contracts, plus
// the source and target collaborator contracts, on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/govsync/internal/domain"
	"github.com/djlord-it/govsync/internal/engine"
	"github.com/djlord-it/govsync/internal/ledger"
)

// Store implements engine.Store, ledger.Store and the collaborator
// interfaces using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a PostgreSQL store. opTimeout bounds every database operation;
// zero disables the per-op timeout.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// ListActiveTenants returns the ids of all tenants with automation enabled.
func (s *Store) ListActiveTenants(ctx context.Context) ([]uuid.UUID, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListActiveTenants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// GetLink returns the link for the idempotency key, or engine.ErrNotFound.
func (s *Store) GetLink(ctx context.Context, key domain.LinkKey) (domain.Link, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var link domain.Link
	err := s.db.QueryRowContext(ctx, queryGetLink,
		key.TenantID, string(key.Automation), string(key.SourceType), key.SourceID, string(key.TargetType),
	).Scan(
		&link.ID,
		&link.TenantID,
		&link.Automation,
		&link.SourceType,
		&link.SourceID,
		&link.TargetType,
		&link.TargetID,
		&link.Status,
		&link.Notes,
		&link.LastEvaluatedAt,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return domain.Link{}, engine.ErrNotFound
	}
	if err != nil {
		return domain.Link{}, err
	}
	return link, nil
}

// UpsertLink inserts or refreshes the link for its idempotency tuple. The
// unique index on (tenant_id, automation_type, source_type, source_id,
// target_type) enforces the at-most-one invariant.
func (s *Store) UpsertLink(ctx context.Context, link domain.Link) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpsertLink,
		link.ID,
		link.TenantID,
		string(link.Automation),
		string(link.SourceType),
		link.SourceID,
		string(link.TargetType),
		link.TargetID,
		string(link.Status),
		link.Notes,
		link.LastEvaluatedAt,
		link.CreatedAt,
		link.UpdatedAt,
	)
	return err
}

// InsertRun records a new run in `running` state.
func (s *Store) InsertRun(ctx context.Context, run domain.Run) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		string(run.Trigger),
		nullableUUID(run.TenantID),
		string(run.Status),
		run.StartedAt,
		run.Counters.Processed,
		run.Counters.Created,
		run.Counters.Updated,
		run.Counters.Skipped,
		run.Counters.Errors,
		run.Details,
	)
	return err
}

// FinalizeRun updates the run's outcome. The status='running' guard in the
// WHERE clause makes finalization idempotent: a second attempt is a no-op.
func (s *Store) FinalizeRun(ctx context.Context, run domain.Run) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var endedAt sql.NullTime
	if run.FinishedAt != nil {
		endedAt = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryFinalizeRun,
		run.ID,
		string(run.Status),
		endedAt,
		run.Counters.Processed,
		run.Counters.Created,
		run.Counters.Updated,
		run.Counters.Skipped,
		run.Counters.Errors,
		run.Details,
	)
	return err
}

// GetLatestRun returns the most recent run visible to the scope: with a
// tenant id, both tenant-scoped and global runs qualify.
func (s *Store) GetLatestRun(ctx context.Context, tenantID *uuid.UUID) (domain.Run, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	run, err := scanRun(s.db.QueryRowContext(ctx, queryGetLatestRun, nullableUUID(tenantID)))
	if err == sql.ErrNoRows {
		return domain.Run{}, ledger.ErrNoRuns
	}
	if err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

// ListRuns returns the most recent runs for the scope, newest first.
func (s *Store) ListRuns(ctx context.Context, tenantID *uuid.UUID, limit int) ([]domain.Run, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRuns, nullableUUID(tenantID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// SummarizeLinks groups the tenant's links by automation and target type.
func (s *Store) SummarizeLinks(ctx context.Context, tenantID uuid.UUID) ([]domain.LinkSummary, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, querySummarizeLinks, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.LinkSummary
	for rows.Next() {
		var sum domain.LinkSummary
		if err := rows.Scan(&sum.Automation, &sum.TargetType, &sum.Count, &sum.LastEvaluatedAt); err != nil {
			return nil, err
		}
		result = append(result, sum)
	}
	return result, rows.Err()
}

// Source collaborator reads.

func (s *Store) ListActiveContracts(ctx context.Context, tenantID uuid.UUID) ([]domain.Contract, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListActiveContracts, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Contract
	for rows.Next() {
		var c domain.Contract
		err := rows.Scan(&c.ID, &c.TenantID, &c.Title, &c.ContractNumber, &c.Owner, &c.EndDate, &c.RenewalNoticeDays)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) ListLicenses(ctx context.Context, tenantID uuid.UUID) ([]domain.License, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListLicenses, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.License
	for rows.Next() {
		var l domain.License
		var expiry sql.NullTime
		err := rows.Scan(&l.ID, &l.TenantID, &l.SoftwareName, &l.Vendor, &l.Owner, &l.Status, &l.DaysRemaining, &expiry)
		if err != nil {
			return nil, err
		}
		if expiry.Valid {
			t := expiry.Time
			l.ExpiryDate = &t
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (s *Store) ListOverdueForReview(ctx context.Context, tenantID uuid.UUID) ([]domain.Policy, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListOverduePolicies, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Policy
	for rows.Next() {
		var p domain.Policy
		err := rows.Scan(&p.ID, &p.TenantID, &p.Title, &p.Owner, &p.RiskLevel, &p.NextReviewDue)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) ListVulnerabilities(ctx context.Context, tenantID uuid.UUID) ([]domain.Vulnerability, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListVulnerabilities, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Vulnerability
	for rows.Next() {
		var v domain.Vulnerability
		var target sql.NullTime
		err := rows.Scan(&v.ID, &v.TenantID, &v.CVEID, &v.AffectedComponent, &v.Severity, &v.Status, &target)
		if err != nil {
			return nil, err
		}
		if target.Valid {
			t := target.Time
			v.TargetRemediationDate = &t
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// Target collaborator operations.

func (s *Store) GetRiskItem(ctx context.Context, id uuid.UUID) (domain.RiskItem, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var r domain.RiskItem
	err := s.db.QueryRowContext(ctx, queryGetRiskItem, id).Scan(
		&r.ID, &r.TenantID, &r.Title, &r.Description, &r.Domain,
		&r.Likelihood, &r.Impact, &r.Status, &r.Owner, &r.Mitigation, &r.ReviewCadence,
	)
	if err == sql.ErrNoRows {
		return domain.RiskItem{}, engine.ErrNotFound
	}
	return r, err
}

func (s *Store) CreateRiskItem(ctx context.Context, item domain.RiskItem) (uuid.UUID, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	id := uuid.New()
	_, err := s.db.ExecContext(ctx, queryInsertRiskItem,
		id, item.TenantID, item.Title, item.Description, item.Domain,
		item.Likelihood, item.Impact, item.Status, item.Owner, item.Mitigation, item.ReviewCadence,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *Store) UpdateRiskItem(ctx context.Context, id uuid.UUID, patch domain.RiskItemPatch) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return execExpectingRow(ctx, s.db, queryUpdateRiskItem, id, patch.Description, patch.Likelihood, patch.Mitigation)
}

func (s *Store) GetTicket(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var t domain.Ticket
	var due sql.NullTime
	err := s.db.QueryRowContext(ctx, queryGetTicket, id).Scan(
		&t.ID, &t.TenantID, &t.Title, &t.Description, &t.Type, &t.Category,
		&t.Priority, &t.Status, &t.Reporter, &t.Assignee, &due,
	)
	if err == sql.ErrNoRows {
		return domain.Ticket{}, engine.ErrNotFound
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	if due.Valid {
		d := due.Time
		t.DueDate = &d
	}
	return t, nil
}

func (s *Store) CreateTicket(ctx context.Context, t domain.Ticket) (uuid.UUID, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	id := uuid.New()
	_, err := s.db.ExecContext(ctx, queryInsertTicket,
		id, t.TenantID, t.Title, t.Description, t.Type, t.Category,
		t.Priority, t.Status, t.Reporter, t.Assignee, nullableTime(t.DueDate),
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *Store) UpdateTicket(ctx context.Context, id uuid.UUID, patch domain.TicketPatch) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return execExpectingRow(ctx, s.db, queryUpdateTicket, id, patch.Description, patch.Priority, nullableTime(patch.DueDate))
}

func (s *Store) GetFinding(ctx context.Context, id uuid.UUID) (domain.Finding, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var f domain.Finding
	var due sql.NullTime
	err := s.db.QueryRowContext(ctx, queryGetFinding, id).Scan(
		&f.ID, &f.TenantID, &f.Title, &f.Description, &f.Source,
		&f.Severity, &f.Status, &f.Owner, &due, &f.CorrectiveAction,
	)
	if err == sql.ErrNoRows {
		return domain.Finding{}, engine.ErrNotFound
	}
	if err != nil {
		return domain.Finding{}, err
	}
	if due.Valid {
		d := due.Time
		f.DueDate = &d
	}
	return f, nil
}

func (s *Store) CreateFinding(ctx context.Context, f domain.Finding) (uuid.UUID, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	id := uuid.New()
	_, err := s.db.ExecContext(ctx, queryInsertFinding,
		id, f.TenantID, f.Title, f.Description, f.Source,
		f.Severity, f.Status, f.Owner, nullableTime(f.DueDate), f.CorrectiveAction,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *Store) UpdateFinding(ctx context.Context, id uuid.UUID, patch domain.FindingPatch) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return execExpectingRow(ctx, s.db, queryUpdateFinding, id, patch.Description, patch.Severity, nullableTime(patch.DueDate))
}

func (s *Store) GetChangeRequest(ctx context.Context, id uuid.UUID) (domain.ChangeRequest, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var cr domain.ChangeRequest
	err := s.db.QueryRowContext(ctx, queryGetChangeRequest, id).Scan(
		&cr.ID, &cr.TenantID, &cr.Title, &cr.Description, &cr.Category,
		&cr.RiskLevel, &cr.ImpactLevel, &cr.Status, &cr.Requester,
		&cr.PlannedStart, &cr.PlannedEnd, &cr.OutageExpected,
		&cr.RollbackPlan, &cr.TestPlan,
	)
	if err == sql.ErrNoRows {
		return domain.ChangeRequest{}, engine.ErrNotFound
	}
	return cr, err
}

func (s *Store) CreateChangeRequest(ctx context.Context, cr domain.ChangeRequest) (uuid.UUID, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	id := uuid.New()
	_, err := s.db.ExecContext(ctx, queryInsertChangeRequest,
		id, cr.TenantID, cr.Title, cr.Description, cr.Category,
		cr.RiskLevel, cr.ImpactLevel, cr.Status, cr.Requester,
		cr.PlannedStart, cr.PlannedEnd, cr.OutageExpected,
		cr.RollbackPlan, cr.TestPlan,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *Store) UpdateChangeRequest(ctx context.Context, id uuid.UUID, patch domain.ChangeRequestPatch) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return execExpectingRow(ctx, s.db, queryUpdateChangeRequest,
		id, patch.Description, patch.RiskLevel, patch.ImpactLevel, patch.PlannedStart, patch.PlannedEnd)
}

// execExpectingRow runs an update that must touch exactly one row; zero rows
// means the record vanished and maps to engine.ErrNotFound.
func execExpectingRow(ctx context.Context, db *sql.DB, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRun.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var run domain.Run
	var tenantID uuid.NullUUID
	var endedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.Trigger,
		&tenantID,
		&run.Status,
		&run.StartedAt,
		&endedAt,
		&run.Counters.Processed,
		&run.Counters.Created,
		&run.Counters.Updated,
		&run.Counters.Skipped,
		&run.Counters.Errors,
		&run.Details,
	)
	if err != nil {
		return domain.Run{}, err
	}
	if tenantID.Valid {
		id := tenantID.UUID
		run.TenantID = &id
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func nullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time interface assertions
var (
	_ engine.Store               = (*Store)(nil)
	_ engine.ContractSource      = (*Store)(nil)
	_ engine.LicenseSource       = (*Store)(nil)
	_ engine.PolicySource        = (*Store)(nil)
	_ engine.VulnerabilitySource = (*Store)(nil)
	_ engine.RiskRegister        = (*Store)(nil)
	_ engine.ServiceDesk         = (*Store)(nil)
	_ engine.AuditRegistry       = (*Store)(nil)
	_ engine.ChangeManager       = (*Store)(nil)
	_ ledger.Store               = (*Store)(nil)
)
