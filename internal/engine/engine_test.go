package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/govsync/internal/domain"
	"github.com/djlord-it/govsync/internal/testutil"
)

// mockStore keeps links and the run ledger in memory.
type mockStore struct {
	mu         sync.Mutex
	tenants    []uuid.UUID
	tenantsErr error

	links       map[domain.LinkKey]domain.Link
	getLinkErr  error
	upsertErr   error
	insertErr   error
	finalizeErr error

	inserted  []domain.Run
	finalized []domain.Run
}

func newMockStore() *mockStore {
	return &mockStore{links: make(map[domain.LinkKey]domain.Link)}
}

func (s *mockStore) ListActiveTenants(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenantsErr != nil {
		return nil, s.tenantsErr
	}
	return append([]uuid.UUID(nil), s.tenants...), nil
}

func (s *mockStore) GetLink(ctx context.Context, key domain.LinkKey) (domain.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getLinkErr != nil {
		return domain.Link{}, s.getLinkErr
	}
	link, ok := s.links[key]
	if !ok {
		return domain.Link{}, ErrNotFound
	}
	return link, nil
}

func (s *mockStore) UpsertLink(ctx context.Context, link domain.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.links[link.Key()] = link
	return nil
}

func (s *mockStore) InsertRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, run)
	return nil
}

func (s *mockStore) FinalizeRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	s.finalized = append(s.finalized, run)
	return nil
}

func (s *mockStore) linkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *mockStore) linkFor(key domain.LinkKey) (domain.Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[key]
	return link, ok
}

func (s *mockStore) insertedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

func (s *mockStore) lastFinalized() (domain.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.finalized) == 0 {
		return domain.Run{}, false
	}
	return s.finalized[len(s.finalized)-1], true
}

// mockSources serves all four source collaborators from fixed slices.
// When block is non-nil, ListActiveContracts waits on it; tests use that to
// hold a run open.
type mockSources struct {
	mu        sync.Mutex
	contracts []domain.Contract
	licenses  []domain.License
	policies  []domain.Policy
	vulns     []domain.Vulnerability

	contractsErr error
	licensesErr  error
	policiesErr  error
	vulnsErr     error

	block chan struct{}
}

func (m *mockSources) ListActiveContracts(ctx context.Context, tenantID uuid.UUID) ([]domain.Contract, error) {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contractsErr != nil {
		return nil, m.contractsErr
	}
	return append([]domain.Contract(nil), m.contracts...), nil
}

func (m *mockSources) ListLicenses(ctx context.Context, tenantID uuid.UUID) ([]domain.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.licensesErr != nil {
		return nil, m.licensesErr
	}
	return append([]domain.License(nil), m.licenses...), nil
}

func (m *mockSources) ListOverdueForReview(ctx context.Context, tenantID uuid.UUID) ([]domain.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policiesErr != nil {
		return nil, m.policiesErr
	}
	return append([]domain.Policy(nil), m.policies...), nil
}

func (m *mockSources) ListVulnerabilities(ctx context.Context, tenantID uuid.UUID) ([]domain.Vulnerability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vulnsErr != nil {
		return nil, m.vulnsErr
	}
	return append([]domain.Vulnerability(nil), m.vulns...), nil
}

// mockTargets implements all four target collaborators with in-memory maps.
type mockTargets struct {
	mu       sync.Mutex
	risks    map[uuid.UUID]domain.RiskItem
	tickets  map[uuid.UUID]domain.Ticket
	findings map[uuid.UUID]domain.Finding
	changes  map[uuid.UUID]domain.ChangeRequest

	createErr map[domain.TargetType]error
	updateErr map[domain.TargetType]error
}

func newMockTargets() *mockTargets {
	return &mockTargets{
		risks:     make(map[uuid.UUID]domain.RiskItem),
		tickets:   make(map[uuid.UUID]domain.Ticket),
		findings:  make(map[uuid.UUID]domain.Finding),
		changes:   make(map[uuid.UUID]domain.ChangeRequest),
		createErr: make(map[domain.TargetType]error),
		updateErr: make(map[domain.TargetType]error),
	}
}

func (m *mockTargets) GetRiskItem(ctx context.Context, id uuid.UUID) (domain.RiskItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.risks[id]
	if !ok {
		return domain.RiskItem{}, ErrNotFound
	}
	return item, nil
}

func (m *mockTargets) CreateRiskItem(ctx context.Context, item domain.RiskItem) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[domain.TargetTypeRisk]; err != nil {
		return uuid.Nil, err
	}
	item.ID = uuid.New()
	m.risks[item.ID] = item
	return item.ID, nil
}

func (m *mockTargets) UpdateRiskItem(ctx context.Context, id uuid.UUID, patch domain.RiskItemPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[domain.TargetTypeRisk]; err != nil {
		return err
	}
	item, ok := m.risks[id]
	if !ok {
		return ErrNotFound
	}
	item.Description = patch.Description
	item.Likelihood = patch.Likelihood
	item.Mitigation = patch.Mitigation
	m.risks[id] = item
	return nil
}

func (m *mockTargets) GetTicket(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return domain.Ticket{}, ErrNotFound
	}
	return t, nil
}

func (m *mockTargets) CreateTicket(ctx context.Context, t domain.Ticket) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[domain.TargetTypeTicket]; err != nil {
		return uuid.Nil, err
	}
	t.ID = uuid.New()
	m.tickets[t.ID] = t
	return t.ID, nil
}

func (m *mockTargets) UpdateTicket(ctx context.Context, id uuid.UUID, patch domain.TicketPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[domain.TargetTypeTicket]; err != nil {
		return err
	}
	t, ok := m.tickets[id]
	if !ok {
		return ErrNotFound
	}
	t.Description = patch.Description
	t.Priority = patch.Priority
	t.DueDate = patch.DueDate
	m.tickets[id] = t
	return nil
}

func (m *mockTargets) GetFinding(ctx context.Context, id uuid.UUID) (domain.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.findings[id]
	if !ok {
		return domain.Finding{}, ErrNotFound
	}
	return f, nil
}

func (m *mockTargets) CreateFinding(ctx context.Context, f domain.Finding) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[domain.TargetTypeFinding]; err != nil {
		return uuid.Nil, err
	}
	f.ID = uuid.New()
	m.findings[f.ID] = f
	return f.ID, nil
}

func (m *mockTargets) UpdateFinding(ctx context.Context, id uuid.UUID, patch domain.FindingPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[domain.TargetTypeFinding]; err != nil {
		return err
	}
	f, ok := m.findings[id]
	if !ok {
		return ErrNotFound
	}
	f.Description = patch.Description
	f.Severity = patch.Severity
	f.DueDate = patch.DueDate
	m.findings[id] = f
	return nil
}

func (m *mockTargets) GetChangeRequest(ctx context.Context, id uuid.UUID) (domain.ChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.changes[id]
	if !ok {
		return domain.ChangeRequest{}, ErrNotFound
	}
	return cr, nil
}

func (m *mockTargets) CreateChangeRequest(ctx context.Context, cr domain.ChangeRequest) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[domain.TargetTypeChange]; err != nil {
		return uuid.Nil, err
	}
	cr.ID = uuid.New()
	m.changes[cr.ID] = cr
	return cr.ID, nil
}

func (m *mockTargets) UpdateChangeRequest(ctx context.Context, id uuid.UUID, patch domain.ChangeRequestPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[domain.TargetTypeChange]; err != nil {
		return err
	}
	cr, ok := m.changes[id]
	if !ok {
		return ErrNotFound
	}
	cr.Description = patch.Description
	cr.RiskLevel = patch.RiskLevel
	cr.ImpactLevel = patch.ImpactLevel
	cr.PlannedStart = patch.PlannedStart
	cr.PlannedEnd = patch.PlannedEnd
	m.changes[id] = cr
	return nil
}

func (m *mockTargets) setTicketStatus(id uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tickets[id]
	t.Status = status
	m.tickets[id] = t
}

func (m *mockTargets) riskByID(id uuid.UUID) (domain.RiskItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.risks[id]
	return item, ok
}

func (m *mockTargets) ticketByID(id uuid.UUID) (domain.Ticket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	return t, ok
}

// stubBreaker blocks the configured target types.
type stubBreaker struct {
	mu        sync.Mutex
	blocked   map[string]bool
	successes int
	failures  int
}

func (b *stubBreaker) Allow(target string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.blocked[target]
}

func (b *stubBreaker) RecordSuccess(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes++
}

func (b *stubBreaker) RecordFailure(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
}

var (
	testTenant = testutil.MustParseUUID("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestEngine(store *mockStore, sources *mockSources, targets *mockTargets) *Engine {
	eng := New(store, Sources{
		Contracts:       sources,
		Licenses:        sources,
		Policies:        sources,
		Vulnerabilities: sources,
	}, Targets{
		Risks:    targets,
		Tickets:  targets,
		Findings: targets,
		Changes:  targets,
	})
	eng.clock = func() time.Time { return testNow }
	return eng
}

func expiringContract(endsInDays, noticeDays int) domain.Contract {
	return domain.Contract{
		ID:                uuid.New(),
		TenantID:          testTenant,
		Title:             "Datacenter colocation",
		ContractNumber:    "CTR-2024-017",
		Owner:             "procurement",
		EndDate:           testNow.AddDate(0, 0, endsInDays),
		RenewalNoticeDays: noticeDays,
	}
}

func TestRunNowContractCreatesRiskAndTicket(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenants = []uuid.UUID{testTenant}
	targets := newMockTargets()
	ct := expiringContract(5, 90)
	sources := &mockSources{contracts: []domain.Contract{ct}}
	eng := newTestEngine(store, sources, targets)

	run, err := eng.RunNow(ctx, domain.TriggerManual, nil)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	if run.Status != domain.RunStatusSuccess {
		t.Errorf("status = %s, want success", run.Status)
	}
	if run.Counters.Processed != 1 || run.Counters.Created != 2 || run.Counters.Updated != 0 {
		t.Errorf("counters = %+v, want processed=1 created=2 updated=0", run.Counters)
	}
	if store.linkCount() != 2 {
		t.Fatalf("link count = %d, want 2", store.linkCount())
	}

	riskLink, ok := store.linkFor(domain.LinkKey{
		TenantID:   testTenant,
		Automation: domain.AutomationContractExpiry,
		SourceType: domain.SourceTypeContract,
		SourceID:   ct.ID,
		TargetType: domain.TargetTypeRisk,
	})
	if !ok {
		t.Fatal("risk link missing")
	}
	risk, ok := targets.riskByID(riskLink.TargetID)
	if !ok {
		t.Fatal("risk item missing")
	}
	if risk.Likelihood != 4 || risk.Impact != 4 {
		t.Errorf("risk likelihood/impact = %d/%d, want 4/4", risk.Likelihood, risk.Impact)
	}

	ticketLink, ok := store.linkFor(domain.LinkKey{
		TenantID:   testTenant,
		Automation: domain.AutomationContractExpiry,
		SourceType: domain.SourceTypeContract,
		SourceID:   ct.ID,
		TargetType: domain.TargetTypeTicket,
	})
	if !ok {
		t.Fatal("ticket link missing")
	}
	ticket, ok := targets.ticketByID(ticketLink.TargetID)
	if !ok {
		t.Fatal("ticket missing")
	}
	if ticket.Priority != "high" {
		t.Errorf("ticket priority = %s, want high", ticket.Priority)
	}
	if ticket.DueDate == nil || !ticket.DueDate.Equal(ct.EndDate) {
		t.Errorf("ticket due date = %v, want contract end date %v", ticket.DueDate, ct.EndDate)
	}

	if !strings.Contains(run.Details, "contract_expiry=1") {
		t.Errorf("details = %q, want contract_expiry=1", run.Details)
	}
}

func TestRunNowSecondRunUpdatesInPlace(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenants = []uuid.UUID{testTenant}
	targets := newMockTargets()
	ct := expiringContract(5, 90)
	sources := &mockSources{contracts: []domain.Contract{ct}}
	eng := newTestEngine(store, sources, targets)

	if _, err := eng.RunNow(ctx, domain.TriggerManual, nil); err != nil {
		t.Fatalf("first RunNow() error = %v", err)
	}
	firstLinks := make(map[domain.LinkKey]uuid.UUID)
	for key, link := range store.links {
		firstLinks[key] = link.TargetID
	}

	run, err := eng.RunNow(ctx, domain.TriggerManual, nil)
	if err != nil {
		t.Fatalf("second RunNow() error = %v", err)
	}

	if run.Counters.Created != 0 || run.Counters.Updated != 2 {
		t.Errorf("counters = %+v, want created=0 updated=2", run.Counters)
	}
	if store.linkCount() != 2 {
		t.Errorf("link count = %d, want 2", store.linkCount())
	}
	for key, targetID := range firstLinks {
		link, ok := store.linkFor(key)
		if !ok {
			t.Fatalf("link %v vanished", key)
		}
		if link.TargetID != targetID {
			t.Errorf("link %v repointed from %s to %s", key, targetID, link.TargetID)
		}
	}
}

func TestRunNowReopensTerminalTicket(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenants = []uuid.UUID{testTenant}
	targets := newMockTargets()
	ct := expiringContract(5, 90)
	sources := &mockSources{contracts: []domain.Contract{ct}}
	eng := newTestEngine(store, sources, targets)

	if _, err := eng.RunNow(ctx, domain.TriggerManual, nil); err != nil {
		t.Fatalf("first RunNow() error = %v", err)
	}

	ticketKey := domain.LinkKey{
		TenantID:   testTenant,
		Automation: domain.AutomationContractExpiry,
		SourceType: domain.SourceTypeContract,
		SourceID:   ct.ID,
		TargetType: domain.TargetTypeTicket,
	}
	oldLink, ok := store.linkFor(ticketKey)
	if !ok {
		t.Fatal("ticket link missing")
	}
	targets.setTicketStatus(oldLink.TargetID, "closed")

	run, err := eng.RunNow(ctx, domain.TriggerManual, nil)
	if err != nil {
		t.Fatalf("second RunNow() error = %v", err)
	}

	if run.Counters.Created != 1 || run.Counters.Updated != 1 {
		t.Errorf("counters = %+v, want created=1 updated=1", run.Counters)
	}
	newLink, ok := store.linkFor(ticketKey)
	if !ok {
		t.Fatal("ticket link missing after reopen")
	}
	if newLink.TargetID == oldLink.TargetID {
		t.Error("link still points at the closed ticket, want fresh record")
	}
	fresh, ok := targets.ticketByID(newLink.TargetID)
	if !ok {
		t.Fatal("fresh ticket missing")
	}
	if fresh.Status != "open" {
		t.Errorf("fresh ticket status = %s, want open", fresh.Status)
	}
	if store.linkCount() != 2 {
		t.Errorf("link count = %d, want 2 (no duplicate links)", store.linkCount())
	}
}

func TestRunNowSingleFlight(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenants = []uuid.UUID{testTenant}
	targets := newMockTargets()
	sources := &mockSources{
		contracts: []domain.Contract{expiringContract(5, 90)},
		block:     make(chan struct{}),
	}
	eng := newTestEngine(store, sources, targets)

	done := make(chan domain.Run, 1)
	go func() {
		run, _ := eng.RunNow(ctx, domain.TriggerScheduled, nil)
		done <- run
	}()

	// Wait for the first run to pass the guard and block inside the rule.
	deadline := time.Now().Add(2 * time.Second)
	for !eng.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	skipped, err := eng.RunNow(ctx, domain.TriggerManual, nil)
	if err != nil {
		t.Fatalf("concurrent RunNow() error = %v", err)
	}
	if skipped.Status != domain.RunStatusSkipped {
		t.Errorf("concurrent run status = %s, want skipped", skipped.Status)
	}
	if skipped.ID != uuid.Nil {
		t.Errorf("concurrent run ID = %s, want nil (not persisted)", skipped.ID)
	}

	close(sources.block)
	first := <-done
	if first.Status != domain.RunStatusSuccess {
		t.Errorf("first run status = %s, want success", first.Status)
	}
	if store.insertedCount() != 1 {
		t.Errorf("inserted runs = %d, want 1 (skipped run must not be persisted)", store.insertedCount())
	}

	// The guard must be free again.
	if eng.Running() {
		t.Error("Running() = true after both runs finished")
	}
}

func TestRunNowPartialOnTargetFailure(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenants = []uuid.UUID{testTenant}
	targets := newMockTargets()
	targets.createErr[domain.TargetTypeTicket] = errors.New("service desk down")
	sources := &mockSources{contracts: []domain.Contract{expiringContract(5, 90)}}
	eng := newTestEngine(store, sources, targets)

	run, err := eng.RunNow(ctx, domain.TriggerManual, nil)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	if run.Status != domain.RunStatusPartial {
		t.Errorf("status = %s, want partial", run.Status)
	}
	if run.Counters.Created != 1 || run.Counters.Errors != 1 {
		t.Errorf("counters = %+v, want created=1 errors=1", run.Counters)
	}
}

func TestRunNowFailedWhenNothingSucceeds(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenants = []uuid.UUID{testTenant}
	listErr := errors.New("collaborator unavailable")
	sources := &mockSources{
		contractsErr: listErr,
		licensesErr:  listErr,
		policiesErr:  listErr,
		vulnsErr:     listErr,
	}
	eng := newTestEngine(store, sources, newMockTargets())

	run, err := eng.RunNow(ctx, domain.TriggerManual, nil)
	if err != nil {
		t.Fatalf("RunNow() error = %v (list failures are not fatal)", err)
	}

	if run.Status != domain.RunStatusFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if run.Counters.Errors != 4 {
		t.Errorf("errors = %d, want 4 (one per rule)", run.Counters.Errors)
	}
}

func TestRunNowSkippedWhenNoEligibleRecords(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenants = []uuid.UUID{testTenant}
	eng := newTestEngine(store, &mockSources{}, newMockTargets())

	run, err := eng.RunNow(ctx, domain.TriggerScheduled, nil)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if run.Status != domain.RunStatusSkipped {
		t.Errorf("status = %s, want skipped", run.Status)
	}
	if got, ok := store.lastFinalized(); !ok || got.Status != domain.RunStatusSkipped {
		t.Errorf("finalized run = %+v (ok=%v), want skipped", got, ok)
	}
}

func TestRunNowTenantResolutionFailureIsFatal(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenantsErr = errors.New("tenant registry down")
	eng := newTestEngine(store, &mockSources{}, newMockTargets())

	run, err := eng.RunNow(ctx, domain.TriggerScheduled, nil)
	if err == nil {
		t.Fatal("RunNow() error = nil, want fatal error")
	}
	if run.Status != domain.RunStatusFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	got, ok := store.lastFinalized()
	if !ok {
		t.Fatal("run was not finalized")
	}
	if got.Status != domain.RunStatusFailed {
		t.Errorf("finalized status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Details, "fatal:") {
		t.Errorf("details = %q, want fatal error summary", got.Details)
	}
	if eng.Running() {
		t.Error("Running() = true after fatal run, guard not released")
	}
}

func TestRunNowScopedToTenantSkipsResolution(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenantsErr = errors.New("must not be called")
	sources := &mockSources{contracts: []domain.Contract{expiringContract(5, 90)}}
	eng := newTestEngine(store, sources, newMockTargets())

	tenant := testTenant
	run, err := eng.RunNow(ctx, domain.TriggerManual, &tenant)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if run.Status != domain.RunStatusSuccess {
		t.Errorf("status = %s, want success", run.Status)
	}
	if run.TenantID == nil || *run.TenantID != tenant {
		t.Errorf("run tenant = %v, want %s", run.TenantID, tenant)
	}
}

func TestRunNowBreakerPausesTarget(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenants = []uuid.UUID{testTenant}
	sources := &mockSources{contracts: []domain.Contract{expiringContract(5, 90)}}
	breaker := &stubBreaker{blocked: map[string]bool{string(domain.TargetTypeRisk): true}}
	eng := newTestEngine(store, sources, newMockTargets()).WithBreaker(breaker)

	run, err := eng.RunNow(ctx, domain.TriggerManual, nil)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	// A paused target counts as skipped, not as an error.
	if run.Counters.Skipped != 1 || run.Counters.Errors != 0 {
		t.Errorf("counters = %+v, want skipped=1 errors=0", run.Counters)
	}
	if run.Status != domain.RunStatusSkipped {
		t.Errorf("status = %s, want skipped (nothing was written)", run.Status)
	}
}

func TestRunNowFinalizeFailureReturnsError(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := newMockStore()
	store.tenants = []uuid.UUID{testTenant}
	store.finalizeErr = errors.New("ledger write failed")
	sources := &mockSources{contracts: []domain.Contract{expiringContract(5, 90)}}
	eng := newTestEngine(store, sources, newMockTargets())

	_, err := eng.RunNow(ctx, domain.TriggerManual, nil)
	if err == nil {
		t.Fatal("RunNow() error = nil, want finalize error")
	}
	if eng.Running() {
		t.Error("Running() = true, guard not released after finalize failure")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		c     domain.Counters
		fatal error
		want  domain.RunStatus
	}{
		{"fatal wins", domain.Counters{Processed: 3, Created: 2}, errors.New("boom"), domain.RunStatusFailed},
		{"all errors", domain.Counters{Processed: 2, Errors: 2}, nil, domain.RunStatusFailed},
		{"some errors", domain.Counters{Processed: 2, Created: 1, Errors: 1}, nil, domain.RunStatusPartial},
		{"no work", domain.Counters{}, nil, domain.RunStatusSkipped},
		{"all paused", domain.Counters{Processed: 2, Skipped: 2}, nil, domain.RunStatusSkipped},
		{"clean", domain.Counters{Processed: 2, Created: 1, Updated: 1}, nil, domain.RunStatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(&tt.c, tt.fatal); got != tt.want {
				t.Errorf("classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
