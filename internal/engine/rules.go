package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/govsync/internal/domain"
)

// rule is one automation policy. The four rules share the same shape
// (evaluate eligibility, synthesize payloads, delegate to ensure), so they
// live in a table rather than four separate code paths.
type rule struct {
	automation domain.AutomationType
	eval       func(e *Engine, ctx context.Context, tenantID uuid.UUID, c *domain.Counters) error
}

var ruleTable = []rule{
	{domain.AutomationContractExpiry, (*Engine).evalContractExpiry},
	{domain.AutomationLicenseCompliance, (*Engine).evalLicenseCompliance},
	{domain.AutomationPolicyReview, (*Engine).evalPolicyReview},
	{domain.AutomationVulnRemediation, (*Engine).evalVulnRemediation},
}

// Terminal downstream states: once a record reaches one of these, the next
// eligible run creates a fresh record instead of updating the old one.
var (
	ticketTerminal  = statusSet("closed", "resolved")
	riskTerminal    = statusSet("closed", "accepted", "resolved", "retired")
	findingTerminal = statusSet("closed", "resolved")
	changeTerminal  = statusSet("completed", "rejected", "cancelled")
)

func statusSet(statuses ...string) func(string) bool {
	set := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return func(s string) bool { return set[s] }
}

// Contract expiry: contracts ending within max(1, renewalNoticeDays) days,
// including past-due ones, get a risk-register entry and a renewal ticket.
func (e *Engine) evalContractExpiry(ctx context.Context, tenantID uuid.UUID, c *domain.Counters) error {
	contracts, err := e.sources.Contracts.ListActiveContracts(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list contracts: %w", err)
	}

	now := e.clock().UTC()
	for _, ct := range contracts {
		notice := ct.RenewalNoticeDays
		if notice < 1 {
			notice = 1
		}
		if ct.EndDate.After(now.AddDate(0, 0, notice)) {
			continue
		}

		c.Processed++
		c.Hit(domain.AutomationContractExpiry)
		e.recordHit(ctx, tenantID, domain.AutomationContractExpiry, now)

		daysLeft := daysUntil(now, ct.EndDate)
		likelihood, priority := contractUrgency(daysLeft)
		notes := fmt.Sprintf("contract %s (%s) ends %s",
			ct.ContractNumber, ct.Title, ct.EndDate.Format("2006-01-02"))
		desc := fmt.Sprintf("Contract %s %q with owner %s ends on %s (%d days notice configured).",
			ct.ContractNumber, ct.Title, ct.Owner, ct.EndDate.Format("2006-01-02"), ct.RenewalNoticeDays)

		key := domain.LinkKey{
			TenantID:   tenantID,
			Automation: domain.AutomationContractExpiry,
			SourceType: domain.SourceTypeContract,
			SourceID:   ct.ID,
		}

		key.TargetType = domain.TargetTypeRisk
		out, err := e.ensure(ctx, key, notes, e.riskOps(
			domain.RiskItem{
				TenantID:      tenantID,
				Title:         "Contract renewal due: " + ct.Title,
				Description:   desc,
				Domain:        "vendor_management",
				Likelihood:    likelihood,
				Impact:        4,
				Status:        "open",
				Owner:         ct.Owner,
				Mitigation:    "Initiate renewal or termination before the contract end date.",
				ReviewCadence: "monthly",
			},
			domain.RiskItemPatch{
				Description: desc,
				Likelihood:  likelihood,
				Mitigation:  "Initiate renewal or termination before the contract end date.",
			},
		))
		if e.entityDone(c, tenantID, ct.ID, out, err) {
			continue
		}

		dueDate := ct.EndDate
		key.TargetType = domain.TargetTypeTicket
		out, err = e.ensure(ctx, key, notes, e.ticketOps(
			domain.Ticket{
				TenantID:    tenantID,
				Title:       "Renew contract: " + ct.Title,
				Description: desc,
				Type:        "request",
				Category:    "contract_renewal",
				Priority:    priority,
				Status:      "open",
				Reporter:    "automation",
				Assignee:    ct.Owner,
				DueDate:     &dueDate,
			},
			domain.TicketPatch{Description: desc, Priority: priority, DueDate: &dueDate},
		))
		e.entityDone(c, tenantID, ct.ID, out, err)
	}
	return nil
}

// License compliance: over-allocated, expired or critically expiring
// licenses get a risk-register entry and a remediation ticket.
func (e *Engine) evalLicenseCompliance(ctx context.Context, tenantID uuid.UUID, c *domain.Counters) error {
	licenses, err := e.sources.Licenses.ListLicenses(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list licenses: %w", err)
	}

	now := e.clock().UTC()
	for _, lic := range licenses {
		switch lic.Status {
		case domain.LicenseStatusOverAllocated, domain.LicenseStatusExpired, domain.LicenseStatusExpiringCritical:
		default:
			continue
		}

		c.Processed++
		c.Hit(domain.AutomationLicenseCompliance)
		e.recordHit(ctx, tenantID, domain.AutomationLicenseCompliance, now)

		likelihood, priority := licenseUrgency(lic)
		notes := fmt.Sprintf("license %s (%s) status=%s", lic.SoftwareName, lic.Vendor, lic.Status)
		desc := fmt.Sprintf("License for %s (vendor %s) is %s; %d days remaining.",
			lic.SoftwareName, lic.Vendor, lic.Status, lic.DaysRemaining)

		// Due at the license expiry or 14 days out, whichever is sooner.
		dueDate := now.AddDate(0, 0, 14)
		if lic.ExpiryDate != nil && lic.ExpiryDate.Before(dueDate) {
			dueDate = *lic.ExpiryDate
		}

		key := domain.LinkKey{
			TenantID:   tenantID,
			Automation: domain.AutomationLicenseCompliance,
			SourceType: domain.SourceTypeLicense,
			SourceID:   lic.ID,
		}

		key.TargetType = domain.TargetTypeRisk
		out, err := e.ensure(ctx, key, notes, e.riskOps(
			domain.RiskItem{
				TenantID:      tenantID,
				Title:         "License compliance: " + lic.SoftwareName,
				Description:   desc,
				Domain:        "software_asset_management",
				Likelihood:    likelihood,
				Impact:        4,
				Status:        "open",
				Owner:         lic.Owner,
				Mitigation:    "Purchase additional seats or renew the license agreement.",
				ReviewCadence: "monthly",
			},
			domain.RiskItemPatch{
				Description: desc,
				Likelihood:  likelihood,
				Mitigation:  "Purchase additional seats or renew the license agreement.",
			},
		))
		if e.entityDone(c, tenantID, lic.ID, out, err) {
			continue
		}

		key.TargetType = domain.TargetTypeTicket
		out, err = e.ensure(ctx, key, notes, e.ticketOps(
			domain.Ticket{
				TenantID:    tenantID,
				Title:       "Resolve license issue: " + lic.SoftwareName,
				Description: desc,
				Type:        "request",
				Category:    "license_compliance",
				Priority:    priority,
				Status:      "open",
				Reporter:    "automation",
				Assignee:    lic.Owner,
				DueDate:     &dueDate,
			},
			domain.TicketPatch{Description: desc, Priority: priority, DueDate: &dueDate},
		))
		e.entityDone(c, tenantID, lic.ID, out, err)
	}
	return nil
}

// Policy overdue review: the policy service pre-filters to overdue entries;
// each gets an audit finding due in 14 days.
func (e *Engine) evalPolicyReview(ctx context.Context, tenantID uuid.UUID, c *domain.Counters) error {
	policies, err := e.sources.Policies.ListOverdueForReview(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list overdue policies: %w", err)
	}

	now := e.clock().UTC()
	for _, p := range policies {
		c.Processed++
		c.Hit(domain.AutomationPolicyReview)
		e.recordHit(ctx, tenantID, domain.AutomationPolicyReview, now)

		severity := policySeverity(p.RiskLevel)
		overdueDays := daysUntil(p.NextReviewDue, now)
		notes := fmt.Sprintf("policy %q review due %s", p.Title, p.NextReviewDue.Format("2006-01-02"))
		desc := fmt.Sprintf("Policy %q was due for review on %s (%d days overdue).",
			p.Title, p.NextReviewDue.Format("2006-01-02"), overdueDays)
		dueDate := now.AddDate(0, 0, 14)

		key := domain.LinkKey{
			TenantID:   tenantID,
			Automation: domain.AutomationPolicyReview,
			SourceType: domain.SourceTypePolicy,
			SourceID:   p.ID,
			TargetType: domain.TargetTypeFinding,
		}

		out, err := e.ensure(ctx, key, notes, e.findingOps(
			domain.Finding{
				TenantID:         tenantID,
				Title:            "Policy review overdue: " + p.Title,
				Description:      desc,
				Source:           "policy_review_automation",
				Severity:         severity,
				Status:           "open",
				Owner:            p.Owner,
				DueDate:          &dueDate,
				CorrectiveAction: "Review, update and re-approve the policy.",
			},
			domain.FindingPatch{Description: desc, Severity: severity, DueDate: &dueDate},
		))
		e.entityDone(c, tenantID, p.ID, out, err)
	}
	return nil
}

// Vulnerability remediation: open critical/high vulnerabilities get a change
// request with a planned remediation window.
func (e *Engine) evalVulnRemediation(ctx context.Context, tenantID uuid.UUID, c *domain.Counters) error {
	vulns, err := e.sources.Vulnerabilities.ListVulnerabilities(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list vulnerabilities: %w", err)
	}

	now := e.clock().UTC()
	for _, v := range vulns {
		if v.Severity != domain.VulnSeverityCritical && v.Severity != domain.VulnSeverityHigh {
			continue
		}
		if v.Status.Closed() {
			continue
		}

		c.Processed++
		c.Hit(domain.AutomationVulnRemediation)
		e.recordHit(ctx, tenantID, domain.AutomationVulnRemediation, now)

		riskLevel, impactLevel := vulnLevels(v.Severity)
		plannedEnd := remediationDeadline(now, v)
		notes := fmt.Sprintf("vulnerability %s on %s severity=%s", v.CVEID, v.AffectedComponent, v.Severity)
		desc := fmt.Sprintf("Remediate %s (%s severity) affecting %s by %s.",
			v.CVEID, v.Severity, v.AffectedComponent, plannedEnd.Format("2006-01-02"))

		key := domain.LinkKey{
			TenantID:   tenantID,
			Automation: domain.AutomationVulnRemediation,
			SourceType: domain.SourceTypeVulnerability,
			SourceID:   v.ID,
			TargetType: domain.TargetTypeChange,
		}

		out, err := e.ensure(ctx, key, notes, e.changeOps(
			domain.ChangeRequest{
				TenantID:       tenantID,
				Title:          fmt.Sprintf("Remediate %s on %s", v.CVEID, v.AffectedComponent),
				Description:    desc,
				Category:       "security_patch",
				RiskLevel:      riskLevel,
				ImpactLevel:    impactLevel,
				Status:         "submitted",
				Requester:      "automation",
				PlannedStart:   now,
				PlannedEnd:     plannedEnd,
				OutageExpected: true,
				RollbackPlan:   "Roll back to the previous package version and restore the pre-change snapshot.",
				TestPlan:       fmt.Sprintf("Confirm the scanner no longer reports %s and smoke-test %s.", v.CVEID, v.AffectedComponent),
			},
			domain.ChangeRequestPatch{
				Description:  desc,
				RiskLevel:    riskLevel,
				ImpactLevel:  impactLevel,
				PlannedStart: now,
				PlannedEnd:   plannedEnd,
			},
		))
		e.entityDone(c, tenantID, v.ID, out, err)
	}
	return nil
}

// entityDone tallies one ensure result. It returns true when the remaining
// downstream work for this source entity should be abandoned. Breaker-paused
// targets count as skipped; everything else counts as one error and never
// stops the other entities.
func (e *Engine) entityDone(c *domain.Counters, tenantID, sourceID uuid.UUID, out ensureOutcome, err error) bool {
	if err == nil {
		tally(c, out)
		return false
	}
	if errors.Is(err, ErrTargetPaused) {
		c.Skipped++
		log.Printf("engine: tenant=%s source=%s: %v", tenantID, sourceID, err)
		return true
	}
	c.Errors++
	log.Printf("engine: tenant=%s source=%s: %v", tenantID, sourceID, err)
	return true
}

func (e *Engine) recordHit(ctx context.Context, tenantID uuid.UUID, a domain.AutomationType, at time.Time) {
	if e.analytics != nil {
		e.analytics.RecordRuleHit(ctx, tenantID, a, at)
	}
}

// targetOps constructors, one per collaborator.

func (e *Engine) riskOps(item domain.RiskItem, patch domain.RiskItemPatch) targetOps {
	return targetOps{
		fetchStatus: func(ctx context.Context, id uuid.UUID) (string, error) {
			existing, err := e.targets.Risks.GetRiskItem(ctx, id)
			return existing.Status, err
		},
		create: func(ctx context.Context) (uuid.UUID, error) {
			return e.targets.Risks.CreateRiskItem(ctx, item)
		},
		update: func(ctx context.Context, id uuid.UUID) error {
			return e.targets.Risks.UpdateRiskItem(ctx, id, patch)
		},
		terminal: riskTerminal,
	}
}

func (e *Engine) ticketOps(t domain.Ticket, patch domain.TicketPatch) targetOps {
	return targetOps{
		fetchStatus: func(ctx context.Context, id uuid.UUID) (string, error) {
			existing, err := e.targets.Tickets.GetTicket(ctx, id)
			return existing.Status, err
		},
		create: func(ctx context.Context) (uuid.UUID, error) {
			return e.targets.Tickets.CreateTicket(ctx, t)
		},
		update: func(ctx context.Context, id uuid.UUID) error {
			return e.targets.Tickets.UpdateTicket(ctx, id, patch)
		},
		terminal: ticketTerminal,
	}
}

func (e *Engine) findingOps(f domain.Finding, patch domain.FindingPatch) targetOps {
	return targetOps{
		fetchStatus: func(ctx context.Context, id uuid.UUID) (string, error) {
			existing, err := e.targets.Findings.GetFinding(ctx, id)
			return existing.Status, err
		},
		create: func(ctx context.Context) (uuid.UUID, error) {
			return e.targets.Findings.CreateFinding(ctx, f)
		},
		update: func(ctx context.Context, id uuid.UUID) error {
			return e.targets.Findings.UpdateFinding(ctx, id, patch)
		},
		terminal: findingTerminal,
	}
}

func (e *Engine) changeOps(cr domain.ChangeRequest, patch domain.ChangeRequestPatch) targetOps {
	return targetOps{
		fetchStatus: func(ctx context.Context, id uuid.UUID) (string, error) {
			existing, err := e.targets.Changes.GetChangeRequest(ctx, id)
			return existing.Status, err
		},
		create: func(ctx context.Context) (uuid.UUID, error) {
			return e.targets.Changes.CreateChangeRequest(ctx, cr)
		},
		update: func(ctx context.Context, id uuid.UUID) error {
			return e.targets.Changes.UpdateChangeRequest(ctx, id, patch)
		},
		terminal: changeTerminal,
	}
}

// Urgency and severity derivations.

// daysUntil returns whole days from `from` to `to`, negative when past due.
func daysUntil(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// contractUrgency maps days left to likelihood and ticket priority.
// Past due is the highest urgency; exactly 14 days still counts as high.
func contractUrgency(daysLeft int) (likelihood int, priority string) {
	switch {
	case daysLeft < 0:
		return 5, "critical"
	case daysLeft <= 14:
		return 4, "high"
	default:
		return 3, "medium"
	}
}

// licenseUrgency maps the computed license status to likelihood and ticket
// priority. Expired and over-allocated are critical regardless of days
// remaining; zero days remaining arrives here as expired, not
// expiring_critical.
func licenseUrgency(lic domain.License) (likelihood int, priority string) {
	switch {
	case lic.Status == domain.LicenseStatusExpired || lic.Status == domain.LicenseStatusOverAllocated:
		return 5, "critical"
	case lic.DaysRemaining <= 14:
		return 4, "high"
	default:
		return 3, "medium"
	}
}

func policySeverity(riskLevel string) string {
	switch riskLevel {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

func vulnLevels(sev domain.VulnSeverity) (riskLevel, impactLevel string) {
	if sev == domain.VulnSeverityCritical {
		return "critical", "high"
	}
	return "high", "medium"
}

// remediationDeadline returns the vulnerability's target remediation date,
// defaulting to +7 days for critical and +14 days for high severity.
func remediationDeadline(now time.Time, v domain.Vulnerability) time.Time {
	if v.TargetRemediationDate != nil {
		return *v.TargetRemediationDate
	}
	if v.Severity == domain.VulnSeverityCritical {
		return now.AddDate(0, 0, 7)
	}
	return now.AddDate(0, 0, 14)
}
