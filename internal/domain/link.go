package domain

import (
	"time"

	"github.com/google/uuid"
)

// AutomationType identifies one of the governance automation rules.
type AutomationType string

const (
	AutomationContractExpiry    AutomationType = "contract_expiry"
	AutomationLicenseCompliance AutomationType = "license_compliance"
	AutomationPolicyReview      AutomationType = "policy_review"
	AutomationVulnRemediation   AutomationType = "vuln_remediation"
)

// AutomationTypes lists all rules in evaluation order.
var AutomationTypes = []AutomationType{
	AutomationContractExpiry,
	AutomationLicenseCompliance,
	AutomationPolicyReview,
	AutomationVulnRemediation,
}

type SourceType string

const (
	SourceTypeContract      SourceType = "contract"
	SourceTypeLicense       SourceType = "license"
	SourceTypePolicy        SourceType = "policy"
	SourceTypeVulnerability SourceType = "vulnerability"
)

type TargetType string

const (
	TargetTypeRisk    TargetType = "risk"
	TargetTypeTicket  TargetType = "ticket"
	TargetTypeFinding TargetType = "finding"
	TargetTypeChange  TargetType = "change"
)

type LinkStatus string

const (
	LinkStatusActive LinkStatus = "active"
)

// LinkKey is the idempotency tuple: at most one Link exists per key.
type LinkKey struct {
	TenantID   uuid.UUID
	Automation AutomationType
	SourceType SourceType
	SourceID   uuid.UUID
	TargetType TargetType
}

// Link records that a source condition has already produced a downstream
// record. It is updated on every run that still finds the condition eligible
// and is never deleted by the engine.
type Link struct {
	ID uuid.UUID

	TenantID   uuid.UUID
	Automation AutomationType
	SourceType SourceType
	SourceID   uuid.UUID
	TargetType TargetType

	TargetID uuid.UUID
	Status   LinkStatus
	Notes    string

	LastEvaluatedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key returns the idempotency tuple of the link.
func (l Link) Key() LinkKey {
	return LinkKey{
		TenantID:   l.TenantID,
		Automation: l.Automation,
		SourceType: l.SourceType,
		SourceID:   l.SourceID,
		TargetType: l.TargetType,
	}
}

// LinkSummary is an aggregate row for the status API: link counts grouped by
// automation rule and target type.
type LinkSummary struct {
	Automation      AutomationType
	TargetType      TargetType
	Count           int
	LastEvaluatedAt time.Time
}
