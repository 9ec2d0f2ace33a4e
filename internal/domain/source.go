package domain

import (
	"time"

	"github.com/google/uuid"
)

// Source records are owned by external collaborator services; the engine
// only ever reads them through the per-rule list operations.

// Contract is an active vendor contract.
type Contract struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	Title          string
	ContractNumber string
	Owner          string

	EndDate           time.Time
	RenewalNoticeDays int
}

type LicenseStatus string

const (
	LicenseStatusOK               LicenseStatus = "ok"
	LicenseStatusExpiring         LicenseStatus = "expiring"
	LicenseStatusExpiringCritical LicenseStatus = "expiring_critical"
	LicenseStatusExpired          LicenseStatus = "expired"
	LicenseStatusOverAllocated    LicenseStatus = "over_allocated"
)

// License carries the license service's computed compliance status.
type License struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	SoftwareName string
	Vendor       string
	Owner        string

	Status        LicenseStatus
	DaysRemaining int
	ExpiryDate    *time.Time
}

// Policy is a governance policy whose review is overdue. The policy service
// pre-filters to overdue entries; NextReviewDue is always in the past.
type Policy struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	Title string
	Owner string

	RiskLevel     string
	NextReviewDue time.Time
}

type VulnSeverity string

const (
	VulnSeverityCritical VulnSeverity = "critical"
	VulnSeverityHigh     VulnSeverity = "high"
	VulnSeverityMedium   VulnSeverity = "medium"
	VulnSeverityLow      VulnSeverity = "low"
)

type VulnStatus string

const (
	VulnStatusOpen       VulnStatus = "open"
	VulnStatusInProgress VulnStatus = "in_progress"
	VulnStatusPatched    VulnStatus = "patched"
	VulnStatusMitigated  VulnStatus = "mitigated"
	VulnStatusWontFix    VulnStatus = "wont_fix"
)

// Closed reports whether the vulnerability no longer needs remediation.
func (s VulnStatus) Closed() bool {
	return s == VulnStatusPatched || s == VulnStatusMitigated || s == VulnStatusWontFix
}

// Vulnerability is a tracked security finding against a component.
type Vulnerability struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	CVEID             string
	AffectedComponent string

	Severity              VulnSeverity
	Status                VulnStatus
	TargetRemediationDate *time.Time
}
