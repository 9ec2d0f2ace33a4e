package domain

import (
	"time"

	"github.com/google/uuid"
)

// Downstream governance records. Each is owned by its collaborator service;
// the engine creates and updates them only through that collaborator's
// contract and never touches their storage directly.

// RiskItem is a risk-register entry. Likelihood and impact are 1..5.
type RiskItem struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	Title       string
	Description string
	Domain      string

	Likelihood int
	Impact     int

	Status        string
	Owner         string
	Mitigation    string
	ReviewCadence string
}

// RiskItemPatch carries the fields the engine refreshes on an existing risk.
type RiskItemPatch struct {
	Description string
	Likelihood  int
	Mitigation  string
}

// Ticket is a service-desk ticket.
type Ticket struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	Title       string
	Description string
	Type        string
	Category    string

	Priority string
	Status   string

	Reporter string
	Assignee string
	DueDate  *time.Time
}

type TicketPatch struct {
	Description string
	Priority    string
	DueDate     *time.Time
}

// Finding is an audit/compliance finding.
type Finding struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	Title       string
	Description string
	Source      string

	Severity string
	Status   string

	Owner            string
	DueDate          *time.Time
	CorrectiveAction string
}

type FindingPatch struct {
	Description string
	Severity    string
	DueDate     *time.Time
}

// ChangeRequest is a change-management record with a planned window.
type ChangeRequest struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	Title       string
	Description string
	Category    string

	RiskLevel   string
	ImpactLevel string
	Status      string

	Requester      string
	PlannedStart   time.Time
	PlannedEnd     time.Time
	OutageExpected bool
	RollbackPlan   string
	TestPlan       string
}

type ChangeRequestPatch struct {
	Description  string
	RiskLevel    string
	ImpactLevel  string
	PlannedStart time.Time
	PlannedEnd   time.Time
}
