package entities

import (
	"strings"
	"time"
)

type Status string

const (
	StatusOpen      Status = "Open"
	StatusOnHold    Status = "On Hold"
	StatusClosed    Status = "Closed"
	StatusCancelled Status = "Cancelled"
	StatusFilled    Status = "Filled"
)

var Statuses = []Status{StatusOpen, StatusOnHold, StatusClosed, StatusCancelled, StatusFilled}

func (s Status) IsValid() bool {
	for _, status := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// WorkingYes is the only value of Requirement.Working that marks a claim.
const WorkingYes = "Yes"

const DefaultSlots = 1

type Requirement struct {
	ID                int       `json:"id"`
	ClientName        string    `json:"client_name"`
	RequirementID     string    `json:"requirement_id"`
	JobTitle          string    `json:"job_title"`
	Status            Status    `json:"status"`
	Slots             int       `json:"slots"`
	AssignedRecruiter string    `json:"assigned_recruiter" gorm:"index:idx_requirements_claim,priority:1"`
	Working           string    `json:"working" gorm:"index:idx_requirements_claim,priority:2"`
	CreatedAt         time.Time `json:"-"`
	UpdatedAt         time.Time `json:"-"`
}

func NewRequirement(clientName, requirementID, jobTitle string) Requirement {
	return Requirement{
		ClientName:    clientName,
		RequirementID: requirementID,
		JobTitle:      jobTitle,
		Status:        StatusOpen,
		Slots:         DefaultSlots,
	}
}

// IsWorkable reports whether the requisition may be claimed at all.
func (r Requirement) IsWorkable() bool {
	return r.Status == StatusOpen && r.Slots > 0
}

func (r Requirement) IsClaimed() bool {
	return r.Working == WorkingYes
}

// IsClaimedBy reports whether recruiter holds the claim on r.
func (r Requirement) IsClaimedBy(recruiter string) bool {
	return r.IsClaimed() && recruiter != "" && r.AssignedRecruiter == recruiter
}

// SameFields compares the user visible columns, ignoring timestamps.
func (r Requirement) SameFields(other Requirement) bool {
	return r.ID == other.ID &&
		r.ClientName == other.ClientName &&
		r.RequirementID == other.RequirementID &&
		r.JobTitle == other.JobTitle &&
		r.Status == other.Status &&
		r.Slots == other.Slots &&
		r.AssignedRecruiter == other.AssignedRecruiter &&
		r.Working == other.Working
}

// NormalizeWorking maps any spelling of "yes" (case-insensitive, surrounding
// whitespace ignored) to WorkingYes and everything else to "".
func NormalizeWorking(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), "yes") {
		return WorkingYes
	}
	return ""
}
