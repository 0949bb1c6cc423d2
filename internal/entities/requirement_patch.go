package entities

// RequirementPatch is a partial row sent by a client. Nil fields were not
// supplied and keep their committed value.
type RequirementPatch struct {
	ClientName        *string `json:"client_name"`
	RequirementID     *string `json:"requirement_id"`
	JobTitle          *string `json:"job_title"`
	Status            *Status `json:"status" validate:"omitempty,requirement_status"`
	Slots             *int    `json:"slots" validate:"omitempty,gte=0"`
	AssignedRecruiter *string `json:"assigned_recruiter"`
	Working           *string `json:"working"`
}

func (p RequirementPatch) IsEmpty() bool {
	return p.ClientName == nil && p.RequirementID == nil && p.JobTitle == nil &&
		p.Status == nil && p.Slots == nil && p.AssignedRecruiter == nil && p.Working == nil
}

// Apply overlays the supplied fields onto base. Working is normalized, the
// claim rules are not applied here.
func (p RequirementPatch) Apply(base Requirement) Requirement {
	if p.ClientName != nil {
		base.ClientName = *p.ClientName
	}
	if p.RequirementID != nil {
		base.RequirementID = *p.RequirementID
	}
	if p.JobTitle != nil {
		base.JobTitle = *p.JobTitle
	}
	if p.Status != nil {
		base.Status = *p.Status
	}
	if p.Slots != nil {
		base.Slots = *p.Slots
	}
	if p.AssignedRecruiter != nil {
		base.AssignedRecruiter = *p.AssignedRecruiter
	}
	if p.Working != nil {
		base.Working = *p.Working
	}
	base.Working = NormalizeWorking(base.Working)
	return base
}
