package events

var ClaimAcquiredTopic = "ClaimAcquiredEvent"
var ClaimReleasedTopic = "ClaimReleasedEvent"
var ClaimRejectedTopic = "ClaimRejectedEvent"

type ClaimAcquired struct {
	RequirementID int
	Recruiter     string
}

// ClaimReleased is published when a recruiter loses the claim on a row. Reason
// says whether it was cleared, taken over or the row stopped being workable.
type ClaimReleased struct {
	RequirementID int
	Recruiter     string
	Reason        string
}

type ClaimRejected struct {
	RequirementID int
	Recruiter     string
	HeldID        int
}
