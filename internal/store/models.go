package store

import "time"

type Owner struct {
	ID           string
	DisplayName  string
	TeamName     string
	Role         string
	PasscodeHash string
	CreatedAt    time.Time
}

type Meeting struct {
	ID          string
	ClubYear    int
	Status      string
	Locked      bool
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

type Proposal struct {
	ID            string
	MeetingID     string
	Title         string
	Summary       string
	EffectiveDate *time.Time
	Status        string
	CreatedAt     time.Time
}

type ProposalVersion struct {
	ID            string
	ProposalID    string
	VersionNumber int
	FullText      string
	Rationale     string
	CreatedBy     string
	IsActive      bool
	CreatedAt     time.Time
}

type Amendment struct {
	ID              string
	ProposalID      string
	ProposedText    string
	Rationale       string
	SubmittedByTeam string
	Status          string
	CreatedAt       time.Time
}

type VoteSession struct {
	ProposalVersionID string
	ProposalID        string
	MeetingID         string
	Status            string
	OpenedAt          *time.Time
	OpenedByTeam      string
	ClosedAt          *time.Time
	ClosedByTeam      string
	TalliedAt         *time.Time
	TalliedByTeam     string
	YesCount          int
	NoCount           int
	AbstainCount      int
	TotalCount        int
	Passed            *bool
}

type Vote struct {
	ProposalVersionID string
	OwnerID           string
	TeamName          string
	Choice            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type AuditEvent struct {
	ID         int64
	MeetingID  string
	ProposalID *string
	EventType  string
	Payload    map[string]any
	CreatedAt  time.Time
}

// VersionContext resolves a proposal version up to the meeting that owns it,
// the chain every voting mutation authorizes against.
type VersionContext struct {
	Version  ProposalVersion
	Proposal Proposal
	Meeting  Meeting
}
