package models

import (
	"time"
)

// Role defines what a participant may do in a room.
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// IssueStatus defines the estimation status of an issue.
type IssueStatus string

const (
	IssueStatusPending   IssueStatus = "pending"
	IssueStatusEstimated IssueStatus = "estimated"
	IssueStatusSkipped   IssueStatus = "skipped"
)

// Room represents a persistent estimation workspace.
type Room struct {
	ID           string     `json:"id"`
	SeriesKey    string     `json:"series_key"`
	SeriesValues []Estimate `json:"series_values"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Session represents the active voting context within a room.
type Session struct {
	ID             string    `json:"id"`
	Active         bool      `json:"active"`
	Revealed       bool      `json:"revealed"`
	CurrentIssueID string    `json:"current_issue_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
}

// Participant represents one seat in a room.
type Participant struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	Active       bool       `json:"active"`
	Estimation   Estimate   `json:"estimation"`
	JoinedAt     time.Time  `json:"joined_at"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}

// IsModerator reports whether the participant moderates the room.
func (p Participant) IsModerator() bool {
	return p.Role == RoleModerator
}

// Issue represents a work item queued for estimation.
type Issue struct {
	ID        string      `json:"id"`
	Key       string      `json:"key"`
	Summary   string      `json:"summary"`
	Status    IssueStatus `json:"status"`
	Average   string      `json:"average,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Votes is the issue-scoped ledger: issueID -> participantID -> value.
type Votes map[string]map[string]Estimate

// Clone returns a deep copy of the ledger.
func (v Votes) Clone() Votes {
	if v == nil {
		return nil
	}
	out := make(Votes, len(v))
	for issueID, byParticipant := range v {
		inner := make(map[string]Estimate, len(byParticipant))
		for pid, est := range byParticipant {
			inner[pid] = est
		}
		out[issueID] = inner
	}
	return out
}
