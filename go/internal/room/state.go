package room

import (
	"github.com/mcdev12/pointing/go/internal/models"
)

// State is the local view of the room this device is seated in. The zero
// value is the idle state.
type State struct {
	RoomID            string               `json:"room_id,omitempty"`
	SessionID         string               `json:"session_id,omitempty"`
	ParticipantID     string               `json:"participant_id,omitempty"`
	ModeratorID       string               `json:"moderator_id,omitempty"`
	SeriesKey         string               `json:"series_key,omitempty"`
	EstimationOptions []models.Estimate    `json:"estimation_options"`
	Participants      []models.Participant `json:"participants"`
	Issues            []models.Issue       `json:"issues"`
	Votes             models.Votes         `json:"votes,omitempty"`
	CurrentIssueID    string               `json:"current_issue_id,omitempty"`
	Revealed          bool                 `json:"revealed"`
	IsLoading         bool                 `json:"is_loading"`
}

// Joined reports whether the state belongs to a room with an active session.
func (s State) Joined() bool {
	return s.RoomID != "" && s.SessionID != "" && s.ParticipantID != ""
}

// Me returns this device's seat.
func (s State) Me() (models.Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == s.ParticipantID {
			return p, true
		}
	}
	return models.Participant{}, false
}

// CurrentIssue returns the issue being estimated. A current issue id that no
// longer names an issue counts as none.
func (s State) CurrentIssue() (models.Issue, bool) {
	if s.CurrentIssueID == "" {
		return models.Issue{}, false
	}
	for _, issue := range s.Issues {
		if issue.ID == s.CurrentIssueID {
			return issue, true
		}
	}
	return models.Issue{}, false
}

// Stats aggregates the current round.
func (s State) Stats() models.RoundStats {
	return models.ComputeRoundStats(s.Participants)
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.EstimationOptions != nil {
		out.EstimationOptions = append([]models.Estimate(nil), s.EstimationOptions...)
	}
	if s.Participants != nil {
		out.Participants = make([]models.Participant, len(s.Participants))
		for i, p := range s.Participants {
			if p.LastActiveAt != nil {
				t := *p.LastActiveAt
				p.LastActiveAt = &t
			}
			out.Participants[i] = p
		}
	}
	if s.Issues != nil {
		out.Issues = append([]models.Issue(nil), s.Issues...)
	}
	out.Votes = s.Votes.Clone()
	return out
}

func (s State) hasOption(value models.Estimate) bool {
	for _, o := range s.EstimationOptions {
		if o.Equal(value) {
			return true
		}
	}
	return false
}

func (s State) hasIssue(issueID string) bool {
	for _, issue := range s.Issues {
		if issue.ID == issueID {
			return true
		}
	}
	return false
}

// The reducers below never modify their argument.

func applySnapshot(s State, view roomView) State {
	next := s.Clone()
	next.IsLoading = false
	next.ModeratorID = view.ModeratorID
	next.SeriesKey = view.Room.SeriesKey
	next.EstimationOptions = append([]models.Estimate(nil), view.Room.SeriesValues...)
	next.Participants = view.Participants
	next.Issues = view.Issues
	next.Votes = view.Votes.Clone()
	next.Revealed = view.Revealed()
	next.CurrentIssueID = ""
	if view.Session != nil {
		next.SessionID = view.Session.ID
		next.CurrentIssueID = view.Session.CurrentIssueID
	}
	return next
}

func withLoading(s State, loading bool) State {
	next := s.Clone()
	next.IsLoading = loading
	return next
}

func withEstimation(s State, participantID string, value models.Estimate) State {
	next := s.Clone()
	for i := range next.Participants {
		if next.Participants[i].ID == participantID {
			next.Participants[i].Estimation = value
		}
	}
	if next.CurrentIssueID != "" {
		if next.Votes == nil {
			next.Votes = make(models.Votes)
		}
		ledger := next.Votes[next.CurrentIssueID]
		if ledger == nil {
			ledger = make(map[string]models.Estimate)
			next.Votes[next.CurrentIssueID] = ledger
		}
		if value.IsSet() {
			ledger[participantID] = value
		} else {
			delete(ledger, participantID)
		}
	}
	return next
}

func withReveal(s State, average string) State {
	next := s.Clone()
	next.Revealed = true
	for i := range next.Issues {
		if next.Issues[i].ID == next.CurrentIssueID {
			next.Issues[i].Status = models.IssueStatusEstimated
			next.Issues[i].Average = average
		}
	}
	return next
}

func withEstimationsCleared(s State) State {
	next := s.Clone()
	for i := range next.Participants {
		next.Participants[i].Estimation = models.NoEstimate
	}
	return next
}

func withRoundReset(s State) State {
	next := withEstimationsCleared(s)
	next.Revealed = false
	if next.CurrentIssueID != "" {
		delete(next.Votes, next.CurrentIssueID)
		for i := range next.Issues {
			if next.Issues[i].ID == next.CurrentIssueID {
				next.Issues[i].Status = models.IssueStatusPending
				next.Issues[i].Average = ""
			}
		}
	}
	return next
}

func withIssue(s State, issue models.Issue) State {
	next := s.Clone()
	for i := range next.Issues {
		if next.Issues[i].ID == issue.ID {
			next.Issues[i] = issue
			return next
		}
	}
	next.Issues = append(next.Issues, issue)
	return next
}

func withoutIssue(s State, issueID string) State {
	next := s.Clone()
	kept := next.Issues[:0]
	for _, issue := range next.Issues {
		if issue.ID != issueID {
			kept = append(kept, issue)
		}
	}
	next.Issues = kept
	delete(next.Votes, issueID)
	if next.CurrentIssueID == issueID {
		next.CurrentIssueID = ""
	}
	return next
}

func withCurrentIssue(s State, issueID string) State {
	next := s.Clone()
	next.CurrentIssueID = issueID
	return next
}

func withSeries(s State, series models.Series) State {
	next := s.Clone()
	next.SeriesKey = series.Key
	next.EstimationOptions = append([]models.Estimate(nil), series.Values...)
	return next
}
