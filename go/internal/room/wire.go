package room

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/remote"
)

// Field names of the documents stored under rooms/{roomId}.
const (
	fieldID             = "id"
	fieldSeriesKey      = "seriesKey"
	fieldSeriesValues   = "seriesValues"
	fieldCreatedAt      = "createdAt"
	fieldIsRevealed     = "isRevealed"
	fieldModeratorID    = "moderatorId"
	fieldActive         = "active"
	fieldCurrentIssueID = "currentIssueId"
	fieldStartedAt      = "startedAt"
	fieldRevealedAt     = "revealedAt"
	fieldName           = "name"
	fieldRole           = "role"
	fieldEstimation     = "estimation"
	fieldJoinedAt       = "joinedAt"
	fieldLastActiveAt   = "lastActiveAt"
	fieldKey            = "key"
	fieldSummary        = "summary"
	fieldStatus         = "status"
	fieldAverage        = "average"

	childSessions     = "sessions"
	childParticipants = "participants"
	childIssues       = "issues"
	childVotes        = "votes"
)

type roomDoc struct {
	ID           string            `json:"id"`
	SeriesKey    string            `json:"seriesKey"`
	SeriesValues []models.Estimate `json:"seriesValues"`
	CreatedAt    int64             `json:"createdAt"`
	IsRevealed   bool              `json:"isRevealed"`
	ModeratorID  string            `json:"moderatorId"`
}

type sessionDoc struct {
	Active         bool   `json:"active"`
	IsRevealed     bool   `json:"isRevealed"`
	CurrentIssueID string `json:"currentIssueId"`
	StartedAt      int64  `json:"startedAt"`
}

type participantDoc struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Role         string          `json:"role"`
	Active       *bool           `json:"active"`
	Estimation   models.Estimate `json:"estimation"`
	JoinedAt     int64           `json:"joinedAt"`
	LastActiveAt int64           `json:"lastActiveAt"`
}

type issueDoc struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	Average   string `json:"average"`
	CreatedAt int64  `json:"createdAt"`
}

// roomView is the typed form of a room subtree snapshot.
type roomView struct {
	Room           models.Room
	ModeratorID    string
	LegacyRevealed bool
	// Session is the active session, nil when the room has none.
	Session      *models.Session
	Participants []models.Participant
	Issues       []models.Issue
	// Votes is the ledger of the active session.
	Votes models.Votes
}

// Revealed returns the reveal flag, preferring the session over the legacy
// room-level flag.
func (v roomView) Revealed() bool {
	if v.Session != nil {
		return v.Session.Revealed
	}
	return v.LegacyRevealed
}

func decodeInto(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// decodeRoom maps a raw room snapshot into typed entities. Malformed room
// metadata is an error; malformed child entries are skipped.
func decodeRoom(roomID string, snap remote.Snapshot) (roomView, error) {
	var doc roomDoc
	meta := make(map[string]any, len(snap))
	for k, v := range snap {
		switch k {
		case childSessions, childParticipants, childIssues, childVotes:
		default:
			meta[k] = v
		}
	}
	if err := decodeInto(meta, &doc); err != nil {
		return roomView{}, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	if doc.ID == "" {
		doc.ID = roomID
	}

	view := roomView{
		Room: models.Room{
			ID:           doc.ID,
			SeriesKey:    doc.SeriesKey,
			SeriesValues: doc.SeriesValues,
			CreatedAt:    fromMillis(doc.CreatedAt),
		},
		ModeratorID:    doc.ModeratorID,
		LegacyRevealed: doc.IsRevealed,
	}

	view.Session = activeSession(roomID, snap.Child(childSessions))
	view.Participants = decodeParticipants(roomID, snap.Child(childParticipants))
	view.Issues = decodeIssues(roomID, snap.Child(childIssues))
	if view.Session != nil {
		view.Votes = decodeVotes(roomID, snap.Child(childVotes).Child(view.Session.ID))
	}
	return view, nil
}

// activeSession picks the active session. Should more than one be flagged
// active, the most recently started wins.
func activeSession(roomID string, raw remote.Snapshot) *models.Session {
	var best *models.Session
	for id, v := range raw {
		var doc sessionDoc
		if err := decodeInto(v, &doc); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Str("session_id", id).Msg("skipping malformed session")
			continue
		}
		if !doc.Active {
			continue
		}
		s := &models.Session{
			ID:             id,
			Active:         true,
			Revealed:       doc.IsRevealed,
			CurrentIssueID: doc.CurrentIssueID,
			StartedAt:      fromMillis(doc.StartedAt),
		}
		if best == nil || s.StartedAt.After(best.StartedAt) || (s.StartedAt.Equal(best.StartedAt) && s.ID > best.ID) {
			best = s
		}
	}
	return best
}

func decodeParticipants(roomID string, raw remote.Snapshot) []models.Participant {
	out := make([]models.Participant, 0, len(raw))
	for id, v := range raw {
		var doc participantDoc
		if err := decodeInto(v, &doc); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Str("participant_id", id).Msg("skipping malformed participant")
			continue
		}
		p := models.Participant{
			ID:         id,
			Name:       doc.Name,
			Role:       models.Role(doc.Role),
			Active:     doc.Active == nil || *doc.Active,
			Estimation: doc.Estimation,
			JoinedAt:   fromMillis(doc.JoinedAt),
		}
		if p.Role == "" {
			p.Role = models.RoleParticipant
		}
		if doc.LastActiveAt != 0 {
			t := fromMillis(doc.LastActiveAt)
			p.LastActiveAt = &t
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func decodeIssues(roomID string, raw remote.Snapshot) []models.Issue {
	out := make([]models.Issue, 0, len(raw))
	for id, v := range raw {
		var doc issueDoc
		if err := decodeInto(v, &doc); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Str("issue_id", id).Msg("skipping malformed issue")
			continue
		}
		status := models.IssueStatus(doc.Status)
		if status == "" {
			status = models.IssueStatusPending
		}
		out = append(out, models.Issue{
			ID:        id,
			Key:       doc.Key,
			Summary:   doc.Summary,
			Status:    status,
			Average:   doc.Average,
			CreatedAt: fromMillis(doc.CreatedAt),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func decodeVotes(roomID string, raw remote.Snapshot) models.Votes {
	votes := make(models.Votes, len(raw))
	for issueID, v := range raw {
		var ledger map[string]models.Estimate
		if err := decodeInto(v, &ledger); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Str("issue_id", issueID).Msg("skipping malformed vote ledger")
			continue
		}
		votes[issueID] = ledger
	}
	return votes
}

func estimateValues(values []models.Estimate) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v.Value())
	}
	return out
}
