package room

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/remote"
)

const rootRooms = "rooms"

func roomPath(roomID string) string {
	return remote.Join(rootRooms, roomID)
}

func sessionPath(roomID, sessionID string) string {
	return remote.Join(rootRooms, roomID, childSessions, sessionID)
}

func participantPath(roomID, participantID string) string {
	return remote.Join(rootRooms, roomID, childParticipants, participantID)
}

func issuePath(roomID, issueID string) string {
	return remote.Join(rootRooms, roomID, childIssues, issueID)
}

func issuesPath(roomID string) string {
	return remote.Join(rootRooms, roomID, childIssues)
}

func votesPath(roomID, sessionID string) string {
	return remote.Join(rootRooms, roomID, childVotes, sessionID)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Repository builds and performs the typed writes the engine issues against
// the remote store.
type Repository struct {
	store remote.Store
}

// NewRepository creates a repository over store.
func NewRepository(store remote.Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) read(ctx context.Context, roomID string) (roomView, bool, error) {
	snap, ok, err := r.store.Read(ctx, roomPath(roomID))
	if err != nil {
		return roomView{}, false, fmt.Errorf("read room %s: %w", roomID, err)
	}
	if !ok {
		return roomView{}, false, nil
	}
	view, err := decodeRoom(roomID, snap)
	if err != nil {
		return roomView{}, true, err
	}
	return view, true, nil
}

func (r *Repository) exists(ctx context.Context, roomID string) (bool, error) {
	_, ok, err := r.store.Read(ctx, roomPath(roomID))
	if err != nil {
		return false, fmt.Errorf("read room %s: %w", roomID, err)
	}
	return ok, nil
}

func (r *Repository) write(ctx context.Context, w write) error {
	if err := r.store.Write(ctx, w.path, w.fields); err != nil {
		return fmt.Errorf("%s: %w", w.name, err)
	}
	return nil
}

func (r *Repository) subscribe(ctx context.Context, roomID string, fn func(remote.Snapshot)) (func(), error) {
	unsub, err := r.store.Subscribe(ctx, roomPath(roomID), fn)
	if err != nil {
		return nil, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}
	return unsub, nil
}

// write is one merge against a single path.
type write struct {
	name   string
	path   string
	fields map[string]any
}

func createRoomWrite(room models.Room, moderatorID string) write {
	return write{
		name: "create room",
		path: roomPath(room.ID),
		fields: map[string]any{
			fieldID:           room.ID,
			fieldSeriesKey:    room.SeriesKey,
			fieldSeriesValues: estimateValues(room.SeriesValues),
			fieldCreatedAt:    millis(room.CreatedAt),
			fieldIsRevealed:   false,
			fieldModeratorID:  moderatorID,
		},
	}
}

func createSessionWrite(roomID string, s models.Session) write {
	fields := map[string]any{
		fieldActive:     true,
		fieldIsRevealed: false,
		fieldStartedAt:  millis(s.StartedAt),
	}
	if s.CurrentIssueID != "" {
		fields[fieldCurrentIssueID] = s.CurrentIssueID
	}
	return write{name: "create session", path: sessionPath(roomID, s.ID), fields: fields}
}

func createParticipantWrite(roomID string, p models.Participant, now time.Time) write {
	return write{
		name: "create participant",
		path: participantPath(roomID, p.ID),
		fields: map[string]any{
			fieldID:           p.ID,
			fieldName:         p.Name,
			fieldRole:         string(p.Role),
			fieldActive:       true,
			fieldJoinedAt:     millis(p.JoinedAt),
			fieldLastActiveAt: millis(now),
		},
	}
}

// touchParticipantWrite refreshes an existing seat without touching its
// estimation.
func touchParticipantWrite(roomID, participantID string, now time.Time) write {
	return write{
		name: "refresh participant",
		path: participantPath(roomID, participantID),
		fields: map[string]any{
			fieldActive:       true,
			fieldLastActiveAt: millis(now),
		},
	}
}

func leaveParticipantWrite(roomID, participantID string, now time.Time) write {
	return write{
		name: "leave participant",
		path: participantPath(roomID, participantID),
		fields: map[string]any{
			fieldActive:       false,
			fieldLastActiveAt: millis(now),
		},
	}
}

func estimationWrite(roomID, participantID string, value models.Estimate, now time.Time) write {
	return write{
		name: "participant estimation",
		path: participantPath(roomID, participantID),
		fields: map[string]any{
			fieldEstimation:   value.Value(),
			fieldLastActiveAt: millis(now),
		},
	}
}

func clearEstimationWrite(roomID, participantID string) write {
	return write{
		name:   "clear estimation",
		path:   participantPath(roomID, participantID),
		fields: map[string]any{fieldEstimation: nil},
	}
}

// voteLedgerWrite records value under votes/{session}/{issue}/{participant}.
func voteLedgerWrite(roomID, sessionID, issueID, participantID string, value models.Estimate) write {
	return write{
		name: "vote ledger",
		path: remote.Join(votesPath(roomID, sessionID), issueID),
		fields: map[string]any{
			participantID: value.Value(),
		},
	}
}

func clearVoteLedgerWrite(roomID, sessionID, issueID string) write {
	return write{
		name:   "clear vote ledger",
		path:   votesPath(roomID, sessionID),
		fields: map[string]any{issueID: nil},
	}
}

func sessionRevealWrite(roomID, sessionID string, revealed bool, now time.Time) write {
	fields := map[string]any{fieldIsRevealed: revealed}
	if revealed {
		fields[fieldRevealedAt] = millis(now)
	} else {
		fields[fieldRevealedAt] = nil
	}
	return write{name: "session reveal", path: sessionPath(roomID, sessionID), fields: fields}
}

func legacyRevealWrite(roomID string, revealed bool) write {
	return write{
		name:   "room reveal",
		path:   roomPath(roomID),
		fields: map[string]any{fieldIsRevealed: revealed},
	}
}

func currentIssueWrite(roomID, sessionID, issueID string) write {
	var value any
	if issueID != "" {
		value = issueID
	}
	return write{
		name:   "current issue",
		path:   sessionPath(roomID, sessionID),
		fields: map[string]any{fieldCurrentIssueID: value},
	}
}

func createIssueWrite(roomID string, issue models.Issue) write {
	return write{
		name: "create issue",
		path: issuePath(roomID, issue.ID),
		fields: map[string]any{
			fieldID:        issue.ID,
			fieldKey:       issue.Key,
			fieldSummary:   issue.Summary,
			fieldStatus:    string(issue.Status),
			fieldCreatedAt: millis(issue.CreatedAt),
		},
	}
}

// issueResultWrite stores the outcome of a reveal. An empty average removes
// the field.
func issueResultWrite(roomID, issueID string, status models.IssueStatus, average string) write {
	var avg any
	if average != "" {
		avg = average
	}
	return write{
		name: "issue result",
		path: issuePath(roomID, issueID),
		fields: map[string]any{
			fieldStatus:  string(status),
			fieldAverage: avg,
		},
	}
}

func removeIssueWrite(roomID, issueID string) write {
	return write{
		name:   "remove issue",
		path:   issuesPath(roomID),
		fields: map[string]any{issueID: nil},
	}
}

func seriesWrite(roomID string, series models.Series) write {
	return write{
		name: "room series",
		path: roomPath(roomID),
		fields: map[string]any{
			fieldSeriesKey:    series.Key,
			fieldSeriesValues: estimateValues(series.Values),
		},
	}
}
