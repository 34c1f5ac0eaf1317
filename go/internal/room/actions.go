package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointing/go/internal/apperror"
	"github.com/mcdev12/pointing/go/internal/identity"
	"github.com/mcdev12/pointing/go/internal/models"
)

const (
	msgVoteBlocked = "Your vote could not be saved. A browser extension, firewall or unstable connection may be blocking the request."
	msgVoteFailed  = "Your vote could not be saved. Please try again."
)

// moderatorName picks the name of a room's creator: the signed-in display
// name, then the saved guest name, then a generic label.
func (e *Engine) moderatorName(ctx context.Context) string {
	if name, ok := e.names.DisplayName(ctx); ok {
		return name
	}
	if name, ok, err := e.resolver.GuestName(ctx); err == nil && ok {
		return name
	}
	return defaultModeratorName
}

// CreateRoom creates a room with the given series, seats this device as its
// moderator and joins it. An empty series key selects the default series.
func (e *Engine) CreateRoom(ctx context.Context, seriesKey string) (string, error) {
	if seriesKey == "" {
		seriesKey = e.defaultSeries
	}
	series, ok := e.series.Get(seriesKey)
	if !ok {
		return "", e.fail(apperror.New(apperror.KindValidation, fmt.Sprintf("Unknown estimation series %q.", seriesKey)).
			WithDetail("series_key", seriesKey))
	}
	retry := func(ctx context.Context) error {
		_, err := e.CreateRoom(ctx, seriesKey)
		return err
	}
	creationFailed := func(err error) error {
		return e.fail(apperror.Wrap(apperror.KindRoomCreationFailed, "The room could not be created.", err).WithRetry(retry))
	}

	e.joinMu.Lock()
	defer e.joinMu.Unlock()

	roomID, err := e.freeRoomID(ctx)
	if err != nil {
		return "", creationFailed(err)
	}

	now := e.clock.Now()
	participantID, _, err := e.resolver.GetOrCreateParticipantID(ctx, roomID)
	if err != nil {
		return "", creationFailed(err)
	}
	room := models.Room{
		ID:           roomID,
		SeriesKey:    series.Key,
		SeriesValues: series.Values,
		CreatedAt:    now,
	}
	session := models.Session{ID: e.newID(), Active: true, StartedAt: now}
	moderator := models.Participant{
		ID:       participantID,
		Name:     e.moderatorName(ctx),
		Role:     models.RoleModerator,
		Active:   true,
		JoinedAt: now,
	}

	// each later write assumes the previous one landed
	for _, w := range []write{
		createRoomWrite(room, participantID),
		createSessionWrite(roomID, session),
		createParticipantWrite(roomID, moderator, now),
	} {
		if err := e.perform(ctx, w); err != nil {
			return "", creationFailed(err)
		}
	}

	if err := e.resolver.SaveSession(ctx, roomID, participantID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to persist room session")
	}

	view := roomView{
		Room:         room,
		ModeratorID:  participantID,
		Session:      &session,
		Participants: []models.Participant{moderator},
	}
	if err := e.attach(ctx, roomID, session.ID, participantID, view); err != nil {
		return "", creationFailed(err)
	}

	log.Info().Str("room_id", roomID).Str("participant_id", participantID).Str("series", series.Key).Msg("room created")
	return roomID, nil
}

func (e *Engine) freeRoomID(ctx context.Context) (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		id := e.newRoom()
		taken, err := e.repo.exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("no free room code after %d attempts", roomCodeAttempts)
}

// JoinRoomWithName seats this device in roomID under name. Rejoining reuses
// the existing seat: first by the identifier persisted on this device, then
// by a case-insensitive name match among active seats.
func (e *Engine) JoinRoomWithName(ctx context.Context, roomID, name string) error {
	roomID = NormalizeRoomID(roomID)
	name = strings.TrimSpace(name)
	if roomID == "" {
		return e.fail(apperror.New(apperror.KindValidation, "A room code is required."))
	}
	if name == "" {
		return e.fail(apperror.New(apperror.KindValidation, "A name is required to join a room."))
	}
	retry := func(ctx context.Context) error {
		return e.JoinRoomWithName(ctx, roomID, name)
	}
	joinFailed := func(err error) error {
		e.setLoading(false)
		return e.fail(apperror.Wrap(apperror.KindJoinRoomFailed, "Could not join the room.", err).
			WithDetail("room_id", roomID).
			WithRetry(retry))
	}

	e.joinMu.Lock()
	defer e.joinMu.Unlock()

	e.setLoading(true)
	view, found, err := e.repo.read(ctx, roomID)
	if err != nil {
		return joinFailed(err)
	}
	if !found {
		e.setLoading(false)
		return e.fail(apperror.New(apperror.KindRoomNotFound, fmt.Sprintf("Room %s does not exist.", roomID)).
			WithDetail("room_id", roomID))
	}

	now := e.clock.Now()
	if view.Session == nil {
		session := models.Session{ID: e.newID(), Active: true, StartedAt: now}
		if err := e.perform(ctx, createSessionWrite(roomID, session)); err != nil {
			return joinFailed(err)
		}
		view.Session = &session
	}

	stored, hasStored, err := e.resolver.ParticipantID(ctx, roomID)
	if err != nil {
		return joinFailed(err)
	}

	participantID := stored
	seat, seated := identity.FindSeat(view.Participants, stored, name)
	switch {
	case seated:
		participantID = seat.ID
	case !hasStored:
		participantID = e.newID()
	}
	if participantID != stored {
		// persisted before any seat write so a later join finds it
		if err := e.resolver.SetParticipantID(ctx, roomID, participantID); err != nil {
			return joinFailed(err)
		}
	}

	if seated {
		if err := e.perform(ctx, touchParticipantWrite(roomID, participantID, now)); err != nil {
			return joinFailed(err)
		}
	} else {
		p := models.Participant{
			ID:       participantID,
			Name:     name,
			Role:     models.RoleParticipant,
			Active:   true,
			JoinedAt: now,
		}
		if participantID == view.ModeratorID {
			p.Role = models.RoleModerator
		}
		if err := e.perform(ctx, createParticipantWrite(roomID, p, now)); err != nil {
			return joinFailed(err)
		}
		view.Participants = append(view.Participants, p)
	}

	if err := e.resolver.SaveSession(ctx, roomID, participantID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to persist room session")
	}
	if err := e.attach(ctx, roomID, view.Session.ID, participantID, view); err != nil {
		return joinFailed(err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("participant_id", participantID).
		Bool("rejoined", seated).
		Msg("joined room")
	return nil
}

// Resume attaches to roomID as participantID without writing anything. It is
// used when the seat is known to exist already.
func (e *Engine) Resume(ctx context.Context, roomID, participantID string) error {
	roomID = NormalizeRoomID(roomID)
	retry := func(ctx context.Context) error { return e.Resume(ctx, roomID, participantID) }
	resumeFailed := func(err error) error {
		e.setLoading(false)
		return e.fail(apperror.Wrap(apperror.KindJoinRoomFailed, "Could not join the room.", err).
			WithDetail("room_id", roomID).
			WithRetry(retry))
	}

	e.joinMu.Lock()
	defer e.joinMu.Unlock()

	e.setLoading(true)
	view, found, err := e.repo.read(ctx, roomID)
	if err != nil {
		return resumeFailed(err)
	}
	if !found {
		e.setLoading(false)
		return e.fail(apperror.New(apperror.KindRoomNotFound, fmt.Sprintf("Room %s does not exist.", roomID)).
			WithDetail("room_id", roomID))
	}
	if view.Session == nil {
		return resumeFailed(ErrNoActiveSession)
	}

	if err := e.resolver.SaveSession(ctx, roomID, participantID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to persist room session")
	}
	if err := e.attach(ctx, roomID, view.Session.ID, participantID, view); err != nil {
		return resumeFailed(err)
	}
	log.Info().Str("room_id", roomID).Str("participant_id", participantID).Msg("resumed room")
	return nil
}

// HasSeat reports whether participantID holds an active seat in roomID and
// the room has a session to resume into.
func (e *Engine) HasSeat(ctx context.Context, roomID, participantID string) (bool, error) {
	view, found, err := e.repo.read(ctx, NormalizeRoomID(roomID))
	if err != nil || !found {
		return false, err
	}
	if view.Session == nil {
		return false, nil
	}
	for _, p := range view.Participants {
		if p.ID == participantID {
			return p.Active, nil
		}
	}
	return false, nil
}

// LeaveRoom detaches from the current room and marks the seat inactive. The
// remote write is best effort.
func (e *Engine) LeaveRoom(ctx context.Context) error {
	previous := e.detach()
	if previous.RoomID == "" {
		return nil
	}

	if previous.ParticipantID != "" {
		if err := e.perform(ctx, leaveParticipantWrite(previous.RoomID, previous.ParticipantID, e.clock.Now())); err != nil {
			log.Warn().Err(err).Str("room_id", previous.RoomID).Msg("failed to mark seat inactive")
		}
	}
	if err := e.resolver.ClearSession(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to clear room session")
	}
	log.Info().Str("room_id", previous.RoomID).Str("participant_id", previous.ParticipantID).Msg("left room")
	return nil
}

// SelectEstimation records this participant's estimate for the current round.
// NoEstimate withdraws it.
func (e *Engine) SelectEstimation(ctx context.Context, value models.Estimate) error {
	st, err := e.update(func(st State) (State, error) {
		if err := joined(st); err != nil {
			return st, err
		}
		if st.Revealed {
			return st, apperror.New(apperror.KindValidation, "Estimates are revealed. Start a new round to vote again.")
		}
		if _, ok := st.Me(); !ok {
			return st, apperror.New(apperror.KindValidation, "You are not seated in this room.")
		}
		if value.IsSet() && len(st.EstimationOptions) > 0 && !st.hasOption(value) {
			return st, apperror.New(apperror.KindInvalidData, fmt.Sprintf("%s is not part of this room's series.", value)).
				WithDetail("value", value.String())
		}
		return withEstimation(st, st.ParticipantID, value), nil
	})
	if err != nil {
		return e.failWith(err)
	}

	writes := []write{estimationWrite(st.RoomID, st.ParticipantID, value, e.clock.Now())}
	if st.CurrentIssueID != "" {
		writes = append(writes, voteLedgerWrite(st.RoomID, st.SessionID, st.CurrentIssueID, st.ParticipantID, value))
	}

	results := e.dispatch(ctx, writes...)
	if !results.allFailed() {
		return nil
	}

	msg := msgVoteFailed
	for _, err := range results.failed() {
		if apperror.IsNetworkInterference(err) {
			msg = msgVoteBlocked
			break
		}
	}
	return e.fail(apperror.Wrap(apperror.KindVoteFailed, msg, results.failed()[0]).
		WithRetry(func(ctx context.Context) error { return e.SelectEstimation(ctx, value) }))
}

// RevealEstimations reveals the round and records the average against the
// current issue.
func (e *Engine) RevealEstimations(ctx context.Context) error {
	var stats models.RoundStats
	st, err := e.update(func(st State) (State, error) {
		if err := joined(st); err != nil {
			return st, err
		}
		stats = st.Stats()
		return withReveal(st, stats.AverageText), nil
	})
	if err != nil {
		return e.failWith(err)
	}

	now := e.clock.Now()
	writes := []write{
		sessionRevealWrite(st.RoomID, st.SessionID, true, now),
		legacyRevealWrite(st.RoomID, true),
	}
	if _, ok := st.CurrentIssue(); ok {
		writes = append(writes, issueResultWrite(st.RoomID, st.CurrentIssueID, models.IssueStatusEstimated, stats.AverageText))
	}

	results := e.dispatch(ctx, writes...)
	if failed := results.failed(); len(failed) > 0 {
		return e.fail(apperror.Wrap(apperror.KindUnknown, "Estimates could not be revealed for everyone.", failed[0]).
			WithDetail("failed_writes", len(failed)).
			WithRetry(e.RevealEstimations))
	}

	log.Info().
		Str("room_id", st.RoomID).
		Str("issue_id", st.CurrentIssueID).
		Str("average", stats.AverageText).
		Int("voted", stats.Voted).
		Msg("estimates revealed")
	return nil
}

// StartNewVote hides estimates and clears every participant's estimate for a
// fresh round on the current issue. Local estimates are cleared whatever the
// remote writes do.
func (e *Engine) StartNewVote(ctx context.Context) error {
	st, err := e.update(func(st State) (State, error) {
		if err := joined(st); err != nil {
			return st, err
		}
		return withRoundReset(st), nil
	})
	if err != nil {
		return e.failWith(err)
	}

	var participantWrites, roundWrites []write
	for _, p := range st.Participants {
		participantWrites = append(participantWrites, clearEstimationWrite(st.RoomID, p.ID))
	}
	roundWrites = append(roundWrites,
		sessionRevealWrite(st.RoomID, st.SessionID, false, e.clock.Now()),
		legacyRevealWrite(st.RoomID, false),
	)
	if st.CurrentIssueID != "" {
		roundWrites = append(roundWrites, clearVoteLedgerWrite(st.RoomID, st.SessionID, st.CurrentIssueID))
		if _, ok := st.CurrentIssue(); ok {
			roundWrites = append(roundWrites, issueResultWrite(st.RoomID, st.CurrentIssueID, models.IssueStatusPending, ""))
		}
	}

	results := e.dispatch(ctx, append(participantWrites, roundWrites...)...)

	// snapshots may have replayed stale estimates while writes were in flight
	_, _ = e.update(func(cur State) (State, error) {
		if cur.RoomID != st.RoomID {
			return cur, errStale
		}
		return withEstimationsCleared(cur), nil
	})

	participantResults := results[:len(participantWrites)]
	roundResults := results[len(participantWrites):]
	if failed := participantResults.failed(); len(failed) > 0 {
		log.Warn().Int("failed", len(failed)).Str("room_id", st.RoomID).Msg("some estimates were not cleared remotely")
	}
	if failed := roundResults.failed(); len(failed) > 0 {
		return e.fail(apperror.Wrap(apperror.KindUnknown, "A new round could not be started for everyone.", failed[0]).
			WithDetail("failed_writes", len(failed)).
			WithRetry(e.StartNewVote))
	}

	log.Info().Str("room_id", st.RoomID).Str("issue_id", st.CurrentIssueID).Msg("new round started")
	return nil
}

// AddIssue queues a work item for estimation and returns its id.
func (e *Engine) AddIssue(ctx context.Context, key, summary string) (string, error) {
	key = strings.TrimSpace(key)
	summary = strings.TrimSpace(summary)
	issue := models.Issue{
		ID:        e.newID(),
		Key:       key,
		Summary:   summary,
		Status:    models.IssueStatusPending,
		CreatedAt: e.clock.Now(),
	}

	st, err := e.update(func(st State) (State, error) {
		if err := joined(st); err != nil {
			return st, err
		}
		if key == "" && summary == "" {
			return st, apperror.New(apperror.KindValidation, "An issue needs a key or a summary.")
		}
		return withIssue(st, issue), nil
	})
	if err != nil {
		return "", e.failWith(err)
	}

	w := createIssueWrite(st.RoomID, issue)
	var save func(ctx context.Context) error
	save = func(ctx context.Context) error {
		if err := e.perform(ctx, w); err != nil {
			return e.fail(apperror.Wrap(apperror.KindUnknown, "The issue could not be saved.", err).
				WithDetail("issue_id", issue.ID).
				WithRetry(save))
		}
		return nil
	}
	return issue.ID, save(ctx)
}

// SelectCurrentIssue makes issueID the issue being estimated. An empty id
// clears the selection.
func (e *Engine) SelectCurrentIssue(ctx context.Context, issueID string) error {
	st, err := e.update(func(st State) (State, error) {
		if err := joined(st); err != nil {
			return st, err
		}
		if issueID != "" && !st.hasIssue(issueID) {
			return st, apperror.New(apperror.KindValidation, "That issue is not part of this room.").
				WithDetail("issue_id", issueID)
		}
		return withCurrentIssue(st, issueID), nil
	})
	if err != nil {
		return e.failWith(err)
	}

	if err := e.perform(ctx, currentIssueWrite(st.RoomID, st.SessionID, issueID)); err != nil {
		return e.fail(apperror.Wrap(apperror.KindUnknown, "The current issue could not be changed.", err).
			WithRetry(func(ctx context.Context) error { return e.SelectCurrentIssue(ctx, issueID) }))
	}
	return nil
}

// RemoveIssue deletes an issue and its votes. Removing the current issue also
// clears the selection.
func (e *Engine) RemoveIssue(ctx context.Context, issueID string) error {
	var wasCurrent bool
	st, err := e.update(func(st State) (State, error) {
		if err := joined(st); err != nil {
			return st, err
		}
		if !st.hasIssue(issueID) {
			return st, apperror.New(apperror.KindValidation, "That issue is not part of this room.").
				WithDetail("issue_id", issueID)
		}
		wasCurrent = st.CurrentIssueID == issueID
		return withoutIssue(st, issueID), nil
	})
	if err != nil {
		return e.failWith(err)
	}

	writes := []write{
		removeIssueWrite(st.RoomID, issueID),
		clearVoteLedgerWrite(st.RoomID, st.SessionID, issueID),
	}
	if wasCurrent {
		writes = append(writes, currentIssueWrite(st.RoomID, st.SessionID, ""))
	}

	var remove func(ctx context.Context) error
	remove = func(ctx context.Context) error {
		if failed := e.dispatch(ctx, writes...).failed(); len(failed) > 0 {
			return e.fail(apperror.Wrap(apperror.KindUnknown, "The issue could not be removed.", failed[0]).
				WithDetail("issue_id", issueID).
				WithRetry(remove))
		}
		return nil
	}
	return remove(ctx)
}

// ChangeSeries switches the room to another estimation series.
func (e *Engine) ChangeSeries(ctx context.Context, seriesKey string) error {
	series, ok := e.series.Get(seriesKey)
	if !ok {
		return e.fail(apperror.New(apperror.KindValidation, fmt.Sprintf("Unknown estimation series %q.", seriesKey)).
			WithDetail("series_key", seriesKey))
	}

	st, err := e.update(func(st State) (State, error) {
		if err := joined(st); err != nil {
			return st, err
		}
		return withSeries(st, series), nil
	})
	if err != nil {
		return e.failWith(err)
	}

	if err := e.perform(ctx, seriesWrite(st.RoomID, series)); err != nil {
		return e.fail(apperror.Wrap(apperror.KindUnknown, "The estimation series could not be changed.", err).
			WithRetry(func(ctx context.Context) error { return e.ChangeSeries(ctx, seriesKey) }))
	}
	return nil
}

// failWith reports err when it is an AppError raised by a state check.
func (e *Engine) failWith(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return e.fail(appErr)
	}
	return err
}
