package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pointing/go/internal/apperror"
	"github.com/mcdev12/pointing/go/internal/identity"
	"github.com/mcdev12/pointing/go/internal/localstore"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/remote"
)

type recorder struct {
	mu   sync.Mutex
	errs []*apperror.AppError
}

func (r *recorder) Report(err *apperror.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *recorder) last() *apperror.AppError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

type device struct {
	engine   *Engine
	resolver *identity.Resolver
	reports  *recorder
	metrics  *CountingMetrics
}

type harness struct {
	t     *testing.T
	store *remote.MemoryStore
	clock *clockwork.FakeClock
	ids   atomic.Int64
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:     t,
		store: remote.NewMemoryStore(),
		clock: clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
}

func (h *harness) nextID() string {
	return fmt.Sprintf("id-%d", h.ids.Add(1))
}

func (h *harness) device(names ...string) *device {
	resolver := identity.NewResolver(localstore.NewMemory())
	reports := &recorder{}
	metrics := NewCountingMetrics()
	cfg := DefaultConfig()
	cfg.Clock = h.clock
	cfg.Metrics = metrics
	cfg.NewID = h.nextID
	cfg.NewRoomID = func() string { return "ROOM42" }
	if len(names) > 0 {
		cfg.Names = identity.StaticName(names[0])
	}
	engine := NewEngine(h.store, resolver, reports, cfg)
	h.t.Cleanup(func() { _ = engine.LeaveRoom(context.Background()) })
	return &device{engine: engine, resolver: resolver, reports: reports, metrics: metrics}
}

func (h *harness) failWrites(match string, err error) {
	h.store.SetWriteHook(func(op remote.WriteOp) error {
		if match == "" || strings.Contains(op.Path, match) {
			return err
		}
		return nil
	})
}

func (h *harness) roomSnapshot(roomID string) remote.Snapshot {
	snap, ok, err := h.store.Read(context.Background(), roomPath(roomID))
	require.NoError(h.t, err)
	require.True(h.t, ok)
	return snap
}

func activeCount(st State) int {
	n := 0
	for _, p := range st.Participants {
		if p.Active {
			n++
		}
	}
	return n
}

func TestCreateRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device("Morgan")

	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "ROOM42", roomID)

	st := mod.engine.State()
	assert.True(t, st.Joined())
	assert.Equal(t, models.SeriesFibonacci, st.SeriesKey)
	assert.NotEmpty(t, st.EstimationOptions)
	require.Len(t, st.Participants, 1)
	assert.Equal(t, "Morgan", st.Participants[0].Name)
	assert.True(t, st.Participants[0].IsModerator())
	assert.Equal(t, st.ParticipantID, st.ModeratorID)

	session, err := mod.resolver.LastSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, roomID, session.RoomID)
	assert.Equal(t, st.ParticipantID, session.ParticipantID)
}

func TestCreateRoom_UnknownSeries(t *testing.T) {
	h := newHarness(t)
	mod := h.device()

	_, err := mod.engine.CreateRoom(context.Background(), "bogus")
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	assert.Empty(t, h.store.Writes())
}

func TestCreateRoom_WriteFailureLeavesStateIdle(t *testing.T) {
	h := newHarness(t)
	mod := h.device()
	h.failWrites("", errors.New("connection refused"))

	_, err := mod.engine.CreateRoom(context.Background(), models.SeriesTShirt)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindRoomCreationFailed))

	reported := mod.reports.last()
	require.NotNil(t, reported)
	assert.True(t, reported.Retryable())
	assert.False(t, mod.engine.State().Joined())

	h.store.SetWriteHook(nil)
	require.NoError(t, reported.Retry(context.Background()))
	assert.True(t, mod.engine.State().Joined())
}

func TestCreateThenJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device("Morgan")

	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	first := mod.engine.State().ParticipantID

	require.NoError(t, mod.engine.JoinRoomWithName(ctx, roomID, "Someone Else"))

	st := mod.engine.State()
	assert.Equal(t, first, st.ParticipantID)
	assert.Len(t, st.Participants, 1)
	assert.True(t, st.Participants[0].IsModerator())
}

func TestJoinRoomWithName_SameDeviceTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)

	guest := h.device()
	require.NoError(t, guest.engine.JoinRoomWithName(ctx, roomID, "Ada"))
	first := guest.engine.State().ParticipantID
	require.NoError(t, guest.engine.JoinRoomWithName(ctx, strings.ToLower(roomID), "Ada"))

	st := guest.engine.State()
	assert.Equal(t, first, st.ParticipantID)
	assert.Len(t, st.Participants, 2)
	assert.Len(t, mod.engine.State().Participants, 2, "moderator sees the guest through the subscription")
}

func TestJoinRoomWithName_MatchesSeatByName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)

	laptop := h.device()
	require.NoError(t, laptop.engine.JoinRoomWithName(ctx, roomID, "Ada"))
	seat := laptop.engine.State().ParticipantID

	phone := h.device()
	require.NoError(t, phone.engine.JoinRoomWithName(ctx, roomID, "  ADA "))

	assert.Equal(t, seat, phone.engine.State().ParticipantID)
	assert.Len(t, phone.engine.State().Participants, 2)

	id, ok, err := phone.resolver.ParticipantID(ctx, roomID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, seat, id)
}

func TestJoinRoomWithName_RejoinKeepsEstimation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	require.NoError(t, mod.engine.SelectEstimation(ctx, models.Number(8)))

	require.NoError(t, mod.engine.JoinRoomWithName(ctx, roomID, "Morgan"))

	me, ok := mod.engine.State().Me()
	require.True(t, ok)
	assert.True(t, me.Estimation.Equal(models.Number(8)))
}

func TestJoinRoomWithName_UnknownRoom(t *testing.T) {
	h := newHarness(t)
	guest := h.device()

	err := guest.engine.JoinRoomWithName(context.Background(), "NOPE99", "Ada")
	assert.True(t, apperror.Is(err, apperror.KindRoomNotFound))
	assert.Empty(t, h.store.Writes())

	reported := guest.reports.last()
	require.NotNil(t, reported)
	assert.Equal(t, apperror.KindRoomNotFound, reported.Kind)
	assert.False(t, guest.engine.State().IsLoading)
}

func TestJoinRoomWithName_Validation(t *testing.T) {
	h := newHarness(t)
	guest := h.device()

	err := guest.engine.JoinRoomWithName(context.Background(), "ROOM42", "   ")
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	assert.Empty(t, h.store.Writes())
}

func TestJoinRoomWithName_WriteFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)

	guest := h.device()
	h.failWrites(childParticipants, errors.New("permission denied"))
	err = guest.engine.JoinRoomWithName(ctx, roomID, "Ada")
	assert.True(t, apperror.Is(err, apperror.KindJoinRoomFailed))
	assert.False(t, guest.engine.State().Joined())
	assert.True(t, guest.reports.last().Retryable())
}

func TestSelectEstimation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	guest := h.device()
	require.NoError(t, guest.engine.JoinRoomWithName(ctx, roomID, "Ada"))

	require.NoError(t, guest.engine.SelectEstimation(ctx, models.Number(5)))

	for _, st := range []State{guest.engine.State(), mod.engine.State()} {
		for _, p := range st.Participants {
			if p.ID == guest.engine.State().ParticipantID {
				assert.True(t, p.Estimation.Equal(models.Number(5)))
			}
		}
	}
}

func TestSelectEstimation_RejectedAfterReveal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	_, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	require.NoError(t, mod.engine.RevealEstimations(ctx))

	h.store.ResetWrites()
	err = mod.engine.SelectEstimation(ctx, models.Number(3))
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	assert.Empty(t, h.store.Writes())
	assert.Equal(t, apperror.KindValidation, mod.reports.last().Kind)
}

func TestSelectEstimation_NotInSeries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	_, err := mod.engine.CreateRoom(ctx, models.SeriesTShirt)
	require.NoError(t, err)

	h.store.ResetWrites()
	err = mod.engine.SelectEstimation(ctx, models.Number(4))
	assert.True(t, apperror.Is(err, apperror.KindInvalidData))
	assert.Empty(t, h.store.Writes())
}

func TestSelectEstimation_NotJoined(t *testing.T) {
	h := newHarness(t)
	guest := h.device()

	err := guest.engine.SelectEstimation(context.Background(), models.Number(3))
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestSelectEstimation_AllWritesFail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	_, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	_, err = mod.engine.AddIssue(ctx, "PROJ-1", "Login page")
	require.NoError(t, err)
	issueID := mod.engine.State().Issues[0].ID
	require.NoError(t, mod.engine.SelectCurrentIssue(ctx, issueID))

	h.failWrites("", errors.New("net::ERR_BLOCKED_BY_CLIENT"))
	err = mod.engine.SelectEstimation(ctx, models.Number(13))
	assert.True(t, apperror.Is(err, apperror.KindVoteFailed))

	reported := mod.reports.last()
	require.NotNil(t, reported)
	assert.Equal(t, msgVoteBlocked, reported.Message)
	require.True(t, reported.Retryable())

	h.store.SetWriteHook(nil)
	require.NoError(t, reported.Retry(ctx))
	me, _ := mod.engine.State().Me()
	assert.True(t, me.Estimation.Equal(models.Number(13)))
}

func TestSelectEstimation_PartialFailureIsSilent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	_, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	_, err = mod.engine.AddIssue(ctx, "PROJ-1", "")
	require.NoError(t, err)
	require.NoError(t, mod.engine.SelectCurrentIssue(ctx, mod.engine.State().Issues[0].ID))

	before := len(mod.reports.errs)
	h.failWrites(childVotes, errors.New("quota exceeded"))
	require.NoError(t, mod.engine.SelectEstimation(ctx, models.Number(2)))
	assert.Len(t, mod.reports.errs, before)
}

func TestRevealEstimations_Stats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)

	votes := map[string]models.Estimate{
		"Ada":   models.Number(5),
		"Grace": models.Token(models.TokenUnsure),
		"Linus": models.Number(8),
	}
	require.NoError(t, mod.engine.SelectEstimation(ctx, models.Number(3)))
	for name, v := range votes {
		d := h.device()
		require.NoError(t, d.engine.JoinRoomWithName(ctx, roomID, name))
		require.NoError(t, d.engine.SelectEstimation(ctx, v))
	}

	gone := h.device()
	require.NoError(t, gone.engine.JoinRoomWithName(ctx, roomID, "Ken"))
	require.NoError(t, gone.engine.SelectEstimation(ctx, models.Number(89)))
	require.NoError(t, gone.engine.LeaveRoom(ctx))

	require.NoError(t, mod.engine.RevealEstimations(ctx))

	st := mod.engine.State()
	assert.True(t, st.Revealed)
	assert.Equal(t, 4, activeCount(st))

	stats := st.Stats()
	require.NotNil(t, stats.Average)
	assert.InDelta(t, 16.0/3.0, *stats.Average, 1e-9)
	assert.Equal(t, "5.33", stats.AverageText)
	assert.Equal(t, map[string]int{"3": 1, "5": 1, "8": 1, "?": 1}, stats.Distribution)
	assert.Equal(t, 4, stats.Voted)
}

func TestRevealEstimations_WithIssueThenNewRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	issueID, err := mod.engine.AddIssue(ctx, "PROJ-7", "Checkout flow")
	require.NoError(t, err)
	require.NoError(t, mod.engine.SelectCurrentIssue(ctx, issueID))

	guest := h.device()
	require.NoError(t, guest.engine.JoinRoomWithName(ctx, roomID, "Ada"))
	require.NoError(t, mod.engine.SelectEstimation(ctx, models.Number(3)))
	require.NoError(t, guest.engine.SelectEstimation(ctx, models.Number(8)))

	require.NoError(t, mod.engine.RevealEstimations(ctx))

	issue, ok := guest.engine.State().CurrentIssue()
	require.True(t, ok)
	assert.Equal(t, models.IssueStatusEstimated, issue.Status)
	assert.Equal(t, "5.50", issue.Average)
	assert.Len(t, guest.engine.State().Votes[issueID], 2)

	require.NoError(t, guest.engine.StartNewVote(ctx))

	for _, st := range []State{mod.engine.State(), guest.engine.State()} {
		assert.False(t, st.Revealed)
		issue, ok := st.CurrentIssue()
		require.True(t, ok)
		assert.Equal(t, models.IssueStatusPending, issue.Status)
		assert.Empty(t, issue.Average)
		assert.Empty(t, st.Votes[issueID])
		for _, p := range st.Participants {
			assert.False(t, p.Estimation.IsSet())
		}
	}

	snap := h.roomSnapshot(roomID)
	stored := snap.Child(childIssues).Child(issueID)
	assert.NotContains(t, stored, fieldAverage)
	assert.Equal(t, string(models.IssueStatusPending), stored[fieldStatus])
}

func TestRevealEstimations_FailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	_, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)

	h.failWrites(childSessions, errors.New("permission denied"))
	err = mod.engine.RevealEstimations(ctx)
	assert.True(t, apperror.Is(err, apperror.KindUnknown))
	assert.True(t, mod.reports.last().Retryable())
}

func TestStartNewVote_ClearsLocallyWhenWritesFail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	guest := h.device()
	require.NoError(t, guest.engine.JoinRoomWithName(ctx, roomID, "Ada"))
	require.NoError(t, mod.engine.SelectEstimation(ctx, models.Number(2)))
	require.NoError(t, guest.engine.SelectEstimation(ctx, models.Number(3)))
	require.NoError(t, mod.engine.RevealEstimations(ctx))

	h.failWrites("", errors.New("connection reset by peer"))
	err = mod.engine.StartNewVote(ctx)
	assert.True(t, apperror.Is(err, apperror.KindUnknown))

	st := mod.engine.State()
	assert.False(t, st.Revealed)
	for _, p := range st.Participants {
		assert.False(t, p.Estimation.IsSet(), "participant %s", p.Name)
	}
}

func TestStartNewVote_ParticipantFailuresOnlyLogged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	_, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	require.NoError(t, mod.engine.SelectEstimation(ctx, models.Number(1)))

	h.failWrites(childParticipants, errors.New("permission denied"))
	require.NoError(t, mod.engine.StartNewVote(ctx))

	me, _ := mod.engine.State().Me()
	assert.False(t, me.Estimation.IsSet())
}

func TestIssues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)

	_, err = mod.engine.AddIssue(ctx, "  ", "")
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	first, err := mod.engine.AddIssue(ctx, "PROJ-1", "First")
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	second, err := mod.engine.AddIssue(ctx, "PROJ-2", "Second")
	require.NoError(t, err)

	st := mod.engine.State()
	require.Len(t, st.Issues, 2)
	assert.Equal(t, first, st.Issues[0].ID)
	assert.Equal(t, second, st.Issues[1].ID)

	err = mod.engine.SelectCurrentIssue(ctx, "missing")
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	require.NoError(t, mod.engine.SelectCurrentIssue(ctx, second))
	assert.Equal(t, second, mod.engine.State().CurrentIssueID)

	require.NoError(t, mod.engine.RemoveIssue(ctx, second))
	st = mod.engine.State()
	assert.Empty(t, st.CurrentIssueID)
	require.Len(t, st.Issues, 1)

	snap := h.roomSnapshot(roomID)
	assert.Nil(t, snap.Child(childIssues).Child(second))
	assert.NotNil(t, snap.Child(childIssues).Child(first))
}

func TestChangeSeries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	guest := h.device()
	require.NoError(t, guest.engine.JoinRoomWithName(ctx, roomID, "Ada"))

	require.NoError(t, mod.engine.ChangeSeries(ctx, models.SeriesTShirt))
	st := guest.engine.State()
	assert.Equal(t, models.SeriesTShirt, st.SeriesKey)
	assert.True(t, st.hasOption(models.Token("XL")))

	err = mod.engine.ChangeSeries(ctx, "nope")
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestLeaveRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	guest := h.device()
	require.NoError(t, guest.engine.JoinRoomWithName(ctx, roomID, "Ada"))
	seat := guest.engine.State().ParticipantID

	var last State
	cancel := guest.engine.OnChange(func(st State) { last = st })
	defer cancel()

	require.NoError(t, guest.engine.LeaveRoom(ctx))
	assert.False(t, guest.engine.State().Joined())
	assert.False(t, last.Joined())

	session, err := guest.resolver.LastSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	for _, p := range mod.engine.State().Participants {
		if p.ID == seat {
			assert.False(t, p.Active)
		}
	}
	assert.Equal(t, 1, h.store.SubscriberCount())

	ok, err := mod.engine.HasSeat(ctx, roomID, seat)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, guest.engine.JoinRoomWithName(ctx, roomID, "Ada"))
	assert.Equal(t, seat, guest.engine.State().ParticipantID)
	assert.Equal(t, 2, activeCount(mod.engine.State()))
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	seat := mod.engine.State().ParticipantID

	other := h.device()
	h.store.ResetWrites()
	require.NoError(t, other.engine.Resume(ctx, roomID, seat))
	assert.Empty(t, h.store.Writes())
	assert.Equal(t, seat, other.engine.State().ParticipantID)
	assert.True(t, other.engine.State().Joined())

	err = other.engine.Resume(ctx, "GONE00", seat)
	assert.True(t, apperror.Is(err, apperror.KindRoomNotFound))
}

func TestEngineMetrics(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	_, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	_ = mod.engine.SelectEstimation(ctx, models.Number(999))

	m := mod.metrics.Snapshot()
	assert.Equal(t, 3, m.Writes)
	assert.Zero(t, m.FailedWrites)
	assert.Equal(t, 1, m.Reported[apperror.KindInvalidData])
}

func TestJoinRoomWithName_OverlappingJoinsShareSeat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	guest := h.device()

	// hold the first seat write until the second join has been issued
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.store.SetWriteHook(func(op remote.WriteOp) error {
		if strings.Contains(op.Path, childParticipants) {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
		return nil
	})

	errs := make(chan error, 2)
	go func() { errs <- guest.engine.JoinRoomWithName(ctx, roomID, "Bob") }()
	<-entered
	go func() { errs <- guest.engine.JoinRoomWithName(ctx, roomID, "Bob") }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	h.store.SetWriteHook(nil)

	assert.Len(t, mod.engine.State().Participants, 2)
	stored, ok, err := guest.resolver.ParticipantID(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stored, guest.engine.State().ParticipantID)
}

func TestStartNewVote_OutlivesCancelledContext(t *testing.T) {
	h := newHarness(t)
	mod := h.device()
	_, err := mod.engine.CreateRoom(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, mod.engine.SelectEstimation(context.Background(), models.Number(5)))
	require.NoError(t, mod.engine.RevealEstimations(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.store.ResetWrites()

	require.NoError(t, mod.engine.StartNewVote(ctx))
	assert.NotEmpty(t, h.store.Writes())
	assert.Nil(t, mod.reports.last())

	st := mod.engine.State()
	assert.False(t, st.Revealed)
	me, ok := st.Me()
	require.True(t, ok)
	assert.False(t, me.Estimation.IsSet())
}

func TestResume_NoActiveSessionIsReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	roomID, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	st := mod.engine.State()
	require.NoError(t, h.store.Write(ctx, sessionPath(roomID, st.SessionID), map[string]any{fieldActive: false}))

	ok, err := mod.engine.HasSeat(ctx, roomID, st.ParticipantID)
	require.NoError(t, err)
	assert.False(t, ok)

	other := h.device()
	err = other.engine.Resume(ctx, roomID, st.ParticipantID)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.True(t, apperror.Is(err, apperror.KindJoinRoomFailed))
	require.NotNil(t, other.reports.last())
	assert.True(t, other.reports.last().Retryable())
	assert.False(t, other.engine.State().IsLoading)
}

func TestIssueRetriesReportAgain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := h.device()
	_, err := mod.engine.CreateRoom(ctx, "")
	require.NoError(t, err)
	kept, err := mod.engine.AddIssue(ctx, "PP-1", "Kept")
	require.NoError(t, err)

	h.failWrites(childIssues, errors.New("permission denied"))
	_, err = mod.engine.AddIssue(ctx, "PP-2", "Lost")
	require.Error(t, err)
	require.Equal(t, 1, mod.reports.count())

	assert.Error(t, mod.reports.last().Retry(ctx))
	assert.Equal(t, 2, mod.reports.count())
	assert.True(t, apperror.Is(mod.reports.last(), apperror.KindUnknown))

	require.Error(t, mod.engine.RemoveIssue(ctx, kept))
	require.Equal(t, 3, mod.reports.count())
	assert.Error(t, mod.reports.last().Retry(ctx))
	assert.Equal(t, 4, mod.reports.count())

	h.store.SetWriteHook(nil)
	assert.NoError(t, mod.reports.last().Retry(ctx))
	assert.Equal(t, 4, mod.reports.count())
}

func TestPublishDropsOlderStates(t *testing.T) {
	h := newHarness(t)
	d := h.device()

	var got []string
	cancel := d.engine.OnChange(func(st State) { got = append(got, st.RoomID) })
	defer cancel()

	d.engine.publish(2, State{RoomID: "NEWER"})
	d.engine.publish(1, State{RoomID: "OLDER"})
	d.engine.publish(3, State{RoomID: "NEWEST"})
	assert.Equal(t, []string{"NEWER", "NEWEST"}, got)
}
