// Package room keeps the local view of an estimation room consistent with the
// shared remote store and carries out the actions a participant can take.
package room

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointing/go/internal/apperror"
	"github.com/mcdev12/pointing/go/internal/identity"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/remote"
)

const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 6
	roomCodeAttempts = 5

	defaultModeratorName = "Moderator"
)

var (
	ErrNotJoined       = errors.New("not seated in a room")
	ErrNoActiveSession = errors.New("room has no active session")
)

// Config holds the engine's collaborators. Zero fields get defaults.
type Config struct {
	Series        *models.SeriesRegistry
	DefaultSeries string
	Clock         clockwork.Clock
	Metrics       MetricsCollector
	Names         identity.NameProvider
	NewID         func() string
	NewRoomID     func() string
}

// DefaultConfig returns a configuration with the built-in series, the real
// clock and no metrics.
func DefaultConfig() Config {
	return Config{
		Series:        models.NewSeriesRegistry(),
		DefaultSeries: models.SeriesFibonacci,
		Clock:         clockwork.NewRealClock(),
		Metrics:       NoOpMetricsCollector{},
		Names:         identity.StaticName(""),
		NewID:         func() string { return uuid.New().String() },
		NewRoomID:     NewRoomCode,
	}
}

// NewRoomCode returns a short, unambiguous room code.
func NewRoomCode() string {
	var b strings.Builder
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := 0; i < roomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		b.WriteByte(roomCodeAlphabet[n.Int64()])
	}
	return b.String()
}

// NormalizeRoomID canonicalises user-typed room codes.
func NormalizeRoomID(roomID string) string {
	return strings.ToUpper(strings.TrimSpace(roomID))
}

// Engine owns the local room state. Every mutation goes through update so
// listeners always observe whole states.
type Engine struct {
	repo          *Repository
	resolver      *identity.Resolver
	reporter      apperror.Reporter
	series        *models.SeriesRegistry
	clock         clockwork.Clock
	metrics       MetricsCollector
	names         identity.NameProvider
	newID         func() string
	newRoom       func() string
	defaultSeries string

	// joinMu serialises create, join and resume so one device never mints
	// two seats for the same room.
	joinMu sync.Mutex

	mu        sync.Mutex
	state     State
	gen       uint64
	version   uint64
	unsub     func()
	listeners map[int]func(State)
	nextID    int

	// pubMu orders fan-out; published is the newest version delivered.
	pubMu     sync.Mutex
	published uint64
}

// NewEngine creates an engine over the remote store.
func NewEngine(store remote.Store, resolver *identity.Resolver, reporter apperror.Reporter, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Series == nil {
		cfg.Series = def.Series
	}
	if cfg.DefaultSeries == "" {
		cfg.DefaultSeries = def.DefaultSeries
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Metrics == nil {
		cfg.Metrics = def.Metrics
	}
	if cfg.Names == nil {
		cfg.Names = def.Names
	}
	if cfg.NewID == nil {
		cfg.NewID = def.NewID
	}
	if cfg.NewRoomID == nil {
		cfg.NewRoomID = def.NewRoomID
	}

	return &Engine{
		repo:          NewRepository(store),
		resolver:      resolver,
		reporter:      reporter,
		series:        cfg.Series,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		names:         cfg.Names,
		newID:         cfg.NewID,
		newRoom:       cfg.NewRoomID,
		defaultSeries: cfg.DefaultSeries,
		listeners:     make(map[int]func(State)),
	}
}

// State returns a copy of the current local state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Series returns the registered estimation series.
func (e *Engine) Series() []models.Series {
	return e.series.List()
}

// OnChange registers fn to receive every new state.
func (e *Engine) OnChange(fn func(State)) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// update applies fn to the state atomically. fn may veto the change by
// returning an error, in which case nothing is published.
func (e *Engine) update(fn func(State) (State, error)) (State, error) {
	e.mu.Lock()
	next, err := fn(e.state)
	if err != nil {
		e.mu.Unlock()
		return State{}, err
	}
	e.state = next
	published := next.Clone()
	version := e.commit()
	e.mu.Unlock()

	e.publish(version, published)
	return published, nil
}

// commit stamps the state just stored. Caller holds mu.
func (e *Engine) commit() uint64 {
	e.version++
	return e.version
}

func (e *Engine) snapshotListeners() []func(State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]func(State), 0, len(e.listeners))
	for _, fn := range e.listeners {
		out = append(out, fn)
	}
	return out
}

// publish hands st to every listener unless a newer state has already been
// delivered. Listeners run one publish at a time and must not call back into
// the engine's actions.
func (e *Engine) publish(version uint64, st State) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	if version <= e.published {
		return
	}
	e.published = version
	for _, fn := range e.snapshotListeners() {
		fn(st.Clone())
	}
}

// fail records and reports err, and returns it for the caller.
func (e *Engine) fail(err *apperror.AppError) error {
	e.metrics.RecordReported(err.Kind)
	if e.reporter != nil {
		e.reporter.Report(err)
	}
	return err
}

// attach makes roomID the current room and subscribes to it. The view read
// during join is applied straight away so the caller sees a populated state
// before the first snapshot arrives.
func (e *Engine) attach(ctx context.Context, roomID, sessionID, participantID string, view roomView) error {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	previous := e.unsub
	e.unsub = nil
	e.state = applySnapshot(State{
		RoomID:        roomID,
		SessionID:     sessionID,
		ParticipantID: participantID,
	}, view)
	published := e.state.Clone()
	version := e.commit()
	e.mu.Unlock()

	if previous != nil {
		previous()
	}
	e.publish(version, published)

	unsub, err := e.repo.subscribe(context.WithoutCancel(ctx), roomID, e.snapshotHandler(gen, roomID))
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.gen != gen {
		// left or switched rooms while subscribing
		e.mu.Unlock()
		unsub()
		return nil
	}
	e.unsub = unsub
	e.mu.Unlock()
	return nil
}

// snapshotHandler folds remote snapshots for roomID into the local state
// until the engine moves on to another generation.
func (e *Engine) snapshotHandler(gen uint64, roomID string) func(remote.Snapshot) {
	return func(snap remote.Snapshot) {
		if snap == nil {
			log.Warn().Str("room_id", roomID).Msg("room no longer exists remotely")
			return
		}
		view, err := decodeRoom(roomID, snap)
		if err != nil {
			e.fail(apperror.Wrap(apperror.KindInvalidData, "Received room data in an unexpected format.", err).
				WithDetail("room_id", roomID))
			return
		}
		e.metrics.RecordSnapshot(roomID, len(view.Participants))

		_, _ = e.update(func(st State) (State, error) {
			if e.gen != gen || st.RoomID != roomID {
				return st, errStale
			}
			return applySnapshot(st, view), nil
		})
	}
}

var errStale = errors.New("stale snapshot")

// detach clears the local state and drops the subscription. It returns the
// state that was current.
func (e *Engine) detach() State {
	e.mu.Lock()
	e.gen++
	previous := e.state
	unsub := e.unsub
	e.unsub = nil
	e.state = State{}
	version := e.commit()
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	e.publish(version, State{})
	return previous
}

func (e *Engine) setLoading(loading bool) {
	_, _ = e.update(func(st State) (State, error) {
		return withLoading(st, loading), nil
	})
}

// joined returns a validation error when no room is joined.
func joined(st State) error {
	if !st.Joined() {
		return apperror.Wrap(apperror.KindValidation, "Join a room first.", ErrNotJoined)
	}
	return nil
}
