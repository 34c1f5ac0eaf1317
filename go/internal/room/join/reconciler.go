// Package join seats this device in a room automatically on entry, falling
// back to a manual prompt when no name can be found in time.
package join

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointing/go/internal/identity"
	"github.com/mcdev12/pointing/go/internal/room"
)

// Status is the position of the join flow.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusJoining Status = "JOINING"
	StatusJoined  Status = "JOINED"
	StatusFailed  Status = "JOIN_FAILED"
)

var ErrNameRequired = errors.New("a name is required to join")

// Joiner is the part of the room engine the reconciler drives.
type Joiner interface {
	JoinRoomWithName(ctx context.Context, roomID, name string) error
	Resume(ctx context.Context, roomID, participantID string) error
	HasSeat(ctx context.Context, roomID, participantID string) (bool, error)
}

// Config holds the two join deadlines.
type Config struct {
	// FallbackTimeout is how long to wait before offering manual join.
	FallbackTimeout time.Duration
	// ForceTimeout is how long to wait before marking the flow joined anyway.
	ForceTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FallbackTimeout: 3 * time.Second,
		ForceTimeout:    10 * time.Second,
	}
}

// Reconciler runs the auto-join sequence for one device.
type Reconciler struct {
	joiner   Joiner
	resolver *identity.Resolver
	names    identity.NameProvider
	clock    clockwork.Clock
	cfg      Config

	mu           sync.Mutex
	status       Status
	err          error
	roomID       string
	forced       bool
	waiting      bool
	attempt      uint64
	stop         chan struct{}
	onManualJoin func(roomID string)
	listeners    map[int]func(Status)
	nextID       int
}

// NewReconciler creates a reconciler. A nil names provider means nobody is
// signed in.
func NewReconciler(joiner Joiner, resolver *identity.Resolver, names identity.NameProvider, clock clockwork.Clock, cfg Config) *Reconciler {
	if names == nil {
		names = identity.StaticName("")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	def := DefaultConfig()
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = def.FallbackTimeout
	}
	if cfg.ForceTimeout <= 0 {
		cfg.ForceTimeout = def.ForceTimeout
	}
	return &Reconciler{
		joiner:    joiner,
		resolver:  resolver,
		names:     names,
		clock:     clock,
		cfg:       cfg,
		status:    StatusPending,
		listeners: make(map[int]func(Status)),
	}
}

// OnManualJoinNeeded sets the callback invoked when the user has to type a
// name, either because none is known or because auto-join is taking too long.
func (r *Reconciler) OnManualJoinNeeded(fn func(roomID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onManualJoin = fn
}

// OnChange registers fn to be called on every status change.
func (r *Reconciler) OnChange(fn func(Status)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Status returns the current status and, after a failure, its cause.
func (r *Reconciler) Status() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.err
}

// Forced reports whether the flow was marked joined by the force deadline
// rather than by a completed join.
func (r *Reconciler) Forced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forced
}

// Run enters roomID. It returns once the device is seated, the join failed
// or ctx is done. A second Run for a room already being joined or joined
// returns immediately.
func (r *Reconciler) Run(ctx context.Context, roomID string) error {
	roomID = room.NormalizeRoomID(roomID)

	r.mu.Lock()
	if status := r.status; r.roomID == roomID && (status == StatusJoining || status == StatusJoined) {
		r.mu.Unlock()
		log.Debug().Str("room_id", roomID).Str("status", string(status)).Msg("join already in progress")
		return nil
	}
	attempt := r.begin(ctx, roomID)
	r.mu.Unlock()
	r.notify(StatusJoining)

	if r.resumePersisted(ctx, roomID) {
		r.finish(attempt, nil)
		return nil
	}

	name, err := r.resolveName(ctx, roomID)
	if err != nil {
		r.finish(attempt, err)
		return err
	}
	err = r.join(ctx, roomID, name)
	r.finish(attempt, err)
	return err
}

// ManualJoin supplies a name typed by the user. A Run waiting for a name
// picks it up and a join already in flight is left to finish; otherwise the
// join is attempted here.
func (r *Reconciler) ManualJoin(ctx context.Context, name string) error {
	if err := r.resolver.SetGuestName(ctx, name); err != nil {
		return fmt.Errorf("%w: %v", ErrNameRequired, err)
	}

	r.mu.Lock()
	roomID := r.roomID
	switch {
	case roomID == "":
		r.mu.Unlock()
		return fmt.Errorf("no room entered")
	case r.status == StatusJoined:
		r.mu.Unlock()
		return nil
	case r.waiting:
		// the waiting Run is woken by the guest name watch
		r.mu.Unlock()
		return nil
	case r.status == StatusJoining:
		// the name is kept for the next attempt; the running one owns the seat
		r.mu.Unlock()
		log.Info().Str("room_id", roomID).Msg("join already in progress, manual name saved")
		return nil
	}
	attempt := r.begin(ctx, roomID)
	r.mu.Unlock()
	r.notify(StatusJoining)

	err := r.join(ctx, roomID, name)
	r.finish(attempt, err)
	return err
}

// begin moves to JOINING and arms both deadlines. Caller holds mu.
func (r *Reconciler) begin(ctx context.Context, roomID string) uint64 {
	if r.stop != nil {
		close(r.stop)
	}
	r.attempt++
	r.roomID = roomID
	r.status = StatusJoining
	r.err = nil
	r.forced = false
	r.waiting = false
	r.stop = make(chan struct{})

	attempt := r.attempt
	r.arm(ctx, r.stop, r.cfg.FallbackTimeout, func() { r.fallback(attempt) })
	r.arm(ctx, r.stop, r.cfg.ForceTimeout, func() { r.force(attempt) })
	return attempt
}

// arm runs fire after d unless stop is closed or ctx is done first.
func (r *Reconciler) arm(ctx context.Context, stop <-chan struct{}, d time.Duration, fire func()) {
	t := r.clock.NewTimer(d)
	go func() {
		select {
		case <-t.Chan():
			fire()
		case <-stop:
			stopAndDrainTimer(t)
		case <-ctx.Done():
			stopAndDrainTimer(t)
		}
	}()
}

// stopAndDrainTimer safely stops a timer and drains its channel.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func (r *Reconciler) fallback(attempt uint64) {
	r.mu.Lock()
	if attempt != r.attempt || r.status != StatusJoining {
		r.mu.Unlock()
		return
	}
	roomID := r.roomID
	cb := r.onManualJoin
	r.mu.Unlock()

	log.Info().Str("room_id", roomID).Dur("after", r.cfg.FallbackTimeout).Msg("auto-join slow, offering manual join")
	if cb != nil {
		cb(roomID)
	}
}

func (r *Reconciler) force(attempt uint64) {
	r.mu.Lock()
	if attempt != r.attempt || r.status != StatusJoining {
		r.mu.Unlock()
		return
	}
	r.status = StatusJoined
	r.forced = true
	close(r.stop)
	r.stop = nil
	roomID := r.roomID
	r.mu.Unlock()

	log.Warn().Str("room_id", roomID).Dur("after", r.cfg.ForceTimeout).Msg("join did not complete, marking joined")
	r.notify(StatusJoined)
}

// finish records the outcome of attempt and cancels its deadlines. A status
// of JOINED is never reverted.
func (r *Reconciler) finish(attempt uint64, err error) {
	r.mu.Lock()
	if attempt != r.attempt {
		r.mu.Unlock()
		return
	}
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.waiting = false
	if r.status == StatusJoined {
		roomID := r.roomID
		r.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("join failed after being marked joined")
		}
		return
	}
	if err != nil {
		r.status = StatusFailed
		r.err = err
	} else {
		r.status = StatusJoined
	}
	status := r.status
	r.mu.Unlock()

	r.notify(status)
}

func (r *Reconciler) notify(status Status) {
	r.mu.Lock()
	listeners := make([]func(Status), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

// resumePersisted reattaches to the room recorded in the last session when
// its seat is still live. No remote write is made.
func (r *Reconciler) resumePersisted(ctx context.Context, roomID string) bool {
	session, err := r.resolver.LastSession(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read last room session")
		return false
	}
	if session == nil || session.RoomID != roomID {
		return false
	}
	return r.resumeSeat(ctx, roomID, session.ParticipantID)
}

func (r *Reconciler) resumeSeat(ctx context.Context, roomID, participantID string) bool {
	seated, err := r.joiner.HasSeat(ctx, roomID, participantID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to check seat")
		return false
	}
	if !seated {
		return false
	}
	if err := r.joiner.Resume(ctx, roomID, participantID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("resume failed, joining instead")
		return false
	}
	return true
}

// resolveName returns the display name, then the saved guest name, and
// otherwise asks for manual entry and waits for a guest name to be saved.
func (r *Reconciler) resolveName(ctx context.Context, roomID string) (string, error) {
	if name, ok := r.names.DisplayName(ctx); ok {
		return name, nil
	}

	updates, cancel := r.resolver.WatchGuestName()
	defer cancel()

	name, ok, err := r.resolver.GuestName(ctx)
	if err != nil {
		return "", err
	}
	if ok {
		return name, nil
	}

	r.mu.Lock()
	r.waiting = true
	cb := r.onManualJoin
	r.mu.Unlock()
	if cb != nil {
		cb(roomID)
	}
	log.Info().Str("room_id", roomID).Msg("waiting for a guest name")

	for {
		select {
		case name, open := <-updates:
			if !open {
				return "", ErrNameRequired
			}
			if name != "" {
				return name, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// join seats the device under name. An identifier already persisted for the
// room with a live seat is taken as proof of membership and no join write is
// made.
func (r *Reconciler) join(ctx context.Context, roomID, name string) error {
	participantID, ok, err := r.resolver.ParticipantID(ctx, roomID)
	if err != nil {
		return err
	}
	if ok && r.resumeSeat(ctx, roomID, participantID) {
		return nil
	}
	return r.joiner.JoinRoomWithName(ctx, roomID, name)
}
