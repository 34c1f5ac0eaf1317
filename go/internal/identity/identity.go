// Package identity derives and persists the stable per-room participant
// identifier of this device.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/mcdev12/pointing/go/internal/localstore"
	"github.com/mcdev12/pointing/go/internal/models"
)

const (
	participantKeyPrefix = "participant:"
	GuestNameKey         = "guest_name"
	RoomSessionKey       = "room_session"
)

// RoomSession is the last room this device was seated in.
type RoomSession struct {
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	SavedAt       time.Time `json:"saved_at"`
}

// Resolver reads and writes identity slots in durable local storage. Once a
// room has an identifier on this device it is never reissued, which is what
// makes rejoining idempotent.
type Resolver struct {
	store localstore.Store
	newID func() string
}

// NewResolver creates a resolver over store.
func NewResolver(store localstore.Store) *Resolver {
	return &Resolver{
		store: store,
		newID: func() string { return uuid.New().String() },
	}
}

func participantKey(roomID string) string {
	return participantKeyPrefix + roomID
}

// ParticipantID returns the identifier persisted for roomID, if any.
func (r *Resolver) ParticipantID(ctx context.Context, roomID string) (string, bool, error) {
	id, err := r.store.Get(ctx, participantKey(roomID))
	if errors.Is(err, localstore.ErrNotFound) || (err == nil && id == "") {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get participant id: %w", err)
	}
	return id, true, nil
}

// GetOrCreateParticipantID returns the persisted identifier for roomID or
// mints and persists a new one.
func (r *Resolver) GetOrCreateParticipantID(ctx context.Context, roomID string) (id string, created bool, err error) {
	id, ok, err := r.ParticipantID(ctx, roomID)
	if err != nil {
		return "", false, err
	}
	if ok {
		return id, false, nil
	}

	id = r.newID()
	if err := r.SetParticipantID(ctx, roomID, id); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// SetParticipantID persists id as this device's identifier for roomID.
func (r *Resolver) SetParticipantID(ctx context.Context, roomID, id string) error {
	if err := r.store.Set(ctx, participantKey(roomID), id); err != nil {
		return fmt.Errorf("set participant id: %w", err)
	}
	return nil
}

// GuestName returns the locally persisted guest name.
func (r *Resolver) GuestName(ctx context.Context) (string, bool, error) {
	name, err := r.store.Get(ctx, GuestNameKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get guest name: %w", err)
	}
	name = strings.TrimSpace(name)
	return name, name != "", nil
}

// SetGuestName persists the guest name and wakes anyone watching for it.
func (r *Resolver) SetGuestName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("guest name is required")
	}
	if err := r.store.Set(ctx, GuestNameKey, name); err != nil {
		return fmt.Errorf("set guest name: %w", err)
	}
	return nil
}

// WatchGuestName delivers guest names as they are written.
func (r *Resolver) WatchGuestName() (<-chan string, func()) {
	return r.store.Watch(GuestNameKey)
}

// LastSession returns the last room session saved on this device, or nil.
func (r *Resolver) LastSession(ctx context.Context) (*RoomSession, error) {
	raw, err := r.store.Get(ctx, RoomSessionKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room session: %w", err)
	}

	var session RoomSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		// a corrupt blob is treated as no session
		return nil, nil
	}
	if session.RoomID == "" || session.ParticipantID == "" {
		return nil, nil
	}
	return &session, nil
}

// SaveSession records roomID/participantID as both the room's identifier slot
// and the last known room session.
func (r *Resolver) SaveSession(ctx context.Context, roomID, participantID string) error {
	blob, err := json.Marshal(RoomSession{
		RoomID:        roomID,
		ParticipantID: participantID,
		SavedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode room session: %w", err)
	}

	if err := r.store.SetMany(ctx, map[string]string{
		participantKey(roomID): participantID,
		RoomSessionKey:         string(blob),
	}); err != nil {
		return fmt.Errorf("save room session: %w", err)
	}
	return nil
}

// ClearSession forgets the last known room session. Per-room identifiers are
// kept so a later rejoin reuses the same seat.
func (r *Resolver) ClearSession(ctx context.Context) error {
	if err := r.store.Delete(ctx, RoomSessionKey); err != nil {
		return fmt.Errorf("clear room session: %w", err)
	}
	return nil
}

// NameProvider supplies the signed-in display name, when there is one.
type NameProvider interface {
	DisplayName(ctx context.Context) (string, bool)
}

// StaticName is a NameProvider with a fixed name. The empty name means
// nobody is signed in.
type StaticName string

// DisplayName implements NameProvider.
func (n StaticName) DisplayName(context.Context) (string, bool) {
	name := strings.TrimSpace(string(n))
	return name, name != ""
}

// NormalizeName folds case and unicode form so "Zoë" and "ZOË" compare equal.
func NormalizeName(name string) string {
	// a Caser is stateful, so one per call
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// FindSeat looks for this device's seat in participants: first by identifier,
// then by name among active seats.
func FindSeat(participants []models.Participant, participantID, name string) (models.Participant, bool) {
	if participantID != "" {
		for _, p := range participants {
			if p.ID == participantID {
				return p, true
			}
		}
	}

	want := NormalizeName(name)
	if want == "" {
		return models.Participant{}, false
	}
	for _, p := range participants {
		if p.Active && NormalizeName(p.Name) == want {
			return p, true
		}
	}
	return models.Participant{}, false
}
