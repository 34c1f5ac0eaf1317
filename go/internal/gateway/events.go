package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/pointing/go/internal/apperror"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/room"
)

// Event is the envelope of every message pushed to websocket clients.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType names the payload carried by an Event.
type EventType string

const (
	EventTypeRoomState          EventType = "RoomState"
	EventTypeError              EventType = "Error"
	EventTypeJoinStatus         EventType = "JoinStatus"
	EventTypeManualJoinRequired EventType = "ManualJoinRequired"
)

// StatePayload is the canonical room state plus what the UI derives from it.
type StatePayload struct {
	State        room.State         `json:"state"`
	Stats        models.RoundStats  `json:"stats"`
	CurrentIssue *models.Issue      `json:"current_issue,omitempty"`
	Error        *ErrorPayload      `json:"error,omitempty"`
	Join         *JoinStatusPayload `json:"join,omitempty"`
}

// ErrorPayload is an AppError as the UI sees it.
type ErrorPayload struct {
	Kind      apperror.Kind  `json:"kind"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// JoinStatusPayload reports the auto-join flow.
type JoinStatusPayload struct {
	Status string `json:"status"`
	Forced bool   `json:"forced"`
	Error  string `json:"error,omitempty"`
}

// ManualJoinPayload asks the UI to prompt for a name.
type ManualJoinPayload struct {
	RoomID string `json:"room_id"`
}

func newErrorPayload(err *apperror.AppError) *ErrorPayload {
	if err == nil {
		return nil
	}
	return &ErrorPayload{
		Kind:      err.Kind,
		Message:   err.Message,
		Retryable: err.Retryable(),
		Details:   err.Details,
	}
}

func newStatePayload(st room.State, current *apperror.AppError, join *JoinStatusPayload) StatePayload {
	payload := StatePayload{
		State: st,
		Stats: st.Stats(),
		Error: newErrorPayload(current),
		Join:  join,
	}
	if issue, ok := st.CurrentIssue(); ok {
		payload.CurrentIssue = &issue
	}
	return payload
}

// NewEvent wraps payload in an envelope.
func NewEvent(eventType EventType, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
