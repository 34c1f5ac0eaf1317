package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointing/go/internal/apperror"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/room"
	"github.com/mcdev12/pointing/go/internal/room/join"
)

// Engine is the room action surface the bridge exposes.
type Engine interface {
	State() room.State
	Series() []models.Series
	OnChange(fn func(room.State)) (cancel func())
	CreateRoom(ctx context.Context, seriesKey string) (string, error)
	JoinRoomWithName(ctx context.Context, roomID, name string) error
	LeaveRoom(ctx context.Context) error
	SelectEstimation(ctx context.Context, value models.Estimate) error
	RevealEstimations(ctx context.Context) error
	StartNewVote(ctx context.Context) error
	AddIssue(ctx context.Context, key, summary string) (string, error)
	SelectCurrentIssue(ctx context.Context, issueID string) error
	RemoveIssue(ctx context.Context, issueID string) error
	ChangeSeries(ctx context.Context, seriesKey string) error
}

// JoinFlow is the auto-join state machine.
type JoinFlow interface {
	Run(ctx context.Context, roomID string) error
	ManualJoin(ctx context.Context, name string) error
	Status() (join.Status, error)
	Forced() bool
	OnChange(fn func(join.Status)) (cancel func())
	OnManualJoinNeeded(fn func(roomID string))
}

// StateHandler serves the REST action surface.
type StateHandler struct {
	engine  Engine
	surface *apperror.Surface
	flow    JoinFlow
	// jobs bounds auto-join runs that outlive the request that started them
	jobs context.Context
}

func NewStateHandler(jobs context.Context, engine Engine, surface *apperror.Surface, flow JoinFlow) *StateHandler {
	return &StateHandler{engine: engine, surface: surface, flow: flow, jobs: jobs}
}

// RegisterRoutes mounts the /api routes.
func (h *StateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.HandleGetState)
		r.Get("/series", h.HandleListSeries)

		r.Post("/rooms", h.HandleCreateRoom)
		r.Post("/rooms/{roomId}/join", h.HandleJoinRoom)
		r.Post("/leave", h.HandleLeave)

		r.Get("/join", h.HandleJoinStatus)
		r.Post("/join/manual", h.HandleManualJoin)

		r.Post("/vote", h.HandleVote)
		r.Post("/reveal", h.HandleReveal)
		r.Post("/rounds", h.HandleNewRound)

		r.Post("/issues", h.HandleAddIssue)
		r.Put("/issues/current", h.HandleSelectIssue)
		r.Delete("/issues/{issueId}", h.HandleRemoveIssue)
		r.Put("/series", h.HandleChangeSeries)

		r.Get("/error", h.HandleGetError)
		r.Delete("/error", h.HandleClearError)
		r.Post("/error/retry", h.HandleRetry)
	})
}

func (h *StateHandler) joinStatus() *JoinStatusPayload {
	if h.flow == nil {
		return nil
	}
	status, err := h.flow.Status()
	payload := &JoinStatusPayload{Status: string(status), Forced: h.flow.Forced()}
	if err != nil {
		payload.Error = err.Error()
	}
	return payload
}

func (h *StateHandler) statePayload() StatePayload {
	return newStatePayload(h.engine.State(), h.surface.Current(), h.joinStatus())
}

// HandleGetState handles GET /api/state
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.statePayload())
}

// HandleListSeries handles GET /api/series
func (h *StateHandler) HandleListSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Series())
}

type createRoomRequest struct {
	SeriesKey string `json:"seriesKey"`
}

// HandleCreateRoom handles POST /api/rooms
func (h *StateHandler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	roomID, err := h.engine.CreateRoom(r.Context(), req.SeriesKey)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"roomId": roomID})
}

type joinRequest struct {
	Name string `json:"name"`
}

// HandleJoinRoom handles POST /api/rooms/{roomId}/join. With a name the
// device joins directly; without one the auto-join flow is started.
func (h *StateHandler) HandleJoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	var req joinRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Name) != "" {
		if err := h.engine.JoinRoomWithName(r.Context(), roomID, req.Name); err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.statePayload())
		return
	}

	if h.flow == nil {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	go func() {
		if err := h.flow.Run(h.jobs, roomID); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("room_id", roomID).Msg("auto-join failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"roomId": room.NormalizeRoomID(roomID)})
}

// HandleJoinStatus handles GET /api/join
func (h *StateHandler) HandleJoinStatus(w http.ResponseWriter, r *http.Request) {
	status := h.joinStatus()
	if status == nil {
		writeError(w, http.StatusNotFound, "auto-join is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleManualJoin handles POST /api/join/manual
func (h *StateHandler) HandleManualJoin(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		writeError(w, http.StatusNotFound, "auto-join is not enabled")
		return
	}
	var req joinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.flow.ManualJoin(r.Context(), req.Name); err != nil {
		if errors.Is(err, join.ErrNameRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.joinStatus())
}

// HandleLeave handles POST /api/leave
func (h *StateHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.LeaveRoom(r.Context()); err != nil {
		writeActionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type voteRequest struct {
	Value models.Estimate `json:"value"`
}

// HandleVote handles POST /api/vote. A null value withdraws the vote.
func (h *StateHandler) HandleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, h.engine.SelectEstimation(r.Context(), req.Value))
}

// HandleReveal handles POST /api/reveal
func (h *StateHandler) HandleReveal(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.engine.RevealEstimations(r.Context()))
}

// HandleNewRound handles POST /api/rounds
func (h *StateHandler) HandleNewRound(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.engine.StartNewVote(r.Context()))
}

type addIssueRequest struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
}

// HandleAddIssue handles POST /api/issues
func (h *StateHandler) HandleAddIssue(w http.ResponseWriter, r *http.Request) {
	var req addIssueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	issueID, err := h.engine.AddIssue(r.Context(), req.Key, req.Summary)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"issueId": issueID})
}

type selectIssueRequest struct {
	IssueID string `json:"issueId"`
}

// HandleSelectIssue handles PUT /api/issues/current. An empty id clears it.
func (h *StateHandler) HandleSelectIssue(w http.ResponseWriter, r *http.Request) {
	var req selectIssueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, h.engine.SelectCurrentIssue(r.Context(), req.IssueID))
}

// HandleRemoveIssue handles DELETE /api/issues/{issueId}
func (h *StateHandler) HandleRemoveIssue(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.engine.RemoveIssue(r.Context(), chi.URLParam(r, "issueId")))
}

type changeSeriesRequest struct {
	SeriesKey string `json:"seriesKey"`
}

// HandleChangeSeries handles PUT /api/series
func (h *StateHandler) HandleChangeSeries(w http.ResponseWriter, r *http.Request) {
	var req changeSeriesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, h.engine.ChangeSeries(r.Context(), req.SeriesKey))
}

// HandleGetError handles GET /api/error
func (h *StateHandler) HandleGetError(w http.ResponseWriter, r *http.Request) {
	current := h.surface.Current()
	if current == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, newErrorPayload(current))
}

// HandleClearError handles DELETE /api/error
func (h *StateHandler) HandleClearError(w http.ResponseWriter, r *http.Request) {
	h.surface.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// HandleRetry handles POST /api/error/retry
func (h *StateHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	retried, err := h.surface.Retry(r.Context())
	if !retried {
		writeError(w, http.StatusConflict, "nothing to retry")
		return
	}
	h.respond(w, err)
}

// respond writes the state after a successful action or the action error.
func (h *StateHandler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.statePayload())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type actionErrorResponse struct {
	Error string `json:"error"`
	*ErrorPayload
}

// writeActionError maps an engine failure onto an HTTP status.
func writeActionError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		log.Error().Err(err).Msg("action failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusFor(appErr.Kind), actionErrorResponse{
		Error:        appErr.Message,
		ErrorPayload: newErrorPayload(appErr),
	})
}

func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindInvalidData:
		return http.StatusUnprocessableEntity
	case apperror.KindRoomNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
