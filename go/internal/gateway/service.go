// Package gateway is the local bridge between the room engine and a UI: a
// REST action surface plus a websocket stream of state changes.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointing/go/internal/apperror"
	"github.com/mcdev12/pointing/go/internal/room"
	"github.com/mcdev12/pointing/go/internal/room/join"
)

// Service wires the engine, error surface and join flow to HTTP clients.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	engine            Engine
	surface           *apperror.Surface
	flow              JoinFlow
	health            *HealthChecker
	config            Config

	cancelJobs context.CancelFunc
}

// Config holds gateway settings.
type Config struct {
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
	// Remote and Metrics feed the health report; either may be nil.
	Remote  ConnectionChecker
	Metrics MetricsSource
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		AllowedOrigins:   []string{"*"},
	}
}

// NewService creates the gateway. flow may be nil, in which case joins need
// an explicit name.
func NewService(config Config, engine Engine, surface *apperror.Surface, flow JoinFlow) *Service {
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = DefaultConfig().AllowedOrigins
	}
	config.ConnectionConfig.CheckOrigin = originChecker(config.AllowedOrigins)

	jobs, cancel := context.WithCancel(context.Background())
	s := &Service{
		connectionManager: NewConnectionManager(config.ConnectionConfig),
		stateHandler:      NewStateHandler(jobs, engine, surface, flow),
		engine:            engine,
		surface:           surface,
		flow:              flow,
		config:            config,
		cancelJobs:        cancel,
	}
	s.wsHandler = NewWebSocketHandler(s.connectionManager, s.stateHandler.statePayload)
	s.health = NewHealthChecker(config.Remote, config.Metrics, s.connectionManager)
	return s
}

// Start streams engine, error and join changes to connected clients until
// ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")

	cancels := []func(){
		s.engine.OnChange(func(st room.State) {
			s.broadcast(EventTypeRoomState, newStatePayload(st, s.surface.Current(), s.stateHandler.joinStatus()))
		}),
		s.surface.OnChange(func(err *apperror.AppError) {
			s.broadcast(EventTypeError, newErrorPayload(err))
		}),
	}
	if s.flow != nil {
		cancels = append(cancels, s.flow.OnChange(func(join.Status) {
			s.broadcast(EventTypeJoinStatus, s.stateHandler.joinStatus())
		}))
		s.flow.OnManualJoinNeeded(func(roomID string) {
			s.broadcast(EventTypeManualJoinRequired, ManualJoinPayload{RoomID: roomID})
		})
	}

	done := make(chan struct{})
	go func() {
		s.connectionManager.Start(ctx)
		close(done)
	}()

	<-ctx.Done()
	log.Info().Msg("gateway service shutting down")
	for _, cancel := range cancels {
		cancel()
	}
	<-done
	return s.Stop()
}

// Stop cancels background join runs.
func (s *Service) Stop() error {
	s.cancelJobs()
	log.Info().Msg("gateway service stopped")
	return nil
}

func (s *Service) broadcast(eventType EventType, payload any) {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build event")
		return
	}
	s.connectionManager.Broadcast(event)
}

// Routes returns the HTTP handler for the whole bridge.
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(newCORS(s.config.AllowedOrigins).Handler)

	s.stateHandler.RegisterRoutes(r)
	s.wsHandler.RegisterRoutes(r)
	r.Get("/healthz", s.health.ServeHTTP)
	r.Get("/metrics", s.health.HandleMetrics)

	log.Info().Msg("gateway routes registered")
	return r
}

// Stats returns statistics about the gateway service.
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.Stats()
}

// Health runs the health check.
func (s *Service) Health(ctx context.Context) HealthStatus {
	return s.health.Check(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
