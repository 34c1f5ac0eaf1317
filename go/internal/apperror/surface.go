package apperror

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Reporter receives failures from the engine.
type Reporter interface {
	Report(err *AppError)
}

// Surface holds the single error currently shown to the user.
type Surface struct {
	mu        sync.RWMutex
	current   *AppError
	listeners map[int]func(*AppError)
	nextID    int
}

// NewSurface creates an empty error surface.
func NewSurface() *Surface {
	return &Surface{listeners: make(map[int]func(*AppError))}
}

// Report replaces the current error and notifies listeners.
func (s *Surface) Report(err *AppError) {
	if err == nil {
		return
	}
	log.Error().
		Err(err.Err).
		Str("kind", string(err.Kind)).
		Bool("retryable", err.Retryable()).
		Msg(err.Message)
	s.Set(err)
}

// Set replaces the current error without logging.
func (s *Surface) Set(err *AppError) {
	s.mu.Lock()
	s.current = err
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}

// Current returns the error being shown, or nil.
func (s *Surface) Current() *AppError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Clear removes the current error.
func (s *Surface) Clear() {
	s.Set(nil)
}

// Retry clears the current error and runs its recovery closure. It returns
// false when there is nothing to retry.
func (s *Surface) Retry(ctx context.Context) (bool, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current == nil || current.Retry == nil {
		return false, nil
	}
	s.Clear()
	return true, current.Retry(ctx)
}

// OnChange registers fn to be called whenever the current error changes.
func (s *Surface) OnChange(fn func(*AppError)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Surface) snapshotListeners() []func(*AppError) {
	out := make([]func(*AppError), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}
