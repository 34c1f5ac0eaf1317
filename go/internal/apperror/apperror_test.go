package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNetworkInterference(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"blocked by client", errors.New("net::ERR_BLOCKED_BY_CLIENT"), true},
		{"deadline", fmt.Errorf("write: %w", context.DeadlineExceeded), true},
		{"no responders", errors.New("nats: no responders available for request"), true},
		{"permission", errors.New("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNetworkInterference(tt.err))
		})
	}
}

func TestAppError_KindAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(KindVoteFailed, "vote failed", cause))

	assert.Equal(t, KindVoteFailed, KindOf(err))
	assert.True(t, Is(err, KindVoteFailed))
	assert.False(t, Is(err, KindUnknown))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestSurface_SetClearRetry(t *testing.T) {
	s := NewSurface()

	var seen []*AppError
	cancel := s.OnChange(func(e *AppError) { seen = append(seen, e) })
	defer cancel()

	retried := 0
	s.Report(New(KindUnknown, "failed").WithRetry(func(ctx context.Context) error {
		retried++
		return nil
	}))
	require.NotNil(t, s.Current())
	assert.Equal(t, KindUnknown, s.Current().Kind)

	ok, err := s.Retry(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, retried)
	assert.Nil(t, s.Current())

	ok, err = s.Retry(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, seen, 2)
	assert.Nil(t, seen[1])
}

func TestSurface_RetryWithoutClosure(t *testing.T) {
	s := NewSurface()
	s.Report(New(KindValidation, "no active room"))

	ok, err := s.Retry(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotNil(t, s.Current())

	s.Clear()
	assert.Nil(t, s.Current())
}
