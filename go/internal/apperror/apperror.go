// Package apperror defines the failures the room engine reports to the UI and
// the store that holds the one currently shown.
package apperror

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is a closed taxonomy of reportable failures.
type Kind string

const (
	KindRoomNotFound       Kind = "ROOM_NOT_FOUND"
	KindRoomCreationFailed Kind = "ROOM_CREATION_FAILED"
	KindJoinRoomFailed     Kind = "JOIN_ROOM_FAILED"
	KindVoteFailed         Kind = "VOTE_FAILED"
	KindValidation         Kind = "VALIDATION_ERROR"
	KindInvalidData        Kind = "INVALID_DATA"
	KindUnknown            Kind = "UNKNOWN_ERROR"
)

// RetryFunc reproduces the call that failed.
type RetryFunc func(ctx context.Context) error

// AppError is a failure shaped for display: a kind, a human message, optional
// structured details and an optional retry closure.
type AppError struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Retry   RetryFunc      `json:"-"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error carries a recovery closure.
func (e *AppError) Retryable() bool {
	return e.Retry != nil
}

// New creates an AppError without a cause.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap creates an AppError around a cause.
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// WithRetry attaches a recovery closure.
func (e *AppError) WithRetry(fn RetryFunc) *AppError {
	e.Retry = fn
	return e
}

// WithDetail attaches a structured detail entry.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of err, or KindUnknown when err is not an AppError.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is reports whether err is an AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// interferencePatterns are fragments seen when a request is dropped by an ad
// blocker, a privacy extension, a proxy or a flaky connection.
var interferencePatterns = []string{
	"err_blocked_by_client",
	"blocked",
	"network",
	"connection refused",
	"connection reset",
	"no responders",
	"no servers available",
	"timeout",
	"deadline exceeded",
	"disconnected",
	"eof",
}

// IsNetworkInterference reports whether err looks like the request never
// reached the remote store.
func IsNetworkInterference(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range interferencePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
