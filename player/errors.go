package player

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the playback engine. Callers match with errors.Is.
var (
	// ErrNoResult means extraction exhausted every extractor and fallback.
	ErrNoResult = errors.New("player: no results found")

	// ErrNoVoiceConnection means Play was called with no active output sink.
	ErrNoVoiceConnection = errors.New("player: no voice connection available")

	// ErrOutOfRange means a seek or position argument fell outside valid bounds.
	ErrOutOfRange = errors.New("player: value out of range")

	// ErrInvalidArg means a malformed call-site argument.
	ErrInvalidArg = errors.New("player: invalid argument")

	// ErrOutOfSpace means the queue or history hit its capacity limit.
	ErrOutOfSpace = errors.New("player: capacity exceeded")

	// ErrBridgeFailed means no extractor could bridge a track to a streamable source.
	ErrBridgeFailed = errors.New("player: bridge failed")

	// ErrQueueDeleted means the queue was deleted while an operation was in flight.
	ErrQueueDeleted = errors.New("player: queue deleted")

	// ErrSerializerCancelled means an outstanding ticket was cancelled by CancelAll.
	ErrSerializerCancelled = errors.New("player: serializer cancelled")
)

// OutOfSpaceError reports which container overflowed and its limit.
type OutOfSpaceError struct {
	Target   string // "queue" or "history"
	Size     int
	Capacity int
}

func (e *OutOfSpaceError) Error() string {
	return fmt.Sprintf("player: %s capacity exceeded (size %d, max %d)", e.Target, e.Size, e.Capacity)
}

func (e *OutOfSpaceError) Unwrap() error { return ErrOutOfSpace }

// NoResultError carries the query that produced nothing.
type NoResultError struct {
	Query string
}

func (e *NoResultError) Error() string {
	return fmt.Sprintf("player: no results found for %q", e.Query)
}

func (e *NoResultError) Unwrap() error { return ErrNoResult }

// benignClosePatterns are transport-close messages expected at track
// boundaries. They reflect a normal race, not a failure.
var benignClosePatterns = []string{
	"premature close",
	"broken pipe",
	"use of closed network connection",
	"context canceled",
	"file already closed",
}

// IsBenignClose reports whether err matches a close pattern that is
// expected when a stream is torn down at a track boundary.
func IsBenignClose(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range benignClosePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
