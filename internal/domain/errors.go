package domain

import "errors"

var (
	// Matching engine errors surfaced to the caller only; the queue's
	// global state is untouched when these are returned.
	ErrAlreadyQueued = errors.New("device is already queued or in an active match")
	ErrNotQueued     = errors.New("device has no queue entry")
	ErrBanned        = errors.New("device is banned")

	// Signaling session errors.
	ErrNoActiveSession = errors.New("device has no active session")
	ErrNotParticipant  = errors.New("device is not a participant of this session")
	ErrSessionEnded    = errors.New("session has already ended")

	ErrRateLimited = errors.New("rate limited")
)
