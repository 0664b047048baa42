package domain

import "errors"

var (
	ErrInvalidRoom       = errors.New("invalid room")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrRoomExists        = errors.New("room already exists")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrTargetUnavailable = errors.New("target unavailable")
	ErrNotInRoom         = errors.New("not in a room")
	ErrInvalidSignal     = errors.New("invalid signal")
	ErrEmptyMessage      = errors.New("empty message")
	ErrMessageTooLong    = errors.New("message too long")
)
