package ports

import (
	"context"

	"roomrelay/internal/core/domain"
)

// RoomRepository owns the set of live rooms. It is role-agnostic: who
// becomes host is decided by the room service.
type RoomRepository interface {
	// Create registers a new room. In static mode it returns the pre-seeded
	// room, or ErrInvalidRoom for an id outside the static set.
	Create(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, bool)
	// RemoveIfEmpty destroys an empty dynamic room and resets an empty
	// static one. It reports whether the room was destroyed.
	RemoveIfEmpty(ctx context.Context, id domain.RoomID) bool
	List(ctx context.Context) []*domain.Room
	Mode() string
	HealthCheck(ctx context.Context) error
}
