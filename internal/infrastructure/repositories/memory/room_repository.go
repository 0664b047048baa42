package memory

import (
	"context"
	"fmt"
	"sync"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/config"
)

type MemoryRoomRepository struct {
	rooms map[domain.RoomID]*domain.Room
	mu    sync.RWMutex

	mode        string
	capacity    int
	historySize int
}

// NewMemoryRoomRepository builds the room registry. In static mode every id
// in staticRooms is pre-seeded and no other room can ever exist.
func NewMemoryRoomRepository(mode string, staticRooms []string, capacity, historySize int) ports.RoomRepository {
	r := &MemoryRoomRepository{
		rooms:       make(map[domain.RoomID]*domain.Room),
		mode:        mode,
		capacity:    capacity,
		historySize: historySize,
	}
	if mode == config.RoomModeStatic {
		for _, id := range staticRooms {
			r.rooms[domain.RoomID(id)] = domain.NewRoom(domain.RoomID(id), capacity, historySize, true)
		}
	}
	return r
}

func (r *MemoryRoomRepository) Create(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if r.mode == config.RoomModeStatic {
		if !exists {
			return nil, fmt.Errorf("%w: %s is not a configured room", domain.ErrInvalidRoom, id)
		}
		return room, nil
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomExists, id)
	}

	room = domain.NewRoom(id, r.capacity, r.historySize, false)
	r.rooms[id] = room
	return room, nil
}

func (r *MemoryRoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	return room, exists
}

func (r *MemoryRoomRepository) RemoveIfEmpty(ctx context.Context, id domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists || !room.IsEmpty() {
		return false
	}
	if room.Static {
		room.Reset()
		return false
	}

	delete(r.rooms, id)
	return true
}

func (r *MemoryRoomRepository) List(ctx context.Context) []*domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (r *MemoryRoomRepository) Mode() string {
	return r.mode
}

// HealthCheck always succeeds; the registry lives in process memory.
func (r *MemoryRoomRepository) HealthCheck(ctx context.Context) error {
	return nil
}
