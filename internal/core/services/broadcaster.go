package services

import (
	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"go.uber.org/zap"
)

// Broadcaster encodes room events and fans them out through the directory.
type Broadcaster struct {
	dir    ports.Directory
	logger *zap.SugaredLogger
}

func NewBroadcaster(dir ports.Directory, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{dir: dir, logger: logger}
}

func (b *Broadcaster) encode(event string, payload interface{}) ([]byte, bool) {
	msg, err := domain.Encode(event, payload)
	if err != nil {
		b.logger.Errorw("Failed to encode event", "event", event, "error", err)
		return nil, false
	}
	return msg, true
}

// To sends one event to a single connection.
func (b *Broadcaster) To(id domain.ParticipantID, event string, payload interface{}) {
	if msg, ok := b.encode(event, payload); ok {
		b.dir.Send(id, msg)
	}
}

// ToRoom sends one event to every member of room except the excluded ids.
func (b *Broadcaster) ToRoom(room domain.RoomID, event string, payload interface{}, exclude ...domain.ParticipantID) {
	if msg, ok := b.encode(event, payload); ok {
		b.dir.Broadcast(room, msg, exclude...)
	}
}

func (b *Broadcaster) RoomInfo(room *domain.Room) {
	b.ToRoom(room.ID, domain.EventRoomInfo, room.Info())
}

func (b *Broadcaster) ParticipantJoined(room *domain.Room, p *domain.Participant) {
	b.ToRoom(room.ID, domain.EventParticipantJoined, domain.ParticipantJoinedPayload{
		ID:          p.ID,
		Role:        p.Role,
		DisplayName: p.DisplayName,
	}, p.ID)
}

func (b *Broadcaster) ParticipantLeft(room *domain.Room, id domain.ParticipantID) {
	b.ToRoom(room.ID, domain.EventParticipantLeft, domain.ParticipantLeftPayload{ID: id})
}

func (b *Broadcaster) RoleChanged(room *domain.Room, p *domain.Participant) {
	b.ToRoom(room.ID, domain.EventRoleChanged, domain.RoleChangedPayload{ID: p.ID, Role: p.Role})
}

// Introduce tells x and y about each other unless the pair already met.
func (b *Broadcaster) Introduce(room *domain.Room, x, y *domain.Participant) bool {
	if !room.MarkIntroduced(x.ID, y.ID) {
		return false
	}
	b.To(y.ID, domain.EventPeerAvailable, domain.PeerAvailablePayload{PeerID: x.ID, Role: x.Role})
	b.To(x.ID, domain.EventPeerAvailable, domain.PeerAvailablePayload{PeerID: y.ID, Role: y.Role})
	return true
}

// IntroduceToAll introduces p to every other member of room.
func (b *Broadcaster) IntroduceToAll(room *domain.Room, p *domain.Participant) int {
	n := 0
	for _, m := range room.Members() {
		if m.ID == p.ID {
			continue
		}
		other, ok := room.Member(m.ID)
		if !ok {
			continue
		}
		if b.Introduce(room, p, other) {
			n++
		}
	}
	return n
}
