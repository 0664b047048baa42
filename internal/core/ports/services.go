package ports

import (
	"context"
	"encoding/json"

	"roomrelay/internal/core/domain"
)

// Sink is the outbound half of a live connection. Enqueue must not block;
// it returns false when the message was dropped.
type Sink interface {
	Enqueue(msg []byte) bool
}

// Directory resolves where a message for a connection is delivered and
// which room the connection is in.
type Directory interface {
	Register(id domain.ParticipantID, sink Sink)
	Unregister(id domain.ParticipantID) bool
	IsRegistered(id domain.ParticipantID) bool
	CurrentRoom(id domain.ParticipantID) (domain.RoomID, bool)
	Assign(id domain.ParticipantID, room domain.RoomID)
	Release(id domain.ParticipantID)
	Send(id domain.ParticipantID, msg []byte) bool
	Broadcast(room domain.RoomID, msg []byte, exclude ...domain.ParticipantID) int
	Count() int
}

type RoomService interface {
	CreateRoom(ctx context.Context, roomID domain.RoomID, participant domain.ParticipantID, displayName string) (*domain.JoinResult, error)
	Join(ctx context.Context, roomID domain.RoomID, participant domain.ParticipantID, displayName string) (*domain.JoinResult, error)
	Leave(ctx context.Context, participant domain.ParticipantID) error
	Disconnect(ctx context.Context, participant domain.ParticipantID)
	RequestPromotion(ctx context.Context, participant domain.ParticipantID) error
	ApprovePromotion(ctx context.Context, approver, target domain.ParticipantID) error
	SetStreaming(ctx context.Context, participant domain.ParticipantID, active bool) error
	PostMessage(ctx context.Context, participant domain.ParticipantID, text string) error
	ListRooms(ctx context.Context) []domain.RoomSummary
	GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.RoomSnapshot, error)
}

type SignalRelay interface {
	Relay(ctx context.Context, from, target domain.ParticipantID, kind string, payload json.RawMessage) error
}

// EventPublisher mirrors room lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(event domain.RoomEvent)
}

type RoomMetrics interface {
	IncJoins()
	IncRejections(code string)
	IncSignals(kind string)
	IncDroppedDeliveries()
	IncFailovers()
	IncMessages()
	SetActiveRooms(n int)
	SetParticipants(role domain.Role, n int)
	SetActiveConnections(n int)
}
