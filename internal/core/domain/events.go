package domain

import (
	"encoding/json"
	"time"
)

// Client to server events.
const (
	EventJoinRoom         = "join-room"
	EventCreateRoom       = "create-room"
	EventLeaveRoom        = "leave-room"
	EventListRooms        = "list-rooms"
	EventRequestPromotion = "request-promotion"
	EventApprovePromotion = "approve-promotion"
	EventSetStreaming     = "set-streaming"
	EventSendMessage      = "send-message"
	EventSignal           = "signal"
)

// Server to client events.
const (
	EventConnected         = "connected"
	EventRoomCreated       = "room-created"
	EventRoomJoined        = "room-joined"
	EventRoomLeft          = "room-left"
	EventRoomsList         = "rooms-list"
	EventRoomInfo          = "room-info"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventRoleChanged       = "role-changed"
	EventStreamRequest     = "stream-request"
	EventStartStream       = "start-stream"
	EventPeerAvailable     = "peer-available"
	EventNewMessage        = "new-message"
	EventError             = "error"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps payload in an envelope and marshals it.
func Encode(eventType string, payload interface{}) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

type RoomJoinedPayload struct {
	RoomID      RoomID        `json:"roomId"`
	SelfID      ParticipantID `json:"selfId"`
	Role        Role          `json:"role"`
	HostID      ParticipantID `json:"hostId"`
	Members     []Participant `json:"members"`
	IsStreaming bool          `json:"isStreaming"`
	Capacity    int           `json:"capacity"`
	History     []ChatMessage `json:"history"`
}

type RoomRefPayload struct {
	RoomID RoomID `json:"roomId"`
}

type ParticipantJoinedPayload struct {
	ID          ParticipantID `json:"id"`
	Role        Role          `json:"role"`
	DisplayName string        `json:"displayName,omitempty"`
}

type ParticipantLeftPayload struct {
	ID ParticipantID `json:"id"`
}

type RoleChangedPayload struct {
	ID   ParticipantID `json:"id"`
	Role Role          `json:"role"`
}

type StreamRequestPayload struct {
	ParticipantID ParticipantID `json:"participantId"`
	DisplayName   string        `json:"displayName,omitempty"`
}

type PeerAvailablePayload struct {
	PeerID ParticipantID `json:"peerId"`
	Role   Role          `json:"role"`
}

type SignalPayload struct {
	From    ParticipantID   `json:"from"`
	Kind    SignalKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Room lifecycle events mirrored to other processes.
const (
	RoomEventCreated           = "room.created"
	RoomEventClosed            = "room.closed"
	RoomEventParticipantJoined = "participant.joined"
	RoomEventParticipantLeft   = "participant.left"
	RoomEventHostChanged       = "host.changed"
)

type RoomEvent struct {
	Type          string        `json:"type"`
	RoomID        RoomID        `json:"roomId"`
	ParticipantID ParticipantID `json:"participantId,omitempty"`
	Role          Role          `json:"role,omitempty"`
	MemberCount   int           `json:"memberCount"`
	Instance      string        `json:"instance,omitempty"`
	At            time.Time     `json:"at"`
}
