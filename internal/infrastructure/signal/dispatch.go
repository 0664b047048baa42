package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"roomrelay/internal/core/domain"
	"roomrelay/pkg/errors"
	"roomrelay/pkg/utils"
	"roomrelay/pkg/validation"
)

// inboundPayload is the union of every field a client may send. Each
// handler reads only the fields its event defines.
type inboundPayload struct {
	RoomID      string          `json:"roomId"`
	DisplayName string          `json:"displayName"`
	TargetID    string          `json:"targetId"`
	Target      string          `json:"target"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Text        string          `json:"text"`
	Active      *bool           `json:"active"`
}

func (p inboundPayload) target() domain.ParticipantID {
	if p.Target != "" {
		return domain.ParticipantID(p.Target)
	}
	return domain.ParticipantID(p.TargetID)
}

type handlerFunc func(ctx context.Context, id domain.ParticipantID, p inboundPayload) error

// handlers builds the dispatch table. Every event is resolved against the
// directory's current room on each call, so which events are valid never
// depends on earlier ones.
func (s *WebSocketServer) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		domain.EventJoinRoom:         s.handleJoinRoom,
		domain.EventCreateRoom:       s.handleCreateRoom,
		domain.EventLeaveRoom:        s.handleLeaveRoom,
		domain.EventListRooms:        s.handleListRooms,
		domain.EventRequestPromotion: s.handleRequestPromotion,
		domain.EventApprovePromotion: s.handleApprovePromotion,
		domain.EventSetStreaming:     s.handleSetStreaming,
		domain.EventSendMessage:      s.handleSendMessage,
		domain.EventSignal:           s.handleSignal,
	}
}

func decodePayload(raw json.RawMessage) (inboundPayload, error) {
	var p inboundPayload
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errors.NewInvalidInputError("payload must be a JSON object")
	}
	return p, nil
}

func displayName(raw string) (string, error) {
	if err := validation.ValidateDisplayName(raw); err != nil {
		return "", errors.NewInvalidInputError(err.Error())
	}
	return utils.SanitizeLabel(raw), nil
}

func (s *WebSocketServer) handleJoinRoom(ctx context.Context, id domain.ParticipantID, p inboundPayload) error {
	if err := validation.ValidateRoomID(p.RoomID); err != nil {
		return errors.NewAppError(errors.ErrCodeInvalidRoom, err.Error(), http.StatusBadRequest)
	}
	name, err := displayName(p.DisplayName)
	if err != nil {
		return err
	}
	_, err = s.rooms.Join(ctx, domain.RoomID(p.RoomID), id, name)
	return err
}

func (s *WebSocketServer) handleCreateRoom(ctx context.Context, id domain.ParticipantID, p inboundPayload) error {
	if p.RoomID != "" {
		if err := validation.ValidateRoomID(p.RoomID); err != nil {
			return errors.NewAppError(errors.ErrCodeInvalidRoom, err.Error(), http.StatusBadRequest)
		}
	}
	name, err := displayName(p.DisplayName)
	if err != nil {
		return err
	}
	_, err = s.rooms.CreateRoom(ctx, domain.RoomID(p.RoomID), id, name)
	return err
}

func (s *WebSocketServer) handleLeaveRoom(ctx context.Context, id domain.ParticipantID, _ inboundPayload) error {
	return s.rooms.Leave(ctx, id)
}

func (s *WebSocketServer) handleListRooms(ctx context.Context, id domain.ParticipantID, _ inboundPayload) error {
	msg, err := domain.Encode(domain.EventRoomsList, s.rooms.ListRooms(ctx))
	if err != nil {
		return fmt.Errorf("failed to encode rooms list: %w", err)
	}
	s.dir.Send(id, msg)
	return nil
}

func (s *WebSocketServer) handleRequestPromotion(ctx context.Context, id domain.ParticipantID, _ inboundPayload) error {
	return s.rooms.RequestPromotion(ctx, id)
}

func (s *WebSocketServer) handleApprovePromotion(ctx context.Context, id domain.ParticipantID, p inboundPayload) error {
	target := p.target()
	if err := validation.ValidateParticipantID(string(target)); err != nil {
		return errors.NewInvalidInputError(err.Error())
	}
	return s.rooms.ApprovePromotion(ctx, id, target)
}

func (s *WebSocketServer) handleSetStreaming(ctx context.Context, id domain.ParticipantID, p inboundPayload) error {
	if p.Active == nil {
		return errors.NewInvalidInputError("active is required")
	}
	return s.rooms.SetStreaming(ctx, id, *p.Active)
}

func (s *WebSocketServer) handleSendMessage(ctx context.Context, id domain.ParticipantID, p inboundPayload) error {
	return s.rooms.PostMessage(ctx, id, p.Text)
}

func (s *WebSocketServer) handleSignal(ctx context.Context, id domain.ParticipantID, p inboundPayload) error {
	// an empty target is the relay's to reject as an invalid signal
	if target := p.target(); target != "" {
		if err := validation.ValidateParticipantID(string(target)); err != nil {
			return errors.NewInvalidInputError(err.Error())
		}
	}
	return s.relay.Relay(ctx, id, p.target(), p.Kind, p.Payload)
}
