package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/config"
	"roomrelay/pkg/utils"

	"go.uber.org/zap"
)

type RoomServiceConfig struct {
	MaxMessageLength int
	AutoCreate       bool
	StrictInvariants bool
	InstanceID       string
}

// roomService owns every membership mutation. A single mutex serializes
// them; deliveries made while holding it never block.
type roomService struct {
	mu sync.Mutex

	rooms   ports.RoomRepository
	dir     ports.Directory
	bc      *Broadcaster
	events  ports.EventPublisher
	metrics ports.RoomMetrics
	cfg     RoomServiceConfig
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewRoomService(
	rooms ports.RoomRepository,
	dir ports.Directory,
	events ports.EventPublisher,
	metrics ports.RoomMetrics,
	cfg RoomServiceConfig,
	logger *zap.SugaredLogger,
) ports.RoomService {
	if events == nil {
		events = NoopPublisher{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &roomService{
		rooms:   rooms,
		dir:     dir,
		bc:      NewBroadcaster(dir, logger),
		events:  events,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID, displayName string) (*domain.JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	static := s.rooms.Mode() == config.RoomModeStatic
	if roomID == "" {
		if static {
			return nil, domain.ErrInvalidRoom
		}
		roomID = domain.RoomID(utils.GenerateRoomID())
	}

	room, err := s.rooms.Create(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !static {
		s.roomCreatedLocked(room)
		s.bc.To(id, domain.EventRoomCreated, domain.RoomRefPayload{RoomID: room.ID})
	}

	res, err := s.joinLocked(ctx, room, id, displayName)
	if err != nil && !static {
		s.removeIfEmptyLocked(ctx, room)
	}
	return res, err
}

func (s *roomService) Join(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID, displayName string) (*domain.JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms.Get(ctx, roomID)
	created := false
	if !ok {
		switch {
		case s.rooms.Mode() == config.RoomModeStatic:
			return nil, domain.ErrInvalidRoom
		case !s.cfg.AutoCreate:
			return nil, domain.ErrRoomNotFound
		}
		var err error
		if room, err = s.rooms.Create(ctx, roomID); err != nil {
			return nil, err
		}
		created = true
		s.roomCreatedLocked(room)
	}

	res, err := s.joinLocked(ctx, room, id, displayName)
	if err != nil && created {
		s.removeIfEmptyLocked(ctx, room)
	}
	return res, err
}

func (s *roomService) joinLocked(ctx context.Context, room *domain.Room, id domain.ParticipantID, displayName string) (*domain.JoinResult, error) {
	current, inRoom := s.dir.CurrentRoom(id)
	if inRoom && current == room.ID {
		if self, ok := room.Member(id); ok {
			res := &domain.JoinResult{Self: *self, Snapshot: room.Snapshot(), Rejoined: true}
			s.sendJoined(res)
			return res, nil
		}
	}

	// admission is decided before the old room is touched
	if room.IsFull() {
		s.logger.Infow("Join rejected, room full",
			"room_id", room.ID,
			"participant_id", id,
			"capacity", room.Capacity,
		)
		return nil, domain.ErrRoomFull
	}

	if inRoom {
		s.leaveLocked(ctx, id, current, true)
	}

	self, err := room.Admit(id, displayName, s.now())
	if err != nil {
		return nil, err
	}
	s.dir.Assign(id, room.ID)
	s.metrics.IncJoins()

	res := &domain.JoinResult{Self: *self, Snapshot: room.Snapshot(), Switched: inRoom}
	s.sendJoined(res)
	s.bc.ParticipantJoined(room, self)
	for _, pub := range room.Publishers() {
		if pub.ID != self.ID {
			s.bc.Introduce(room, pub, self)
		}
	}
	s.bc.RoomInfo(room)

	s.logger.Infow("Participant joined room",
		"room_id", room.ID,
		"participant_id", id,
		"role", self.Role,
		"members", room.Len(),
	)
	s.publishLocked(domain.RoomEventParticipantJoined, room, id, self.Role)
	s.verifyLocked(room)
	s.refreshGaugesLocked(ctx)
	return res, nil
}

func (s *roomService) sendJoined(res *domain.JoinResult) {
	s.bc.To(res.Self.ID, domain.EventRoomJoined, domain.RoomJoinedPayload{
		RoomID:      res.Snapshot.RoomID,
		SelfID:      res.Self.ID,
		Role:        res.Self.Role,
		HostID:      res.Snapshot.HostID,
		Members:     res.Snapshot.Members,
		IsStreaming: res.Snapshot.IsStreaming,
		Capacity:    res.Snapshot.Capacity,
		History:     res.Snapshot.History,
	})
}

func (s *roomService) Leave(ctx context.Context, id domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, ok := s.dir.CurrentRoom(id)
	if !ok {
		return domain.ErrNotInRoom
	}
	s.leaveLocked(ctx, id, roomID, true)
	return nil
}

// Disconnect removes every trace of id. Calling it again for the same id is
// a no-op.
func (s *roomService) Disconnect(ctx context.Context, id domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if roomID, ok := s.dir.CurrentRoom(id); ok {
		s.leaveLocked(ctx, id, roomID, false)
	}
	s.dir.Unregister(id)
}

func (s *roomService) leaveLocked(ctx context.Context, id domain.ParticipantID, roomID domain.RoomID, ack bool) {
	s.dir.Release(id)

	room, ok := s.rooms.Get(ctx, roomID)
	if !ok {
		return
	}
	removed, wasHost, ok := room.Remove(id)
	if !ok {
		return
	}

	var newHost *domain.Participant
	if wasHost {
		if next, ok := room.Failover(); ok {
			newHost = next
			s.metrics.IncFailovers()
			s.bc.RoleChanged(room, next)
			s.logger.Infow("Host failed over",
				"room_id", room.ID,
				"previous_host", id,
				"new_host", next.ID,
			)
		}
	}

	s.bc.ParticipantLeft(room, id)
	if newHost != nil {
		s.bc.IntroduceToAll(room, newHost)
	}
	if ack {
		s.bc.To(id, domain.EventRoomLeft, domain.RoomRefPayload{RoomID: room.ID})
	}

	s.logger.Infow("Participant left room",
		"room_id", room.ID,
		"participant_id", id,
		"role", removed.Role,
		"members", room.Len(),
	)
	s.publishLocked(domain.RoomEventParticipantLeft, room, id, removed.Role)
	if newHost != nil {
		s.publishLocked(domain.RoomEventHostChanged, room, newHost.ID, newHost.Role)
	}

	if room.IsEmpty() {
		s.removeIfEmptyLocked(ctx, room)
	} else {
		s.bc.RoomInfo(room)
		s.verifyLocked(room)
	}
	s.refreshGaugesLocked(ctx)
}

func (s *roomService) RequestPromotion(ctx context.Context, id domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, self, err := s.memberLocked(ctx, id)
	if err != nil {
		return err
	}
	if self.Role != domain.RoleViewer {
		s.logger.Debugw("Ignoring promotion request", "room_id", room.ID, "participant_id", id, "role", self.Role)
		return nil
	}
	if room.HostID == "" {
		return domain.ErrTargetUnavailable
	}

	s.bc.To(room.HostID, domain.EventStreamRequest, domain.StreamRequestPayload{
		ParticipantID: id,
		DisplayName:   self.DisplayName,
	})
	return nil
}

func (s *roomService) ApprovePromotion(ctx context.Context, approver, target domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, _, err := s.memberLocked(ctx, approver)
	if err != nil {
		return err
	}
	if room.HostID != approver {
		s.logger.Warnw("Promotion approval from non-host",
			"room_id", room.ID,
			"approver", approver,
			"target", target,
		)
		return domain.ErrNotAuthorized
	}

	promoted, err := room.Promote(target)
	if err != nil {
		s.logger.Infow("Promotion approval dropped",
			"room_id", room.ID,
			"target", target,
			"reason", err,
		)
		return nil
	}

	s.bc.To(promoted.ID, domain.EventStartStream, struct{}{})
	s.bc.RoleChanged(room, promoted)
	introduced := s.bc.IntroduceToAll(room, promoted)

	s.logger.Infow("Participant promoted to streamer",
		"room_id", room.ID,
		"participant_id", promoted.ID,
		"introductions", introduced,
	)
	s.verifyLocked(room)
	s.refreshGaugesLocked(ctx)
	return nil
}

func (s *roomService) SetStreaming(ctx context.Context, id domain.ParticipantID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, _, err := s.memberLocked(ctx, id)
	if err != nil {
		return err
	}
	if room.HostID != id {
		return domain.ErrNotAuthorized
	}
	room.IsStreaming = active
	s.bc.RoomInfo(room)
	return nil
}

func (s *roomService) PostMessage(ctx context.Context, id domain.ParticipantID, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyMessage
	}
	if s.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(text) > s.cfg.MaxMessageLength {
		return fmt.Errorf("%w: max %d characters", domain.ErrMessageTooLong, s.cfg.MaxMessageLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, self, err := s.memberLocked(ctx, id)
	if err != nil {
		return err
	}

	msg := domain.ChatMessage{
		SenderID:    id,
		DisplayName: self.DisplayName,
		Text:        text,
		SentAt:      s.now().UTC(),
	}
	room.AppendMessage(msg)
	s.metrics.IncMessages()
	s.bc.ToRoom(room.ID, domain.EventNewMessage, msg)
	return nil
}

func (s *roomService) ListRooms(ctx context.Context) []domain.RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := s.rooms.List(ctx)
	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (s *roomService) GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms.Get(ctx, roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	snap := room.Snapshot()
	return &snap, nil
}

func (s *roomService) memberLocked(ctx context.Context, id domain.ParticipantID) (*domain.Room, *domain.Participant, error) {
	roomID, ok := s.dir.CurrentRoom(id)
	if !ok {
		return nil, nil, domain.ErrNotInRoom
	}
	room, ok := s.rooms.Get(ctx, roomID)
	if !ok {
		return nil, nil, domain.ErrNotInRoom
	}
	self, ok := room.Member(id)
	if !ok {
		return nil, nil, domain.ErrNotInRoom
	}
	return room, self, nil
}

func (s *roomService) roomCreatedLocked(room *domain.Room) {
	s.logger.Infow("Room created", "room_id", room.ID, "capacity", room.Capacity)
	s.publishLocked(domain.RoomEventCreated, room, "", "")
}

func (s *roomService) removeIfEmptyLocked(ctx context.Context, room *domain.Room) {
	if s.rooms.RemoveIfEmpty(ctx, room.ID) {
		s.logger.Infow("Room closed", "room_id", room.ID)
		s.publishLocked(domain.RoomEventClosed, room, "", "")
	}
}

// verifyLocked checks the membership invariants of room. A violation is a
// programming error: strict mode panics, otherwise the room is healed and
// clients resynchronize from a fresh room-info.
func (s *roomService) verifyLocked(room *domain.Room) {
	err := room.CheckInvariants()
	if err == nil {
		return
	}
	if s.cfg.StrictInvariants {
		panic(err)
	}

	s.logger.Errorw("Room invariant violated, healing", "room_id", room.ID, "error", err)
	if host, ok := room.Heal(); ok {
		s.bc.RoleChanged(room, host)
		s.bc.IntroduceToAll(room, host)
	}
	s.bc.RoomInfo(room)
}

func (s *roomService) publishLocked(eventType string, room *domain.Room, id domain.ParticipantID, role domain.Role) {
	s.events.Publish(domain.RoomEvent{
		Type:          eventType,
		RoomID:        room.ID,
		ParticipantID: id,
		Role:          role,
		MemberCount:   room.Len(),
		Instance:      s.cfg.InstanceID,
		At:            s.now().UTC(),
	})
}

func (s *roomService) refreshGaugesLocked(ctx context.Context) {
	active := 0
	byRole := map[domain.Role]int{
		domain.RoleHost:     0,
		domain.RoleViewer:   0,
		domain.RoleStreamer: 0,
	}
	for _, r := range s.rooms.List(ctx) {
		if r.IsEmpty() {
			continue
		}
		active++
		for _, m := range r.Members() {
			byRole[m.Role]++
		}
	}
	s.metrics.SetActiveRooms(active)
	for role, n := range byRole {
		s.metrics.SetParticipants(role, n)
	}
}
