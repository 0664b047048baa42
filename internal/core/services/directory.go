package services

import (
	"sync"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"go.uber.org/zap"
)

// Directory maps connection ids to their sink and current room. Delivery
// never blocks: a missing or saturated sink drops the message.
type Directory struct {
	mu      sync.RWMutex
	sinks   map[domain.ParticipantID]ports.Sink
	rooms   map[domain.ParticipantID]domain.RoomID
	members map[domain.RoomID]map[domain.ParticipantID]struct{}

	metrics ports.RoomMetrics
	logger  *zap.SugaredLogger
}

func NewDirectory(metrics ports.RoomMetrics, logger *zap.SugaredLogger) *Directory {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Directory{
		sinks:   make(map[domain.ParticipantID]ports.Sink),
		rooms:   make(map[domain.ParticipantID]domain.RoomID),
		members: make(map[domain.RoomID]map[domain.ParticipantID]struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

func (d *Directory) Register(id domain.ParticipantID, sink ports.Sink) {
	d.mu.Lock()
	d.sinks[id] = sink
	n := len(d.sinks)
	d.mu.Unlock()

	d.metrics.SetActiveConnections(n)
}

// Unregister removes every trace of id. It reports whether id was known.
func (d *Directory) Unregister(id domain.ParticipantID) bool {
	d.mu.Lock()
	_, ok := d.sinks[id]
	delete(d.sinks, id)
	d.releaseLocked(id)
	n := len(d.sinks)
	d.mu.Unlock()

	if ok {
		d.metrics.SetActiveConnections(n)
	}
	return ok
}

func (d *Directory) IsRegistered(id domain.ParticipantID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.sinks[id]
	return ok
}

func (d *Directory) CurrentRoom(id domain.ParticipantID) (domain.RoomID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[id]
	return room, ok
}

func (d *Directory) Assign(id domain.ParticipantID, room domain.RoomID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.releaseLocked(id)
	d.rooms[id] = room
	set, ok := d.members[room]
	if !ok {
		set = make(map[domain.ParticipantID]struct{})
		d.members[room] = set
	}
	set[id] = struct{}{}
}

func (d *Directory) Release(id domain.ParticipantID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked(id)
}

func (d *Directory) releaseLocked(id domain.ParticipantID) {
	room, ok := d.rooms[id]
	if !ok {
		return
	}
	delete(d.rooms, id)
	if set, ok := d.members[room]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(d.members, room)
		}
	}
}

// Send delivers msg to id. Unknown ids are a no-op.
func (d *Directory) Send(id domain.ParticipantID, msg []byte) bool {
	d.mu.RLock()
	sink, ok := d.sinks[id]
	d.mu.RUnlock()

	if !ok {
		d.logger.Debugw("Dropping message for unknown connection", "connection_id", id)
		return false
	}
	if !sink.Enqueue(msg) {
		d.metrics.IncDroppedDeliveries()
		d.logger.Warnw("Send buffer full, message dropped", "connection_id", id)
		return false
	}
	return true
}

// Broadcast sends msg to every connection in room except the excluded ones
// and returns the number of successful deliveries.
func (d *Directory) Broadcast(room domain.RoomID, msg []byte, exclude ...domain.ParticipantID) int {
	d.mu.RLock()
	targets := make([]domain.ParticipantID, 0, len(d.members[room]))
	for id := range d.members[room] {
		if !contains(exclude, id) {
			targets = append(targets, id)
		}
	}
	d.mu.RUnlock()

	delivered := 0
	for _, id := range targets {
		if d.Send(id, msg) {
			delivered++
		}
	}
	return delivered
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sinks)
}

func contains(ids []domain.ParticipantID, id domain.ParticipantID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
