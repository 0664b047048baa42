package domain

import (
	"fmt"
	"time"
)

type RoomID string
type ParticipantID string

type Role string

const (
	RoleHost     Role = "host"
	RoleViewer   Role = "viewer"
	RoleStreamer Role = "streamer"
)

// IsPublisher reports whether the role may send media to the rest of the room.
func (r Role) IsPublisher() bool {
	return r == RoleHost || r == RoleStreamer
}

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName,omitempty"`
	Role        Role          `json:"role"`
	JoinedAt    time.Time     `json:"-"`
}

// Room is the state of one signaling session. It is not safe for concurrent
// use; callers serialize access.
type Room struct {
	ID          RoomID
	HostID      ParticipantID
	Capacity    int
	IsStreaming bool
	Static      bool
	CreatedAt   time.Time

	members    []*Participant // join order
	streamers  map[ParticipantID]struct{}
	history    *History
	introduced map[peerPair]struct{}
}

type peerPair struct {
	a, b ParticipantID
}

func newPeerPair(x, y ParticipantID) peerPair {
	if x > y {
		x, y = y, x
	}
	return peerPair{a: x, b: y}
}

func NewRoom(id RoomID, capacity, historySize int, static bool) *Room {
	return &Room{
		ID:         id,
		Capacity:   capacity,
		Static:     static,
		CreatedAt:  time.Now(),
		streamers:  make(map[ParticipantID]struct{}),
		history:    NewHistory(historySize),
		introduced: make(map[peerPair]struct{}),
	}
}

func (r *Room) Len() int {
	return len(r.members)
}

func (r *Room) IsEmpty() bool {
	return len(r.members) == 0
}

func (r *Room) IsFull() bool {
	return len(r.members) >= r.Capacity
}

func (r *Room) Member(id ParticipantID) (*Participant, bool) {
	for _, p := range r.members {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (r *Room) HasMember(id ParticipantID) bool {
	_, ok := r.Member(id)
	return ok
}

// Members returns copies of the participants in join order.
func (r *Room) Members() []Participant {
	out := make([]Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, *p)
	}
	return out
}

// Admit inserts a participant. The first member of a hostless room becomes
// host, everybody else a viewer.
func (r *Room) Admit(id ParticipantID, displayName string, at time.Time) (*Participant, error) {
	if r.HasMember(id) {
		return nil, fmt.Errorf("participant %s already in room %s", id, r.ID)
	}
	if r.IsFull() {
		return nil, ErrRoomFull
	}

	p := &Participant{
		ID:          id,
		DisplayName: displayName,
		Role:        RoleViewer,
		JoinedAt:    at,
	}
	if r.HostID == "" {
		p.Role = RoleHost
		r.HostID = id
	}
	r.members = append(r.members, p)
	return p, nil
}

// Remove drops a participant together with its streamer grant and peer
// pairs. wasHost reports whether the host slot was vacated.
func (r *Room) Remove(id ParticipantID) (removed Participant, wasHost bool, ok bool) {
	idx := -1
	for i, p := range r.members {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Participant{}, false, false
	}

	removed = *r.members[idx]
	r.members = append(r.members[:idx], r.members[idx+1:]...)
	delete(r.streamers, id)
	for pair := range r.introduced {
		if pair.a == id || pair.b == id {
			delete(r.introduced, pair)
		}
	}

	if r.HostID == id {
		r.HostID = ""
		r.IsStreaming = false
		wasHost = true
	}
	return removed, wasHost, true
}

// Failover hands the vacant host slot to the earliest-joined member.
func (r *Room) Failover() (*Participant, bool) {
	if r.HostID != "" || len(r.members) == 0 {
		return nil, false
	}
	next := r.members[0]
	next.Role = RoleHost
	delete(r.streamers, next.ID)
	r.HostID = next.ID
	return next, true
}

// Promote grants streaming rights to a viewer.
func (r *Room) Promote(id ParticipantID) (*Participant, error) {
	p, ok := r.Member(id)
	if !ok {
		return nil, ErrTargetUnavailable
	}
	if p.Role != RoleViewer {
		return nil, fmt.Errorf("participant %s is already %s", id, p.Role)
	}
	p.Role = RoleStreamer
	r.streamers[id] = struct{}{}
	return p, nil
}

func (r *Room) IsStreamer(id ParticipantID) bool {
	_, ok := r.streamers[id]
	return ok
}

// Streamers returns the approved streamers in join order.
func (r *Room) Streamers() []ParticipantID {
	out := make([]ParticipantID, 0, len(r.streamers))
	for _, p := range r.members {
		if _, ok := r.streamers[p.ID]; ok {
			out = append(out, p.ID)
		}
	}
	return out
}

// Publishers returns the host and streamers in join order.
func (r *Room) Publishers() []*Participant {
	var out []*Participant
	for _, p := range r.members {
		if p.Role.IsPublisher() {
			out = append(out, p)
		}
	}
	return out
}

// MarkIntroduced records that x and y were told about each other. It returns
// false when the pair was already introduced.
func (r *Room) MarkIntroduced(x, y ParticipantID) bool {
	if x == y {
		return false
	}
	pair := newPeerPair(x, y)
	if _, ok := r.introduced[pair]; ok {
		return false
	}
	r.introduced[pair] = struct{}{}
	return true
}

func (r *Room) Introduced(x, y ParticipantID) bool {
	_, ok := r.introduced[newPeerPair(x, y)]
	return ok
}

func (r *Room) AppendMessage(msg ChatMessage) {
	r.history.Append(msg)
}

func (r *Room) History() []ChatMessage {
	return r.history.Messages()
}

// Reset clears session state of an empty room so it can be reused.
func (r *Room) Reset() {
	r.HostID = ""
	r.IsStreaming = false
	r.members = nil
	r.streamers = make(map[ParticipantID]struct{})
	r.introduced = make(map[peerPair]struct{})
	r.history.Clear()
}

// CheckInvariants returns the first broken membership invariant.
func (r *Room) CheckInvariants() error {
	if len(r.members) > r.Capacity {
		return fmt.Errorf("room %s has %d members over capacity %d", r.ID, len(r.members), r.Capacity)
	}
	hosts := 0
	for _, p := range r.members {
		if p.Role == RoleHost {
			hosts++
			if p.ID != r.HostID {
				return fmt.Errorf("room %s: member %s has host role but host is %q", r.ID, p.ID, r.HostID)
			}
		}
	}
	if len(r.members) > 0 && hosts != 1 {
		return fmt.Errorf("room %s has %d hosts", r.ID, hosts)
	}
	if r.HostID != "" && !r.HasMember(r.HostID) {
		return fmt.Errorf("room %s: host %s is not a member", r.ID, r.HostID)
	}
	for id := range r.streamers {
		p, ok := r.Member(id)
		if !ok {
			return fmt.Errorf("room %s: streamer %s is not a member", r.ID, id)
		}
		if p.Role != RoleStreamer {
			return fmt.Errorf("room %s: streamer %s has role %s", r.ID, id, p.Role)
		}
	}
	return nil
}

// Heal recomputes derived state after an invariant violation: streamers are
// intersected with members, stray host roles demoted and failover applied.
// It returns the new host when one had to be assigned.
func (r *Room) Heal() (*Participant, bool) {
	for id := range r.streamers {
		if p, ok := r.Member(id); !ok || p.Role != RoleStreamer {
			delete(r.streamers, id)
		}
	}
	if r.HostID != "" && !r.HasMember(r.HostID) {
		r.HostID = ""
		r.IsStreaming = false
	}
	for _, p := range r.members {
		if p.Role == RoleHost && p.ID != r.HostID {
			p.Role = RoleViewer
		}
	}
	if r.HostID != "" {
		if host, ok := r.Member(r.HostID); ok {
			host.Role = RoleHost
			delete(r.streamers, host.ID)
		}
		return nil, false
	}
	return r.Failover()
}

func (r *Room) Info() RoomInfo {
	return RoomInfo{
		RoomID:      r.ID,
		HostID:      r.HostID,
		MemberCount: len(r.members),
		IsStreaming: r.IsStreaming,
	}
}

func (r *Room) Summary() RoomSummary {
	return RoomSummary{
		RoomID:      r.ID,
		MemberCount: len(r.members),
		Capacity:    r.Capacity,
		Full:        r.IsFull(),
		IsStreaming: r.IsStreaming,
	}
}

func (r *Room) Snapshot() RoomSnapshot {
	return RoomSnapshot{
		RoomID:      r.ID,
		HostID:      r.HostID,
		Members:     r.Members(),
		IsStreaming: r.IsStreaming,
		Capacity:    r.Capacity,
		History:     r.History(),
	}
}

// RoomInfo is the resynchronization snapshot broadcast after every change.
type RoomInfo struct {
	RoomID      RoomID        `json:"roomId"`
	HostID      ParticipantID `json:"hostId"`
	MemberCount int           `json:"memberCount"`
	IsStreaming bool          `json:"isStreaming"`
}

type RoomSummary struct {
	RoomID      RoomID `json:"roomId"`
	MemberCount int    `json:"memberCount"`
	Capacity    int    `json:"capacity"`
	Full        bool   `json:"full"`
	IsStreaming bool   `json:"isStreaming"`
}

type RoomSnapshot struct {
	RoomID      RoomID        `json:"roomId"`
	HostID      ParticipantID `json:"hostId"`
	Members     []Participant `json:"members"`
	IsStreaming bool          `json:"isStreaming"`
	Capacity    int           `json:"capacity"`
	History     []ChatMessage `json:"history"`
}

// Summary drops members and history, leaving what may be shown to anyone.
func (s RoomSnapshot) Summary() RoomSummary {
	return RoomSummary{
		RoomID:      s.RoomID,
		MemberCount: len(s.Members),
		Capacity:    s.Capacity,
		Full:        len(s.Members) >= s.Capacity,
		IsStreaming: s.IsStreaming,
	}
}

// JoinResult is what a fresh joiner needs to initialize without further
// round trips.
type JoinResult struct {
	Self     Participant
	Snapshot RoomSnapshot
	// Switched is set when the participant left another room to join this one.
	Switched bool
	// Rejoined is set when the participant was already a member.
	Rejoined bool
}
