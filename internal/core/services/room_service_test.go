package services

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"roomrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostCount(snap *domain.RoomSnapshot) int {
	n := 0
	for _, m := range snap.Members {
		if m.Role == domain.RoleHost {
			n++
		}
	}
	return n
}

func roles(snap *domain.RoomSnapshot) map[domain.ParticipantID]domain.Role {
	out := make(map[domain.ParticipantID]domain.Role, len(snap.Members))
	for _, m := range snap.Members {
		out[m.ID] = m.Role
	}
	return out
}

func TestRoomService_CapacityAndFailoverScenario(t *testing.T) {
	ctx := context.Background()
	metrics := newMockMetrics()
	metrics.On("IncFailovers").Once()
	f := newFixture(t, metrics, withCapacity(4))
	f.connect("A", "B", "C", "D", "E")

	res, err := f.svc.Join(ctx, "R", "A", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, res.Self.Role)

	for _, id := range []domain.ParticipantID{"B", "C", "D"} {
		res, err := f.svc.Join(ctx, "R", id, "")
		require.NoError(t, err)
		assert.Equal(t, domain.RoleViewer, res.Self.Role)
	}

	_, err = f.svc.Join(ctx, "R", "E", "")
	assert.ErrorIs(t, err, domain.ErrRoomFull)
	_, inRoom := f.dir.CurrentRoom("E")
	assert.False(t, inRoom)
	snap, err := f.svc.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Len(t, snap.Members, 4)

	f.resetAll()
	require.NoError(t, f.svc.Leave(ctx, "A"))

	snap, err = f.svc.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("B"), snap.HostID)
	assert.Equal(t, 1, hostCount(snap))

	var info domain.RoomInfo
	f.sinks["C"].last(t, domain.EventRoomInfo, &info)
	assert.Equal(t, domain.ParticipantID("B"), info.HostID)
	assert.Equal(t, 3, info.MemberCount)

	types := f.sinks["C"].types()
	roleChanged := indexOf(types, domain.EventRoleChanged)
	left := indexOf(types, domain.EventParticipantLeft)
	require.NotEqual(t, -1, roleChanged)
	require.NotEqual(t, -1, left)
	assert.Less(t, roleChanged, left, "role-changed must precede participant-left")
	assert.Equal(t, domain.EventRoomInfo, types[len(types)-1])

	var changed domain.RoleChangedPayload
	f.sinks["D"].last(t, domain.EventRoleChanged, &changed)
	assert.Equal(t, domain.RoleChangedPayload{ID: "B", Role: domain.RoleHost}, changed)

	// A got the explicit leave ack and nothing about the room afterwards
	assert.Equal(t, []string{domain.EventRoomLeft}, f.sinks["A"].types())

	// the new host meets the viewers it had not been introduced to
	assert.ElementsMatch(t, []domain.ParticipantID{"C", "D"}, peerIDs(t, f.sinks["B"]))

	metrics.AssertExpectations(t)
}

func TestRoomService_PromotionScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, withCapacity(4))
	f.connect("A", "B", "C", "D")
	for _, id := range []domain.ParticipantID{"A", "B", "C", "D"} {
		_, err := f.svc.Join(ctx, "R", id, strings.ToLower(string(id)))
		require.NoError(t, err)
	}
	// A was introduced to every viewer on join
	assert.ElementsMatch(t, []domain.ParticipantID{"B", "C", "D"}, peerIDs(t, f.sinks["A"]))
	f.resetAll()

	require.NoError(t, f.svc.RequestPromotion(ctx, "B"))
	var req domain.StreamRequestPayload
	f.sinks["A"].last(t, domain.EventStreamRequest, &req)
	assert.Equal(t, domain.ParticipantID("B"), req.ParticipantID)
	assert.Equal(t, "b", req.DisplayName)
	assert.Empty(t, f.sinks["C"].all(domain.EventStreamRequest))

	require.NoError(t, f.svc.ApprovePromotion(ctx, "A", "B"))

	assert.Len(t, f.sinks["B"].all(domain.EventStartStream), 1)
	assert.Equal(t, []domain.ParticipantID{"B"}, peerIDs(t, f.sinks["C"]))
	assert.Equal(t, []domain.ParticipantID{"B"}, peerIDs(t, f.sinks["D"]))
	assert.ElementsMatch(t, []domain.ParticipantID{"C", "D"}, peerIDs(t, f.sinks["B"]))
	assert.Empty(t, peerIDs(t, f.sinks["A"]), "A and B were already paired")

	snap, err := f.svc.GetRoom(ctx, "R")
	require.NoError(t, err)
	for _, m := range snap.Members {
		if m.ID == "B" {
			assert.Equal(t, domain.RoleStreamer, m.Role)
		}
	}
}

func TestRoomService_ApprovePromotionRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.connect("A", "B", "C", "X")
	for _, id := range []domain.ParticipantID{"A", "B", "C"} {
		_, err := f.svc.Join(ctx, "R", id, "")
		require.NoError(t, err)
	}
	_, err := f.svc.Join(ctx, "other", "X", "")
	require.NoError(t, err)
	f.resetAll()

	err = f.svc.ApprovePromotion(ctx, "B", "C")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	// targets outside the room, the host itself and repeated approvals are dropped silently
	assert.NoError(t, f.svc.ApprovePromotion(ctx, "A", "X"))
	assert.NoError(t, f.svc.ApprovePromotion(ctx, "A", "A"))
	assert.NoError(t, f.svc.ApprovePromotion(ctx, "A", "C"))
	assert.NoError(t, f.svc.ApprovePromotion(ctx, "A", "C"))

	assert.Empty(t, f.sinks["X"].types())
	assert.Len(t, f.sinks["C"].all(domain.EventStartStream), 1)

	err = f.svc.ApprovePromotion(ctx, "nobody", "C")
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
}

func TestRoomService_RequestPromotionFromHostIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.connect("A")
	_, err := f.svc.Join(ctx, "R", "A", "")
	require.NoError(t, err)
	f.resetAll()

	assert.NoError(t, f.svc.RequestPromotion(ctx, "A"))
	assert.Empty(t, f.sinks["A"].types())
	assert.ErrorIs(t, f.svc.RequestPromotion(ctx, "ghost"), domain.ErrNotInRoom)
}

func TestRoomService_JoinNotifiesExistingMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.connect("A", "B")
	_, err := f.svc.Join(ctx, "R", "A", "alice")
	require.NoError(t, err)
	f.resetAll()

	res, err := f.svc.Join(ctx, "R", "B", "bob")
	require.NoError(t, err)
	assert.Len(t, res.Snapshot.Members, 2)

	var joined domain.ParticipantJoinedPayload
	f.sinks["A"].last(t, domain.EventParticipantJoined, &joined)
	assert.Equal(t, domain.ParticipantJoinedPayload{ID: "B", Role: domain.RoleViewer, DisplayName: "bob"}, joined)
	assert.Empty(t, f.sinks["B"].all(domain.EventParticipantJoined), "joiner is not told about itself")

	var snap domain.RoomJoinedPayload
	f.sinks["B"].last(t, domain.EventRoomJoined, &snap)
	assert.Equal(t, domain.ParticipantID("B"), snap.SelfID)
	assert.Equal(t, domain.RoleViewer, snap.Role)
	assert.Equal(t, domain.ParticipantID("A"), snap.HostID)
	require.Len(t, snap.Members, 2)
	assert.Equal(t, "alice", snap.Members[0].DisplayName)

	types := f.sinks["B"].types()
	assert.Equal(t, domain.EventRoomJoined, types[0])
	assert.Equal(t, domain.EventRoomInfo, types[len(types)-1])
}

func TestRoomService_OneHostUnderRandomChurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, withCapacity(3))
	ids := []domain.ParticipantID{"p0", "p1", "p2", "p3", "p4", "p5"}
	f.connect(ids...)
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		id := ids[rnd.Intn(len(ids))]
		switch rnd.Intn(3) {
		case 0:
			_, _ = f.svc.Join(ctx, "R", id, "")
		case 1:
			_ = f.svc.Leave(ctx, id)
		case 2:
			f.svc.Disconnect(ctx, id)
			f.dir.Register(id, f.sinks[id])
		}

		snap, err := f.svc.GetRoom(ctx, "R")
		if err != nil {
			require.ErrorIs(t, err, domain.ErrRoomNotFound)
			continue
		}
		require.NotEmpty(t, snap.Members, "empty dynamic rooms are destroyed")
		require.LessOrEqual(t, len(snap.Members), 3)
		require.Equal(t, 1, hostCount(snap), "step %d", i)
		require.Equal(t, snap.Members[0].ID, snap.HostID, "host is always the earliest-joined member")
	}
}

func TestRoomService_ConcurrentJoinsRespectCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, withCapacity(4))

	const n = 32
	ids := make([]domain.ParticipantID, n)
	for i := range ids {
		ids[i] = domain.ParticipantID(fmt.Sprintf("p%02d", i))
	}
	f.connect(ids...)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, full := 0, 0
	for _, id := range ids {
		wg.Add(1)
		go func(id domain.ParticipantID) {
			defer wg.Done()
			_, err := f.svc.Join(ctx, "R", id, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if assert.ErrorIs(t, err, domain.ErrRoomFull) {
				full++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 4, admitted)
	assert.Equal(t, n-4, full)
	snap, err := f.svc.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Len(t, snap.Members, 4)
	assert.Equal(t, 1, hostCount(snap))
}

func TestRoomService_DisconnectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.connect("A", "B")
	_, _ = f.svc.Join(ctx, "R", "A", "")
	_, _ = f.svc.Join(ctx, "R", "B", "")
	f.resetAll()

	f.svc.Disconnect(ctx, "B")
	f.svc.Disconnect(ctx, "B")

	assert.Len(t, f.sinks["A"].all(domain.EventParticipantLeft), 1)
	assert.False(t, f.dir.IsRegistered("B"))
	assert.Empty(t, f.sinks["B"].all(domain.EventRoomLeft), "disconnect sends no ack")

	// a leave racing the disconnect is rejected without side effects
	assert.ErrorIs(t, f.svc.Leave(ctx, "B"), domain.ErrNotInRoom)
	assert.Len(t, f.sinks["A"].all(domain.EventParticipantLeft), 1)
}

func TestRoomService_LeaveThenJoinRestoresMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.connect("A", "B", "C")
	for _, id := range []domain.ParticipantID{"A", "B", "C"} {
		_, err := f.svc.Join(ctx, "R", id, "")
		require.NoError(t, err)
	}
	before, err := f.svc.GetRoom(ctx, "R")
	require.NoError(t, err)

	require.NoError(t, f.svc.Leave(ctx, "C"))
	_, err = f.svc.Join(ctx, "R", "C", "")
	require.NoError(t, err)

	after, err := f.svc.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, before.HostID, after.HostID)
	assert.Equal(t, roles(before), roles(after))
}

func TestRoomService_RejoinSameRoomResendsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.connect("A", "B")
	_, _ = f.svc.Join(ctx, "R", "A", "")
	_, _ = f.svc.Join(ctx, "R", "B", "")
	f.resetAll()

	res, err := f.svc.Join(ctx, "R", "B", "")
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Equal(t, []string{domain.EventRoomJoined}, f.sinks["B"].types())
	assert.Empty(t, f.sinks["A"].types())
}

func TestRoomService_SwitchingRooms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, withCapacity(2))
	f.connect("A", "B", "C", "D")
	_, _ = f.svc.Join(ctx, "R1", "A", "")
	_, _ = f.svc.Join(ctx, "R1", "B", "")
	_, _ = f.svc.Join(ctx, "R2", "C", "")
	_, _ = f.svc.Join(ctx, "R2", "D", "")

	// R2 is full: A stays where it is
	_, err := f.svc.Join(ctx, "R2", "A", "")
	assert.ErrorIs(t, err, domain.ErrRoomFull)
	room, _ := f.dir.CurrentRoom("A")
	assert.Equal(t, domain.RoomID("R1"), room)

	f.resetAll()
	res, err := f.svc.Join(ctx, "R3", "A", "")
	require.NoError(t, err)
	assert.True(t, res.Switched)
	assert.Equal(t, domain.RoleHost, res.Self.Role)

	var left domain.ParticipantLeftPayload
	f.sinks["B"].last(t, domain.EventParticipantLeft, &left)
	assert.Equal(t, domain.ParticipantID("A"), left.ID)

	r1, err := f.svc.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("B"), r1.HostID)
	room, _ = f.dir.CurrentRoom("A")
	assert.Equal(t, domain.RoomID("R3"), room)
}

func TestRoomService_ChatHistoryReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, withHistory(10))
	f.connect("A", "B", "C")
	_, _ = f.svc.Join(ctx, "R", "A", "")
	_, _ = f.svc.Join(ctx, "R", "B", "")

	posted := []string{"hi", "how are you", "fine"}
	for i, text := range posted {
		sender := domain.ParticipantID("A")
		if i%2 == 1 {
			sender = "B"
		}
		require.NoError(t, f.svc.PostMessage(ctx, sender, text))
	}

	res, err := f.svc.Join(ctx, "R", "C", "")
	require.NoError(t, err)

	var replayed []string
	for _, m := range res.Snapshot.History {
		replayed = append(replayed, m.Text)
	}
	assert.Equal(t, posted, replayed)

	// fan-out reaches the sender as well
	assert.Len(t, f.sinks["A"].all(domain.EventNewMessage), 3)
	var msg domain.ChatMessage
	f.sinks["B"].last(t, domain.EventNewMessage, &msg)
	assert.Equal(t, "fine", msg.Text)
	assert.Equal(t, domain.ParticipantID("A"), msg.SenderID)
}

func TestRoomService_PostMessageValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.connect("A")

	assert.ErrorIs(t, f.svc.PostMessage(ctx, "A", "hello"), domain.ErrNotInRoom)
	_, _ = f.svc.Join(ctx, "R", "A", "")

	assert.ErrorIs(t, f.svc.PostMessage(ctx, "A", "   "), domain.ErrEmptyMessage)
	assert.ErrorIs(t, f.svc.PostMessage(ctx, "A", strings.Repeat("x", 21)), domain.ErrMessageTooLong)

	snap, err := f.svc.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Empty(t, snap.History)
}

func TestRoomService_SetStreaming(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.connect("A", "B")
	_, _ = f.svc.Join(ctx, "R", "A", "")
	_, _ = f.svc.Join(ctx, "R", "B", "")

	assert.ErrorIs(t, f.svc.SetStreaming(ctx, "B", true), domain.ErrNotAuthorized)

	f.resetAll()
	require.NoError(t, f.svc.SetStreaming(ctx, "A", true))
	var info domain.RoomInfo
	f.sinks["B"].last(t, domain.EventRoomInfo, &info)
	assert.True(t, info.IsStreaming)

	// streaming stops when the host leaves
	require.NoError(t, f.svc.Leave(ctx, "A"))
	f.sinks["B"].last(t, domain.EventRoomInfo, &info)
	assert.False(t, info.IsStreaming)
	assert.Equal(t, domain.ParticipantID("B"), info.HostID)
}

func TestRoomService_RoomLifecycleModes(t *testing.T) {
	ctx := context.Background()

	t.Run("dynamic without auto create", func(t *testing.T) {
		f := newFixture(t, nil, withoutAutoCreate())
		f.connect("A", "B")
		_, err := f.svc.Join(ctx, "R", "A", "")
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)

		res, err := f.svc.CreateRoom(ctx, "R", "A", "")
		require.NoError(t, err)
		assert.Equal(t, domain.RoleHost, res.Self.Role)
		assert.Len(t, f.sinks["A"].all(domain.EventRoomCreated), 1)

		_, err = f.svc.CreateRoom(ctx, "R", "B", "")
		assert.ErrorIs(t, err, domain.ErrRoomExists)

		require.NoError(t, f.svc.Leave(ctx, "A"))
		_, err = f.svc.GetRoom(ctx, "R")
		assert.ErrorIs(t, err, domain.ErrRoomNotFound, "empty dynamic room is destroyed")
	})

	t.Run("create without id generates one", func(t *testing.T) {
		f := newFixture(t, nil)
		f.connect("A")
		res, err := f.svc.CreateRoom(ctx, "", "A", "")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(res.Snapshot.RoomID), "room-"))
	})

	t.Run("static rooms", func(t *testing.T) {
		f := newFixture(t, nil, withStatic("room1", "room2"))
		f.connect("A")

		_, err := f.svc.Join(ctx, "room9", "A", "")
		assert.ErrorIs(t, err, domain.ErrInvalidRoom)
		_, err = f.svc.CreateRoom(ctx, "", "A", "")
		assert.ErrorIs(t, err, domain.ErrInvalidRoom)

		_, err = f.svc.CreateRoom(ctx, "room1", "A", "")
		require.NoError(t, err)
		assert.Empty(t, f.sinks["A"].all(domain.EventRoomCreated))
		require.NoError(t, f.svc.PostMessage(ctx, "A", "hello"))
		require.NoError(t, f.svc.Leave(ctx, "A"))

		snap, err := f.svc.GetRoom(ctx, "room1")
		require.NoError(t, err, "static rooms survive being emptied")
		assert.Empty(t, snap.History)
		assert.Len(t, f.svc.ListRooms(ctx), 2)
	})
}

func TestRoomService_ListRoomsSorted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, withCapacity(1))
	f.connect("A", "B")
	_, _ = f.svc.Join(ctx, "zeta", "A", "")
	_, _ = f.svc.Join(ctx, "alpha", "B", "")

	rooms := f.svc.ListRooms(ctx)
	require.Len(t, rooms, 2)
	assert.Equal(t, domain.RoomID("alpha"), rooms[0].RoomID)
	assert.True(t, rooms[0].Full)
	assert.Equal(t, 1, rooms[1].MemberCount)
}

func TestRoomService_InvariantViolationHandling(t *testing.T) {
	ctx := context.Background()

	corrupt := func(t *testing.T, f *fixture) {
		room, ok := f.repo.Get(ctx, "R")
		require.True(t, ok)
		room.HostID = "ghost"
	}

	t.Run("heals in production mode", func(t *testing.T) {
		f := newFixture(t, nil)
		f.connect("A", "B")
		_, _ = f.svc.Join(ctx, "R", "A", "")
		corrupt(t, f)

		_, err := f.svc.Join(ctx, "R", "B", "")
		require.NoError(t, err)

		snap, err := f.svc.GetRoom(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, domain.ParticipantID("A"), snap.HostID)
		assert.Equal(t, 1, hostCount(snap))

		var info domain.RoomInfo
		f.sinks["B"].last(t, domain.EventRoomInfo, &info)
		assert.Equal(t, domain.ParticipantID("A"), info.HostID)
	})

	t.Run("panics in strict mode", func(t *testing.T) {
		f := newFixture(t, nil, withStrictInvariants())
		f.connect("A", "B")
		_, _ = f.svc.Join(ctx, "R", "A", "")
		corrupt(t, f)

		assert.Panics(t, func() { _, _ = f.svc.Join(ctx, "R", "B", "") })
	})
}
