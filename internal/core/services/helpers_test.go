package services

import (
	"encoding/json"
	"sync"
	"testing"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/infrastructure/repositories/memory"
	"roomrelay/pkg/config"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder is a Sink that keeps every delivered envelope.
type recorder struct {
	mu     sync.Mutex
	frames []domain.Envelope
	full   bool
}

func (r *recorder) Enqueue(msg []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	var env domain.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		panic(err)
	}
	r.frames = append(r.frames, env)
	return true
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Type)
	}
	return out
}

func (r *recorder) all(eventType string) []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Envelope
	for _, f := range r.frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) last(t *testing.T, eventType string, into interface{}) {
	t.Helper()
	frames := r.all(eventType)
	require.NotEmpty(t, frames, "no %s frame received", eventType)
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, into))
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

func indexOf(types []string, eventType string) int {
	for i, t := range types {
		if t == eventType {
			return i
		}
	}
	return -1
}

func peerIDs(t *testing.T, r *recorder) []domain.ParticipantID {
	t.Helper()
	var ids []domain.ParticipantID
	for _, f := range r.all(domain.EventPeerAvailable) {
		var p domain.PeerAvailablePayload
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		ids = append(ids, p.PeerID)
	}
	return ids
}

type fixture struct {
	svc   ports.RoomService
	relay ports.SignalRelay
	dir   *Directory
	repo  ports.RoomRepository
	sinks map[domain.ParticipantID]*recorder
}

type fixtureOption func(*config.Config, *RoomServiceConfig)

func withStatic(ids ...string) fixtureOption {
	return func(c *config.Config, _ *RoomServiceConfig) {
		c.Rooms.Mode = config.RoomModeStatic
		c.Rooms.StaticRooms = ids
	}
}

func withCapacity(n int) fixtureOption {
	return func(c *config.Config, _ *RoomServiceConfig) { c.Rooms.MaxCapacity = n }
}

func withHistory(n int) fixtureOption {
	return func(c *config.Config, _ *RoomServiceConfig) { c.Rooms.HistorySize = n }
}

func withoutAutoCreate() fixtureOption {
	return func(_ *config.Config, s *RoomServiceConfig) { s.AutoCreate = false }
}

func withStrictInvariants() fixtureOption {
	return func(_ *config.Config, s *RoomServiceConfig) { s.StrictInvariants = true }
}

func newFixture(t *testing.T, metrics ports.RoomMetrics, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	svcCfg := RoomServiceConfig{
		MaxMessageLength: 20,
		AutoCreate:       true,
	}
	for _, opt := range opts {
		opt(cfg, &svcCfg)
	}

	logger := zap.NewNop().Sugar()
	dir := NewDirectory(metrics, logger)
	repo := memory.NewMemoryRoomRepository(cfg.Rooms.Mode, cfg.Rooms.StaticRooms, cfg.Rooms.MaxCapacity, cfg.Rooms.HistorySize)

	return &fixture{
		svc:   NewRoomService(repo, dir, nil, metrics, svcCfg, logger),
		relay: NewRelayService(dir, metrics, logger),
		dir:   dir,
		repo:  repo,
		sinks: make(map[domain.ParticipantID]*recorder),
	}
}

func (f *fixture) connect(ids ...domain.ParticipantID) {
	for _, id := range ids {
		rec := &recorder{}
		f.sinks[id] = rec
		f.dir.Register(id, rec)
	}
}

func (f *fixture) resetAll() {
	for _, r := range f.sinks {
		r.reset()
	}
}

// mockMetrics records metric calls with testify mock.
type mockMetrics struct {
	mock.Mock
}

func newMockMetrics() *mockMetrics {
	m := &mockMetrics{}
	m.On("IncJoins").Maybe()
	m.On("IncRejections", mock.Anything).Maybe()
	m.On("IncSignals", mock.Anything).Maybe()
	m.On("IncDroppedDeliveries").Maybe()
	m.On("IncMessages").Maybe()
	m.On("SetActiveRooms", mock.Anything).Maybe()
	m.On("SetParticipants", mock.Anything, mock.Anything).Maybe()
	m.On("SetActiveConnections", mock.Anything).Maybe()
	return m
}

func (m *mockMetrics) IncJoins() { m.Called() }
func (m *mockMetrics) IncRejections(code string) { m.Called(code) }
func (m *mockMetrics) IncSignals(kind string) { m.Called(kind) }
func (m *mockMetrics) IncDroppedDeliveries() { m.Called() }
func (m *mockMetrics) IncFailovers() { m.Called() }
func (m *mockMetrics) IncMessages() { m.Called() }
func (m *mockMetrics) SetActiveRooms(n int) { m.Called(n) }
func (m *mockMetrics) SetParticipants(role domain.Role, n int) { m.Called(role, n) }
func (m *mockMetrics) SetActiveConnections(n int) { m.Called(n) }
