package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	// Zero out rate limiting values to ensure they are ignored when disabled.
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "http rps must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.HTTP.RequestsPerSecond = 0
			},
		},
		{
			name: "http max concurrent must be >= 0",
			mutate: func(c *Config) {
				c.RateLimiting.HTTP.MaxConcurrent = -1
			},
		},
		{
			name: "ws messages per second must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.WebSocket.MessagesPerSecond = 0
			},
		},
		{
			name: "ws burst must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.WebSocket.Burst = 0
			},
		},
		{
			name: "ping interval must be below pong timeout",
			mutate: func(c *Config) {
				c.Signal.PingInterval = 2 * time.Minute
			},
		},
		{
			name: "unknown room mode",
			mutate: func(c *Config) {
				c.Rooms.Mode = "sharded"
			},
		},
		{
			name: "static mode needs rooms",
			mutate: func(c *Config) {
				c.Rooms.Mode = RoomModeStatic
				c.Rooms.StaticRooms = nil
			},
		},
		{
			name: "static rooms must be unique",
			mutate: func(c *Config) {
				c.Rooms.Mode = RoomModeStatic
				c.Rooms.StaticRooms = []string{"a", "a"}
			},
		},
		{
			name: "capacity must be > 0",
			mutate: func(c *Config) {
				c.Rooms.MaxCapacity = 0
			},
		},
		{
			name: "send buffer must be > 0",
			mutate: func(c *Config) {
				c.Signal.SendBufferSize = 0
			},
		},
		{
			name: "ice server needs urls",
			mutate: func(c *Config) {
				c.WebRTC.ICEServers = append(c.WebRTC.ICEServers, ICEServer{})
			},
		},
		{
			name: "ice server url must be stun or turn",
			mutate: func(c *Config) {
				c.WebRTC.ICEServers = []ICEServer{{URLs: []string{"http://example.com"}}}
			},
		},
		{
			name: "turn server needs credentials",
			mutate: func(c *Config) {
				c.WebRTC.ICEServers = []ICEServer{{URLs: []string{"turn:turn.example.com:3478"}, Username: "relay"}}
			},
		},
		{
			name: "pong timeout equal to ping interval",
			mutate: func(c *Config) {
				c.Signal.PongTimeout = c.Signal.PingInterval
			},
		},
		{
			name: "redis needs event channel",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Events.Channel = ""
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, RoomModeDynamic, cfg.Rooms.Mode)
	assert.Equal(t, 4, cfg.Rooms.MaxCapacity)
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  address: ":9000"
rooms:
  mode: static
  static_rooms: [lobby, stage]
  max_capacity: 8
signal:
  ping_interval: 5s
  pong_timeout: 15s
webrtc:
  ice_servers:
    - urls: ["stun:stun.l.google.com:19302"]
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, RoomModeStatic, cfg.Rooms.Mode)
	assert.Equal(t, []string{"lobby", "stage"}, cfg.Rooms.StaticRooms)
	assert.Equal(t, 8, cfg.Rooms.MaxCapacity)
	assert.Equal(t, 5*time.Second, cfg.Signal.PingInterval)
	require.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEServers[0].URLs)
	// untouched sections keep their defaults
	assert.Equal(t, 100, cfg.Rooms.HistorySize)
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rooms:\n  max_capacity: -1\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROOMRELAY_ROOM_CAPACITY", "6")
	t.Setenv("ROOMRELAY_LOG_LEVEL", "debug")
	t.Setenv("PORT", "4000")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Rooms.MaxCapacity)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":4000", cfg.Server.Address)
}
