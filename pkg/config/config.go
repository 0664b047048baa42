package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"roomrelay/pkg/validation"

	"gopkg.in/yaml.v2"
)

// Room modes.
const (
	RoomModeStatic  = "static"
	RoomModeDynamic = "dynamic"
)

// ICEServer is handed to clients on connect so they can reach each other.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path           string        `yaml:"path"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		SendBufferSize int           `yaml:"send_buffer_size"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		MaxConnections int           `yaml:"max_connections"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Rooms struct {
		Mode             string   `yaml:"mode"`
		StaticRooms      []string `yaml:"static_rooms"`
		MaxCapacity      int      `yaml:"max_capacity"`
		HistorySize      int      `yaml:"history_size"`
		MaxMessageLength int      `yaml:"max_message_length"`
		AutoCreate       bool     `yaml:"auto_create"`
		StrictInvariants bool     `yaml:"strict_invariants"`
	} `yaml:"rooms"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Events struct {
		Channel    string `yaml:"channel"`
		QueueSize  int    `yaml:"queue_size"`
		InstanceID string `yaml:"instance_id"`
	} `yaml:"events"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Path == "" {
		return fmt.Errorf("signal.path must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}
	if c.Signal.PingInterval >= c.Signal.PongTimeout {
		return fmt.Errorf("signal.ping_interval must be < signal.pong_timeout")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendBufferSize <= 0 {
		return fmt.Errorf("signal.send_buffer_size must be > 0")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}
	if c.Signal.MaxConnections < 0 {
		return fmt.Errorf("signal.max_connections must be >= 0")
	}

	// Rooms
	switch c.Rooms.Mode {
	case RoomModeStatic:
		if len(c.Rooms.StaticRooms) == 0 {
			return fmt.Errorf("rooms.static_rooms must not be empty when rooms.mode=static")
		}
		seen := make(map[string]bool, len(c.Rooms.StaticRooms))
		for _, id := range c.Rooms.StaticRooms {
			if id == "" {
				return fmt.Errorf("rooms.static_rooms must not contain empty ids")
			}
			if seen[id] {
				return fmt.Errorf("rooms.static_rooms contains duplicate id %q", id)
			}
			seen[id] = true
		}
	case RoomModeDynamic:
	default:
		return fmt.Errorf("rooms.mode must be %q or %q, got %q", RoomModeStatic, RoomModeDynamic, c.Rooms.Mode)
	}
	if c.Rooms.MaxCapacity <= 0 {
		return fmt.Errorf("rooms.max_capacity must be > 0")
	}
	if c.Rooms.HistorySize < 0 {
		return fmt.Errorf("rooms.history_size must be >= 0")
	}
	if c.Rooms.MaxMessageLength <= 0 {
		return fmt.Errorf("rooms.max_message_length must be > 0")
	}

	// WebRTC
	for i, s := range c.WebRTC.ICEServers {
		if err := validation.ValidateICEServer(s.URLs, s.Username, s.Credential); err != nil {
			return fmt.Errorf("webrtc.ice_servers[%d]: %w", i, err)
		}
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.MetricsPath == "" {
		return fmt.Errorf("monitoring.metrics_path must not be empty when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Events.Channel == "" {
			return fmt.Errorf("events.channel must not be empty when redis.enabled=true")
		}
		if c.Events.QueueSize <= 0 {
			return fmt.Errorf("events.queue_size must be > 0 when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":3001"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendBufferSize = 64
	cfg.Signal.MaxMessageSize = 64 * 1024 // enough for SDP blobs
	cfg.Signal.MaxConnections = 0
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Rooms.Mode = RoomModeDynamic
	cfg.Rooms.StaticRooms = []string{"room1", "room2", "room3", "room4"}
	cfg.Rooms.MaxCapacity = 4
	cfg.Rooms.HistorySize = 100
	cfg.Rooms.MaxMessageLength = 2000
	cfg.Rooms.AutoCreate = true
	cfg.Rooms.StrictInvariants = false

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Events.Channel = "roomrelay:events"
	cfg.Events.QueueSize = 1024

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "roomrelay"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("ROOMRELAY_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	// PORT is what most hosting platforms inject.
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			c.Server.Address = ":" + port
		}
	}
	if level := os.Getenv("ROOMRELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if mode := os.Getenv("ROOMRELAY_ROOM_MODE"); mode != "" {
		c.Rooms.Mode = mode
	}
	if capacity := os.Getenv("ROOMRELAY_ROOM_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			c.Rooms.MaxCapacity = n
		}
	}
	if addr := os.Getenv("ROOMRELAY_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if password := os.Getenv("ROOMRELAY_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
}
