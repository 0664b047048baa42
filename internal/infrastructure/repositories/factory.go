package repositories

import (
	"context"

	"roomrelay/internal/core/ports"
	"roomrelay/internal/infrastructure/repositories/memory"
	redisrepo "roomrelay/internal/infrastructure/repositories/redis"
	"roomrelay/pkg/config"
	"roomrelay/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory builds the room registry and, when enabled, the redis
// connection shared by the event mirror and readiness checks.
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory. A redis connection
// failure is not fatal: the relay keeps running without the event mirror.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:    cfg,
		logger: logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Retry:    retry.DefaultConfig(),
		}, logger)
		if err != nil {
			logger.Warnw("Redis unavailable, room events will not be mirrored",
				"error", err,
			)
		} else {
			factory.redisClient = client
		}
	}

	return factory
}

// CreateRoomRepository creates the in-memory room registry for the configured mode.
func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	f.logger.Infow("Using memory room registry",
		"mode", f.cfg.Rooms.Mode,
		"static_rooms", len(f.cfg.Rooms.StaticRooms),
		"capacity", f.cfg.Rooms.MaxCapacity,
	)
	return memory.NewMemoryRoomRepository(
		f.cfg.Rooms.Mode,
		f.cfg.Rooms.StaticRooms,
		f.cfg.Rooms.MaxCapacity,
		f.cfg.Rooms.HistorySize,
	)
}

// RedisClient returns the shared redis client, or nil when redis is off or unreachable.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
