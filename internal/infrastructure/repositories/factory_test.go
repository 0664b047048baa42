package repositories

import (
	"context"
	"testing"

	"roomrelay/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepositoryFactory_MemoryOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rooms.Mode = config.RoomModeStatic
	cfg.Rooms.StaticRooms = []string{"room1", "room2"}

	f := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	defer f.Close()

	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(context.Background()))

	repo := f.CreateRoomRepository()
	require.NotNil(t, repo)
	assert.Equal(t, config.RoomModeStatic, repo.Mode())
	assert.Len(t, repo.List(context.Background()), 2)
}

func TestRepositoryFactory_UnreachableRedisFallsBack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	// Reserved port, nothing listens there.
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	defer f.Close()

	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NotNil(t, f.CreateRoomRepository())
}
