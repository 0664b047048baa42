package monitoring

import (
	"context"
	"time"

	"roomrelay/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddRepositoryCheck adds a room registry health check
func (h *HealthChecker) AddRepositoryCheck(repo ports.RoomRepository, timeout time.Duration) {
	h.AddCheck("rooms", func(ctx context.Context) (bool, error) {
		if err := repo.HealthCheck(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddCapacityCheck reports unready once the connection limit is reached,
// so a load balancer stops routing new clients here.
func (h *HealthChecker) AddCapacityCheck(dir ports.Directory, maxConnections int) {
	if maxConnections <= 0 {
		return
	}
	h.AddCheck("connections", func(ctx context.Context) (bool, error) {
		return dir.Count() < maxConnections, nil
	}, 0)
}

// Readiness runs every check and reports whether the service should take
// new traffic.
func (h *HealthChecker) Readiness(ctx context.Context) (HealthStatus, bool) {
	status := h.CheckAll(ctx)
	return status, status.Status == "healthy"
}
