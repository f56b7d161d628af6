package lock

import (
	"database/sql"

	"landflow/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SchedulerKey names the lock shared by every scheduler poll cycle, whether
// run by the server or by automationctl.
const SchedulerKey = "landflow:scheduler"

// ForScheduler keeps one poller active across processes: Redis when
// REDIS_ADDR is set, a PostgreSQL advisory lock otherwise. SQLite runs
// single-instance. The returned func releases backend resources.
func ForScheduler(cfg *config.Config, sqlDB func() (*sql.DB, error), logger *zap.Logger) (Locker, func()) {
	ttl := cfg.Automation.ClaimLease
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		logger.Info("Scheduler lock: redis", zap.String("addr", cfg.RedisAddr))
		return New(rdb, nil, SchedulerKey, ttl), func() { rdb.Close() }
	}
	if cfg.DBDriver == "postgres" || cfg.DBDriver == "postgresql" {
		db, err := sqlDB()
		if err == nil {
			logger.Info("Scheduler lock: postgres advisory lock")
			return New(nil, db, SchedulerKey, ttl), func() {}
		}
		logger.Warn("Scheduler lock: no sql handle, running unlocked", zap.Error(err))
	}
	return New(nil, nil, SchedulerKey, ttl), func() {}
}
