package config

import (
	"context"

	"PPresence/logger"
	"PPresence/service/storage"
	"PPresence/service/storage/redis"

	"go.uber.org/zap"
)

// Stores 是 presence-api 使用的持久层
type Stores struct {
	Presence storage.PresenceMap
	Status   storage.StatusStore
	closers  []func()
}

func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// ConfigStores opens the backend named by Presence.StoreBackend. The
// presence map lives in Redis whenever an address is configured, since the
// Postgres backend only holds statuses.
func ConfigStores(ctx context.Context, c *AppConfig) (*Stores, error) {
	st := &Stores{
		Presence: storage.NewMemoryPresence(storage.LegacyPresenceTTL),
		Status:   storage.NewMemoryStatus(),
	}
	if c.Redis.Addr != "" {
		if err := redis.InitRedis(ctx, c.Redis); err != nil {
			return nil, err
		}
		rdb, err := redis.GetRedis()
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = redis.CloseRedis() })
		st.Presence = storage.NewRedisPresence(rdb, c.Presence.KeyPrefix, storage.LegacyPresenceTTL)
		if c.Presence.StoreBackend == StoreRedis {
			st.Status = storage.NewRedisStatus(rdb, c.Presence.KeyPrefix)
		}
	}
	if c.Presence.StoreBackend == StorePostgres {
		pg, err := storage.NewPgStatus(ctx, c.PostgresDSN)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, pg.Close)
		st.Status = pg
	}
	logger.Info("[config] stores ready", zap.String("backend", c.Presence.StoreBackend), zap.Bool("redis", c.Redis.Addr != ""))
	return st, nil
}
