package redis

import (
	"context"
	"sync"
	"time"

	"PPresence/tools/errs"

	"github.com/redis/go-redis/v9"
)

var (
	redisMu  sync.Mutex
	redisMgr *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config 用于初始化 Redis
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// NewClient 创建客户端并 Ping 一次
func NewClient(ctx context.Context, c Config) (*redis.Client, error) {
	if c.Addr == "" {
		return nil, errs.ErrConfig.WrapMsg("redis addr missing")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return rdb, nil
}

// InitRedis 初始化 Redis 管理器（单例），失败后可重试
func InitRedis(ctx context.Context, c Config) error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr != nil {
		return nil
	}
	rdb, err := NewClient(ctx, c)
	if err != nil {
		return err
	}
	redisMgr = &RedisManager{client: rdb}
	return nil
}

// GetRedis 获取 Redis Client
func GetRedis() (*redis.Client, error) {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil {
		return nil, errs.ErrConfig.WrapMsg("redis not initialized, call InitRedis first")
	}
	return redisMgr.client, nil
}

// CloseRedis 关闭连接
func CloseRedis() error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr != nil && redisMgr.client != nil {
		err := redisMgr.client.Close()
		redisMgr = nil
		return err
	}
	return nil
}
