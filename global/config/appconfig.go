package config

import (
	"time"

	"PPresence/service/natsx"
	"PPresence/service/storage/redis"
)

type AppConfig struct {
	NodeId string            `mapstructure:"node_id"` // 节点ID，发布事件时作为身份
	HTTP   HTTPConfig        `mapstructure:"http"`
	Nats   natsx.NatsxConfig `mapstructure:"nats"`
	Redis  redis.Config      `mapstructure:"redis"`
	// 为空则不启用 Postgres 状态存储
	PostgresDSN string         `mapstructure:"postgres_dsn"`
	JWT         JWTConfig      `mapstructure:"jwt"`
	Log         LogConfig      `mapstructure:"log"`
	Presence    PresenceConfig `mapstructure:"presence"`
	API         APIConfig      `mapstructure:"api"`
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Alg    string        `mapstructure:"alg"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type PresenceConfig struct {
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
	PollEvery     time.Duration `mapstructure:"poll_every"`
	ReleaseSettle time.Duration `mapstructure:"release_settle"`
	StoreBackend  string        `mapstructure:"store_backend"` // memory | redis | postgres
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// APIConfig is the client side: where presencectl finds the collaborator.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}
