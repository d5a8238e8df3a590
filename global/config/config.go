package config

import (
	"os"
	"strings"

	"PPresence/logger"
	"PPresence/tools/errs"
	jwtsec "PPresence/tools/security"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// EnvPrefix 环境变量前缀，例如 PP_NATS_SERVERS
const EnvPrefix = "PP"

// Global 默认值；Load 之后被覆盖
var Global = AppConfig{
	NodeId: "presence-api",
	HTTP:   HTTPConfig{Addr: ":8080"},
	JWT:    JWTConfig{Alg: "HS256"},
	Log:    LogConfig{Level: "info"},
	Presence: PresenceConfig{
		StoreBackend: StoreMemory,
		KeyPrefix:    "pp",
	},
	API: APIConfig{BaseURL: "http://127.0.0.1:8080"},
}

// Load reads .env (if present), then the optional yaml file, then PP_*
// environment variables, on top of Global's defaults.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("[config] .env not loaded", zap.Error(err))
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Global)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.ErrConfig.WrapMsg("read config", "path", path, "err", err.Error())
		}
	}

	// viper 默认的 decode hook 已处理 "10s" 与 "a,b" 形式
	out := Global
	if err := v.Unmarshal(&out); err != nil {
		return nil, errs.ErrConfig.WrapMsg("decode config", "err", err.Error())
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	logger.SetLevel(out.Log.Level)
	return &out, nil
}

// setDefaults registers every key; AutomaticEnv only overlays keys viper knows.
func setDefaults(v *viper.Viper, d AppConfig) {
	v.SetDefault("node_id", d.NodeId)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)

	v.SetDefault("nats.servers", d.Nats.Servers)
	v.SetDefault("nats.name", d.Nats.Name)
	v.SetDefault("nats.token", d.Nats.Token)
	v.SetDefault("nats.user", d.Nats.User)
	v.SetDefault("nats.password", d.Nats.Password)
	v.SetDefault("nats.creds_file", d.Nats.CredsFile)
	v.SetDefault("nats.subject_prefix", d.Nats.SubjectPrefix)
	v.SetDefault("nats.request_timeout", d.Nats.RequestTimeout)
	v.SetDefault("nats.disconnected_retry", d.Nats.DisconnectedRetry)
	v.SetDefault("nats.suspended_retry", d.Nats.SuspendedRetry)
	v.SetDefault("nats.suspend_after", d.Nats.SuspendAfter)
	v.SetDefault("nats.drain_timeout", d.Nats.DrainTimeout)
	v.SetDefault("nats.dedup_window", d.Nats.DedupWindow)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("postgres_dsn", d.PostgresDSN)

	v.SetDefault("jwt.secret", d.JWT.Secret)
	v.SetDefault("jwt.alg", d.JWT.Alg)
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.ttl", d.JWT.TTL)
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("presence.heartbeat", d.Presence.Heartbeat)
	v.SetDefault("presence.poll_every", d.Presence.PollEvery)
	v.SetDefault("presence.release_settle", d.Presence.ReleaseSettle)
	v.SetDefault("presence.store_backend", d.Presence.StoreBackend)
	v.SetDefault("presence.key_prefix", d.Presence.KeyPrefix)

	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.token", d.API.Token)
}

func (c *AppConfig) Validate() error {
	switch c.Presence.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return errs.ErrConfig.WrapMsg("redis backend needs redis.addr")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errs.ErrConfig.WrapMsg("postgres backend needs postgres_dsn")
		}
	default:
		return errs.ErrConfig.WrapMsg("unknown store backend", "backend", c.Presence.StoreBackend)
	}
	return nil
}

// JWTOptions 鉴权参数
func (c *AppConfig) JWTOptions() jwtsec.Options {
	return jwtsec.Options{Secret: []byte(c.JWT.Secret), Alg: c.JWT.Alg, TTL: c.JWT.TTL, Issuer: c.JWT.Issuer}
}
