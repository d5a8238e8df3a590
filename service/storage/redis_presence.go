package storage

import (
	"context"
	"strconv"
	"time"

	"PPresence/tools/errs"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: <prefix>:presence:<user> (hash, TTL = freshness window)
// index key:    <prefix>:presence:online (zset, score = last seen millis)
type RedisPresence struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisPresence(rdb *redis.Client, prefix string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = LegacyPresenceTTL
	}
	if prefix == "" {
		prefix = "pp"
	}
	return &RedisPresence{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (p *RedisPresence) presenceKey(user string) string { return p.prefix + ":presence:" + user }
func (p *RedisPresence) indexKey() string { return p.prefix + ":presence:online" }

// Touch sets the user as online and renews the TTL.
func (p *RedisPresence) Touch(ctx context.Context, e PresenceEntry) error {
	if p.rdb == nil {
		return errs.ErrConfig.WrapMsg("redis not initialized")
	}
	now := time.Now()
	fields := map[string]any{"id": e.ID, "name": e.Name, "image": e.Image}
	if e.Status != "" {
		fields["status"] = e.Status
	}
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.presenceKey(e.ID), fields)
		pipe.PExpire(ctx, p.presenceKey(e.ID), p.ttl)
		pipe.ZAdd(ctx, p.indexKey(), redis.Z{Score: float64(now.UnixMilli()), Member: e.ID})
		return nil
	})
	return errs.WrapMsg(err, "presence touch", "user", e.ID)
}

// List prunes the index and returns every entry still alive.
func (p *RedisPresence) List(ctx context.Context) ([]PresenceEntry, error) {
	if p.rdb == nil {
		return nil, errs.ErrConfig.WrapMsg("redis not initialized")
	}
	cutoff := time.Now().Add(-p.ttl).UnixMilli()
	if err := p.rdb.ZRemRangeByScore(ctx, p.indexKey(), "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, errs.WrapMsg(err, "presence prune")
	}
	members, err := p.rdb.ZRangeWithScores(ctx, p.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "presence index")
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, z := range members {
			cmds[i] = pipe.HGetAll(ctx, p.presenceKey(z.Member.(string)))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errs.WrapMsg(err, "presence fetch")
	}

	out := make([]PresenceEntry, 0, len(members))
	for i, z := range members {
		h := cmds[i].Val()
		if len(h) == 0 {
			// hash expired before the index caught up
			continue
		}
		out = append(out, PresenceEntry{
			ID:       z.Member.(string),
			Name:     h["name"],
			Image:    h["image"],
			Status:   h["status"],
			LastSeen: time.UnixMilli(int64(z.Score)),
		})
	}
	return out, nil
}

// Remove actively sets the user offline.
func (p *RedisPresence) Remove(ctx context.Context, id string) error {
	if p.rdb == nil {
		return errs.ErrConfig.WrapMsg("redis not initialized")
	}
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.presenceKey(id))
		pipe.ZRem(ctx, p.indexKey(), id)
		return nil
	})
	return errs.WrapMsg(err, "presence remove", "user", id)
}
