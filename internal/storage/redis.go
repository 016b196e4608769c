package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"groupcast/pkg/logx"
)

const defaultRedisPrefix = "groupcast:dedup:"

// redisStore keeps one key per dedup entry and lets Redis expire it.
type redisStore struct {
	cli    *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	rc := cfg.Redis
	if strings.TrimSpace(rc.Addr) == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	if rc.Timeout <= 0 {
		rc.Timeout = 5 * time.Second
	}
	cli := redis.NewClient(&redis.Options{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		DialTimeout:  rc.Timeout,
		ReadTimeout:  rc.Timeout,
		WriteTimeout: rc.Timeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), rc.Timeout)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, err
	}
	log.Debug("redis store opened", logx.String("addr", rc.Addr), logx.Int("db", rc.DB))
	return &redisStore{cli: cli, prefix: redisPrefix(rc.Prefix), log: log}, nil
}

func redisPrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return defaultRedisPrefix
	}
	if !strings.HasSuffix(p, ":") {
		p += ":"
	}
	return p
}

func (s *redisStore) Close() error { return s.cli.Close() }

func (s *redisStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.cli.Set(ctx, s.prefix+key, strconv.FormatInt(until.UnixMilli(), 10), ttl).Err()
}

func (s *redisStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	v, err := s.cli.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
