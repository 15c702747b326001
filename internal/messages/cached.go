package messages

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"notice-engine/internal/observability"
)

// Cached puts a Redis read-through cache in front of a Source. Redis failures
// degrade to the underlying source.
type Cached struct {
	src    Source
	client redis.Cmdable
	ttl    time.Duration
}

func NewCached(src Source, client redis.Cmdable, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{src: src, client: client, ttl: ttl}
}

func cacheKey(key, lang string) string { return "cn:msg:" + lang + ":" + key }

func (c *Cached) Lookup(ctx context.Context, key, lang string) (string, error) {
	ck := cacheKey(key, lang)
	msg, err := c.client.Get(ctx, ck).Result()
	switch {
	case err == nil:
		observability.MessageCache.WithLabelValues("hit").Inc()
		return msg, nil
	case errors.Is(err, redis.Nil):
		observability.MessageCache.WithLabelValues("miss").Inc()
	default:
		observability.MessageCache.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("key", key).Msg("message cache read failed")
	}

	msg, err = c.src.Lookup(ctx, key, lang)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, ck, msg, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("message cache write failed")
	}
	return msg, nil
}

// Purge drops cached entries for the given message keys in every language.
func (c *Cached) Purge(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		iter := c.client.Scan(ctx, 0, "cn:msg:*:"+k, 100).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}
