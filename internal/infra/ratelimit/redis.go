package ratelimit

import (
	"context"
	"errors"
	"time"

	"custodia/internal/domain"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// Redis shares windows across every custodiad instance pointed at the same
// server. Keys are namespaced under prefix.
type Redis struct {
	client redis.Scripter
	clock  clockwork.Clock
	prefix string
}

func NewRedis(client redis.Scripter, prefix string, clock clockwork.Clock) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Redis{client: client, clock: clock, prefix: prefix}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}
	result, err := allowScript.Run(ctx, r.client, []string{r.prefix + key}, windowMillis).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	if len(result) < 2 {
		return domain.RateLimitDecision{}, errors.New("unexpected redis rate limit response")
	}
	current, ttlMillis := result[0], result[1]
	resetAt := r.clock.Now()
	if ttlMillis > 0 {
		resetAt = resetAt.Add(time.Duration(ttlMillis) * time.Millisecond)
	}
	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
