package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var ErrBucketNotConfigured = errors.New("token_bucket_not_configured")

// takeScript refills the bucket from the redis clock, takes one token when
// available and returns the wait in milliseconds (0 when taken).
// KEYS[1] bucket, ARGV[1] tokens per second, ARGV[2] burst.
var takeScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - last) * rate / 1000)

local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], math.ceil(burst * 2000 / rate))
return wait
`)

// TokenBucket is a redis-backed bucket shared by every replica.
type TokenBucket struct {
	client *redis.Client
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Take removes one token from the bucket at key. It returns zero when the
// token was taken, otherwise how long until one is available.
func (b *TokenBucket) Take(ctx context.Context, key string, rate float64, burst int) (time.Duration, error) {
	if b == nil {
		return 0, ErrBucketNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return 0, fmt.Errorf("token bucket %q: rate %v burst %d", key, rate, burst)
	}
	waitMS, err := takeScript.Run(ctx, b.client, []string{key}, rate, burst).Int64()
	if err != nil {
		return 0, err
	}
	return time.Duration(waitMS) * time.Millisecond, nil
}
