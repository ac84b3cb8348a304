package auth

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Valkey key pattern:
//
//	throttle:{key} → attempt count (STRING with TTL)

func throttleKey(key string) string {
	return "throttle:" + key
}

// maxThrottleTTLSeconds caps the exponential backoff window at one hour.
const maxThrottleTTLSeconds = 3600

// throttleScript atomically counts an attempt and applies exponential decay:
// the key's TTL doubles for every attempt past the limit, so repeated abuse
// pushes the retry window out instead of resetting it.
//
//	KEYS[1] = throttle:{key}
//	ARGV[1] = max attempts per window
//	ARGV[2] = base decay window in seconds
//	ARGV[3] = TTL cap in seconds
//
// Returns the current attempt count.
var throttleScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local max = tonumber(ARGV[1])
local decay = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])

if count == 1 then
    redis.call('EXPIRE', KEYS[1], decay)
elseif count > max then
    local ttl = decay * 2 ^ (count - max)
    if ttl > cap then
        ttl = cap
    end
    redis.call('EXPIRE', KEYS[1], math.floor(ttl))
end

return count
`)

// Throttle is a per-key attempt limiter with exponential decay, used to slow
// credential stuffing on the login endpoint.
type Throttle struct {
	rdb          *redis.Client
	max          int
	decaySeconds int
}

// NewThrottle creates a throttle allowing max attempts per decay window.
func NewThrottle(rdb *redis.Client, max, decaySeconds int) *Throttle {
	return &Throttle{rdb: rdb, max: max, decaySeconds: decaySeconds}
}

// Allow records an attempt against key and reports whether it is within the
// limit. Attempts past the limit extend the lockout exponentially.
func (t *Throttle) Allow(ctx context.Context, key string) (bool, error) {
	count, err := throttleScript.Run(ctx, t.rdb,
		[]string{throttleKey(key)},
		t.max, t.decaySeconds, maxThrottleTTLSeconds,
	).Int()
	if err != nil {
		return false, fmt.Errorf("throttle check: %w", err)
	}
	return count <= t.max, nil
}

// Reset clears the attempt counter for key, called after a successful login so
// legitimate users are not penalised for earlier typos.
func (t *Throttle) Reset(ctx context.Context, key string) error {
	if err := t.rdb.Del(ctx, throttleKey(key)).Err(); err != nil {
		return fmt.Errorf("throttle reset: %w", err)
	}
	return nil
}
