package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kiennguyen/apptravel/internal/config"
)

// bucketScript takes one token from the bucket at KEYS[1]. Tokens come
// back one per ARGV[3] milliseconds up to ARGV[2]. It returns
// {allowed, remaining, retry_after_ms}.
var bucketScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local every = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'at')
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now

local gained = math.floor((now - at) / every)
if gained > 0 then
  tokens = math.min(capacity, tokens + gained)
  at = at + gained * every
end

local allowed, wait = 0, 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = every - (now - at)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'at', at)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tokens, wait}
`)

// bucket is a family of token buckets sharing size and refill rate.
type bucket struct {
	capacity int
	every    time.Duration
}

type verdict struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

func take(ctx context.Context, rdb *redis.Client, key string, b bucket) (verdict, error) {
	ttl := time.Duration(b.capacity) * b.every
	if ttl < time.Minute {
		ttl = time.Minute
	}
	res, err := bucketScript.Run(ctx, rdb, []string{key},
		time.Now().UnixMilli(), b.capacity, b.every.Milliseconds(), ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return verdict{}, err
	}
	if len(res) != 3 {
		return verdict{}, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	return verdict{allowed: res[0] == 1, remaining: res[1], retry: time.Duration(res[2]) * time.Millisecond}, nil
}

// credentialRoutes draw from the credential bucket.
var credentialRoutes = map[string]bool{
	http.MethodPost + " /o/token": true,
	http.MethodPost + " /users":   true,
}

// rateKey picks the bucket for a request: credential routes by client IP,
// authenticated callers by user id, everyone else by client IP.
func rateKey(prefix string, c echo.Context) (key string, credential bool) {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	if credentialRoutes[c.Request().Method+" "+c.Path()] {
		return prefix + ":auth:" + ip, true
	}
	if caller := CallerFrom(c); caller.Authenticated {
		return prefix + ":user:" + strconv.FormatUint(caller.UserID, 10), false
	}
	return prefix + ":ip:" + ip, false
}

// NewTokenBucket limits requests with Redis token buckets. It must run
// after JWTAuth so authenticated callers are keyed by user. Redis errors
// let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	general := bucket{capacity: cfg.Capacity, every: cfg.RefillEvery}
	credential := bucket{capacity: cfg.AuthCapacity, every: cfg.AuthRefillEvery}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, isCredential := rateKey(cfg.Prefix, c)
			b := general
			if isCredential {
				b = credential
			}

			v, err := take(c.Request().Context(), rdb, key, b)
			if err != nil {
				logrus.WithError(err).WithField("key", key).Warn("ratelimit: redis error")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(b.capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(v.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if v.allowed {
				return next(c)
			}

			secs := int(math.Ceil(v.retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			h.Set("Retry-After", strconv.Itoa(secs))
			if cfg.Debug {
				logrus.WithFields(logrus.Fields{"key": key, "retry_after": secs}).Debug("ratelimit: blocked")
			}
			return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate limit exceeded", "retry_after": secs})
		}
	}
}
