package config

import "time"

// RateLimitConfig configures the Redis token buckets. Every client has a
// general bucket; sign-in and sign-up draw from a smaller one keyed by
// client IP so credential guessing is throttled independently.
type RateLimitConfig struct {
	Enabled         bool
	Capacity        int           // general bucket size
	RefillEvery     time.Duration // one token returns per interval
	AuthCapacity    int           // credential bucket size
	AuthRefillEvery time.Duration
	Prefix          string
	Debug           bool // adds X-RateLimit-Key and logs decisions
}

func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:         envBool("RATE_LIMIT_ENABLED", true),
		Capacity:        envInt("RATE_LIMIT_CAPACITY", 60),
		RefillEvery:     envDur("RATE_LIMIT_REFILL_EVERY", time.Second),
		AuthCapacity:    envInt("RATE_LIMIT_AUTH_CAPACITY", 10),
		AuthRefillEvery: envDur("RATE_LIMIT_AUTH_REFILL_EVERY", 6*time.Second),
		Prefix:          envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:           envBool("RATE_LIMIT_DEBUG", false),
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.AuthCapacity < 1 {
		cfg.AuthCapacity = 1
	}
	if cfg.RefillEvery <= 0 {
		cfg.RefillEvery = time.Second
	}
	if cfg.AuthRefillEvery <= 0 {
		cfg.AuthRefillEvery = cfg.RefillEvery
	}
	return cfg
}
