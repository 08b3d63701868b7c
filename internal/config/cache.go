package config

import "time"

// CacheConfig tunes the Redis response cache on the public catalogue
// routes.  Only GET responses are cached, keyed by route and query,
// so the only knobs that matter are lifetime, namespace and how large
// a body is worth storing.
type CacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads the CACHE_* environment variables.  The 30s
// default TTL keeps the program listings near-live while absorbing
// browse bursts; entries above one megabyte are not worth the Redis
// memory.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		TTL:          envDur("CACHE_TTL", 30*time.Second),
		Prefix:       envStr("CACHE_PREFIX", "cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
}
