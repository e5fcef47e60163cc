package cache

import "ragcore/internal/config"

// New builds the production cache composition: an always-present
// in-process tier, optionally backed by a shared Redis tier when
// REDIS_ADDR is configured. A Redis outage at startup degrades to the
// in-memory tier alone rather than failing the process.
func New(cfg config.CacheConfig) (Store, error) {
	local := NewMemoryStore()
	remote, err := NewRedisStore(RedisConfig{
		Addr:                  cfg.RedisAddr,
		Password:              cfg.RedisPassword,
		DB:                    cfg.RedisDB,
		TLSInsecureSkipVerify: cfg.RedisInsecureSkipVerify,
	})
	if err != nil {
		return local, err
	}
	if remote == nil {
		return local, nil
	}
	return NewTieredStore(local, remote), nil
}
