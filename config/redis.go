package config

import (
	"github.com/redis/go-redis/v9"
)

// ToOptions converts the redis section to go-redis client options.
func (r *RedisConfig) ToOptions() *redis.Options {
	return &redis.Options{
		Addr:         r.Address,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}
}
