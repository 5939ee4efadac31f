package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var ErrNotConfigured = errors.New("redis address is not set")

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a Redis client and verifies it with PING. On failure the client is
// closed and an error returned.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrNotConfigured
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Infof("Successfully connected to Redis at %s: %s", cfg.Addr, pong)
	return client, nil
}
