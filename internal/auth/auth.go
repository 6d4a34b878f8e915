// Package auth проверяет, что предъявленный токен выдан этому пользователю.
// Сами токены выпускает внешний сервис авторизации.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var ErrUnauthorized = errors.New("unauthorized")

// TokenKeyPrefix - префикс ключей, под которыми сервис авторизации хранит токены
const TokenKeyPrefix = "auth:token:"

type Verifier interface {
	Verify(ctx context.Context, token, userID string) error
}

// AllowAll пропускает любой токен. Только для локальной разработки
type AllowAll struct{}

func (AllowAll) Verify(context.Context, string, string) error { return nil }

type tokenGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisVerifier ищет владельца токена по ключу auth:token:<token>
type RedisVerifier struct {
	client tokenGetter
	prefix string
	log    *slog.Logger
}

func NewRedisVerifier(client tokenGetter) *RedisVerifier {
	return &RedisVerifier{
		client: client,
		prefix: TokenKeyPrefix,
		log:    slog.Default().With("component", "auth"),
	}
}

// ConnectRedis открывает клиент Redis по URL и проверяет соединение
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// Ensure interface compliance at compile time
var _ Verifier = (*RedisVerifier)(nil)

func (v *RedisVerifier) Verify(ctx context.Context, token, userID string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrUnauthorized)
	}

	owner, err := v.client.Get(ctx, v.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	if err != nil {
		v.log.Error("Token lookup failed", "error", err)
		return fmt.Errorf("redis: get token: %w", err)
	}
	if owner != userID {
		return fmt.Errorf("%w: token belongs to another user", ErrUnauthorized)
	}
	return nil
}
