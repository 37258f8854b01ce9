package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/marketplace/internal/core/domain"
)

const (
	cartKeyPrefix     = "cart:"
	idempotencyPrefix = "idempotency:"
	idempotencyKeyTTL = 24 * time.Hour
)

var takeCartScript = redis.NewScript(`
local lines = redis.call('HGETALL', KEYS[1])
redis.call('DEL', KEYS[1])
return lines
`)

var restoreCartScript = redis.NewScript(`
for i = 1, #ARGV, 2 do
	redis.call('HSETNX', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// RedisAdapter keeps carts as one hash per user (product ID -> quantity)
// and checkout idempotency keys.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: idempotencyKeyTTL}
}

// WithIdempotencyTTL overrides how long checkout keys are remembered.
func (r *RedisAdapter) WithIdempotencyTTL(ttl time.Duration) *RedisAdapter {
	if ttl > 0 {
		r.ttl = ttl
	}
	return r
}

func cartKey(userID int64) string {
	return cartKeyPrefix + strconv.FormatInt(userID, 10)
}

func (r *RedisAdapter) UpsertLine(ctx context.Context, userID, productID int64, quantity int) error {
	return r.client.HSet(ctx, cartKey(userID), strconv.FormatInt(productID, 10), quantity).Err()
}

func (r *RedisAdapter) RemoveLine(ctx context.Context, userID, productID int64) error {
	return r.client.HDel(ctx, cartKey(userID), strconv.FormatInt(productID, 10)).Err()
}

func (r *RedisAdapter) Lines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	fields, err := r.client.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	lines := make([]domain.CartLine, 0, len(fields))
	for f, v := range fields {
		line, err := parseLine(f, v)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return domain.SortLines(lines), nil
}

func (r *RedisAdapter) TakeLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	flat, err := takeCartScript.Run(ctx, r.client, []string{cartKey(userID)}).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("malformed cart hash for user %d", userID)
	}
	lines := make([]domain.CartLine, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		line, err := parseLine(flat[i], flat[i+1])
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return domain.SortLines(lines), nil
}

func (r *RedisAdapter) RestoreLines(ctx context.Context, userID int64, lines []domain.CartLine) error {
	if len(lines) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(lines)*2)
	for _, l := range lines {
		args = append(args, strconv.FormatInt(l.ProductID, 10), l.Quantity)
	}
	return restoreCartScript.Run(ctx, r.client, []string{cartKey(userID)}, args...).Err()
}

func parseLine(field, value string) (domain.CartLine, error) {
	productID, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("parse cart product %q: %w", field, err)
	}
	quantity, err := strconv.Atoi(value)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("parse cart quantity %q: %w", value, err)
	}
	return domain.CartLine{ProductID: productID, Quantity: quantity}, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyPrefix+key).Err()
}
