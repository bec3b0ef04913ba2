package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/redis/go-redis/v9"
)

const timerKeyPrefix = "presence:ttl:"

// consumeScript removes a timer only while its score is still at or below
// the sweep's asOf, so a timer refreshed after it was listed survives.
var consumeScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) <= tonumber(ARGV[2]) then
	return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

// RedisTimerRepository keeps one sorted set per timer kind. Members are user
// ids and scores are expiry times in unix milliseconds.
type RedisTimerRepository struct {
	client *redis.Client
}

func NewRedisTimerRepository(client *redis.Client) *RedisTimerRepository {
	return &RedisTimerRepository{client: client}
}

func (r *RedisTimerRepository) Set(ctx context.Context, kind models.TimerKind, userID uuid.UUID, expiresAt time.Time) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	err := r.client.ZAdd(ctx, timerKey(kind), redis.Z{
		Score:  float64(expiresAt.UnixMilli()),
		Member: userID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to set %s timer: %w", kind, err)
	}
	return nil
}

func (r *RedisTimerRepository) SetIfAbsent(ctx context.Context, kind models.TimerKind, userID uuid.UUID, expiresAt time.Time) (bool, error) {
	if err := checkKind(kind); err != nil {
		return false, err
	}
	added, err := r.client.ZAddNX(ctx, timerKey(kind), redis.Z{
		Score:  float64(expiresAt.UnixMilli()),
		Member: userID.String(),
	}).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set %s timer: %w", kind, err)
	}
	return added > 0, nil
}

func (r *RedisTimerRepository) Clear(ctx context.Context, kind models.TimerKind, userID uuid.UUID) error {
	if err := r.client.ZRem(ctx, timerKey(kind), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to clear %s timer: %w", kind, err)
	}
	return nil
}

func (r *RedisTimerRepository) IsActive(ctx context.Context, kind models.TimerKind, userID uuid.UUID, asOf time.Time) (bool, error) {
	score, err := r.client.ZScore(ctx, timerKey(kind), userID.String()).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s timer: %w", kind, err)
	}
	return int64(score) > asOf.UnixMilli(), nil
}

func (r *RedisTimerRepository) ListExpired(ctx context.Context, kind models.TimerKind, asOf time.Time) ([]uuid.UUID, error) {
	members, err := r.client.ZRangeByScore(ctx, timerKey(kind), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(asOf.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired %s timers: %w", kind, err)
	}

	users := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			// Not ours; drop it so it is not listed forever.
			r.client.ZRem(ctx, timerKey(kind), m)
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

func (r *RedisTimerRepository) Consume(ctx context.Context, kind models.TimerKind, userID uuid.UUID, asOf time.Time) (bool, error) {
	removed, err := consumeScript.Run(ctx, r.client,
		[]string{timerKey(kind)},
		userID.String(), asOf.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to consume %s timer: %w", kind, err)
	}
	return removed > 0, nil
}

func checkKind(kind models.TimerKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTimerKind, kind)
	}
	return nil
}

// Helper: build Redis key for a timer kind
func timerKey(kind models.TimerKind) string {
	return timerKeyPrefix + string(kind)
}
