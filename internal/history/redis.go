package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const redisKeyPrefix = "chat_history:"

// RedisStore keeps one Redis list per user. The list is never trimmed and
// carries no TTL, so a turn's position in the list is its sequence.
type RedisStore struct {
	redis  redis.Cmdable
	tracer trace.Tracer
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	if client == nil {
		panic("history: redis client cannot be nil")
	}
	return &RedisStore{
		redis:  client,
		tracer: otel.Tracer("patientpal.internal.history.redis"),
	}
}

func (s *RedisStore) Append(ctx context.Context, userID string, turn Turn) (Turn, error) {
	turn, err := prepare(userID, turn)
	if err != nil {
		return Turn{}, err
	}
	ctx, span := s.tracer.Start(ctx, "history.redis.append", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	data, err := json.Marshal(turn)
	if err != nil {
		span.RecordError(err)
		return Turn{}, storageError("marshal turn", err)
	}
	length, err := s.redis.RPush(ctx, redisKey(userID), data).Result()
	if err != nil {
		span.RecordError(err)
		return Turn{}, storageError("append turn", err)
	}
	turn.Sequence = length
	return turn, nil
}

func (s *RedisStore) Load(ctx context.Context, userID string) ([]Turn, error) {
	ctx, span := s.tracer.Start(ctx, "history.redis.load", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	raw, err := s.redis.LRange(ctx, redisKey(userID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return nil, storageError("load transcript", err)
	}
	turns := make([]Turn, 0, len(raw))
	for i, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			span.RecordError(err)
			return nil, storageError(fmt.Sprintf("decode turn %d", i+1), err)
		}
		turn.Sequence = int64(i) + 1
		turns = append(turns, turn)
	}
	return turns, nil
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}
