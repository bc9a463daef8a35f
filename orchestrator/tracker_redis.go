package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	trackedKeyPrefix = "therapyledger:booking:"
	unsettledSetKey  = "therapyledger:bookings:unsettled"
	// DefaultTrackerTTL is how long a tracked booking is kept after its last update.
	DefaultTrackerTTL = 7 * 24 * time.Hour
)

// RedisTracker stores tracked bookings in Redis as JSON, with an index set of
// unsettled provisional IDs.
type RedisTracker struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) (*RedisTracker, error) {
	if client == nil {
		return nil, errors.New("orchestrator: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTrackerTTL
	}
	return &RedisTracker{
		redis:  client,
		tracer: otel.Tracer("therapyledger.orchestrator.tracker"),
		ttl:    ttl,
	}, nil
}

func trackedKey(provisionalID string) string {
	return trackedKeyPrefix + provisionalID
}

func (t *RedisTracker) Save(ctx context.Context, b *TrackedBooking) error {
	ctx, span := t.tracer.Start(ctx, "orchestrator.tracker.save")
	defer span.End()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal tracked booking: %w", err)
	}
	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, trackedKey(b.ProvisionalID), data, t.ttl)
	if b.Status.Settled() {
		pipe.SRem(ctx, unsettledSetKey, b.ProvisionalID)
	} else {
		pipe.SAdd(ctx, unsettledSetKey, b.ProvisionalID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("orchestrator: save tracked booking %s: %w", b.ProvisionalID, err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, provisionalID string) (*TrackedBooking, error) {
	ctx, span := t.tracer.Start(ctx, "orchestrator.tracker.get")
	defer span.End()

	data, err := t.redis.Get(ctx, trackedKey(provisionalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownReference
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("orchestrator: get tracked booking %s: %w", provisionalID, err)
	}
	var b TrackedBooking
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("orchestrator: decode tracked booking %s: %w", provisionalID, err)
	}
	return &b, nil
}

// Unsettled loads every indexed booking. IDs whose record expired are
// dropped from the index.
func (t *RedisTracker) Unsettled(ctx context.Context) ([]*TrackedBooking, error) {
	ctx, span := t.tracer.Start(ctx, "orchestrator.tracker.unsettled")
	defer span.End()

	ids, err := t.redis.SMembers(ctx, unsettledSetKey).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("orchestrator: list unsettled bookings: %w", err)
	}
	var out []*TrackedBooking
	for _, id := range ids {
		b, err := t.Get(ctx, id)
		if errors.Is(err, ErrUnknownReference) {
			t.redis.SRem(ctx, unsettledSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !b.Status.Settled() {
			out = append(out, b)
		}
	}
	sortByCreation(out)
	return out, nil
}
