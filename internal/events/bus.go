// Package events publishes engine lifecycle events to Redis Streams so
// downstream consumers (audit trails, dashboards, replication) can follow
// what the memory engine is doing without polling it.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event kinds emitted by the engine.
const (
	KindMemoryStored    = "memory_stored"
	KindMemoryDeleted   = "memory_deleted"
	KindMemoryAccessed  = "memory_accessed"
	KindFeedbackApplied = "feedback_applied"
	KindPatternLearned  = "pattern_learned"
	KindDecaySweep      = "decay_sweep"
	KindMemoryEvicted   = "memory_evicted"
)

// Event is one engine lifecycle notification.
type Event struct {
	ID        string            `json:"id,omitempty"`
	Kind      string            `json:"kind"`
	Subject   string            `json:"subject"` // memory id, pattern signature, etc.
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Bus is the engine's event sink. A nil *Bus is a valid no-op sink so the
// engine never branches on whether events are configured.
type Bus struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

const defaultStream = "synapse:events"

// NewBus connects to Redis and verifies the connection.
func NewBus(redisURL, stream string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = defaultStream
	}
	return &Bus{rdb: rdb, stream: stream, logger: logger}, nil
}

// Publish appends an event to the stream. Publishing never blocks engine
// progress on correctness: failures are logged and swallowed.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("marshal event", zap.Error(err))
		return
	}
	if _, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result(); err != nil {
		b.logger.Warn("publish event",
			zap.String("kind", ev.Kind),
			zap.Error(err))
		return
	}
	b.logger.Debug("published event",
		zap.String("kind", ev.Kind),
		zap.String("subject", ev.Subject))
}

// Subscribe tails the event stream from now on. Cancel the context to stop;
// the returned channel closes when the reader exits.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ev.ID = msg.ID
						select {
						case ch <- ev:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.rdb.Close()
}
