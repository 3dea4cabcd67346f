package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventStream is the Redis stream hub events are appended to.
const EventStream = "jarvis:events"

// Event types.
const (
	EventRequest = "request"
	EventBreaker = "breaker"
	EventReload  = "reload"
)

// Event is one entry on the hub event stream.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Skill     string    `json:"skill,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
	LatencyMS float64   `json:"latency_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink accepts events without blocking the caller.
type EventSink interface {
	Emit(e *Event)
}

// EventBus publishes hub events to a Redis stream. Emit queues and returns
// immediately; a background worker started by Start does the XADD.
type EventBus struct {
	rdb     *redis.Client
	stream  string
	maxLen  int64
	queue   chan *Event
	dropped atomic.Int64
	wg      sync.WaitGroup
	stop    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

// NewEventBus connects to redisURL and returns a bus on EventStream.
func NewEventBus(redisURL string, logger *zap.Logger) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewEventBusWithClient(rdb, logger), nil
}

// NewEventBusWithClient wraps an existing client.
func NewEventBusWithClient(rdb *redis.Client, logger *zap.Logger) *EventBus {
	return &EventBus{
		rdb:    rdb,
		stream: EventStream,
		maxLen: 10000,
		queue:  make(chan *Event, 256),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// Start runs the publishing worker until ctx ends or Close is called.
// Either way queued events are flushed before it exits.
func (b *EventBus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				b.drain()
				return
			case <-b.stop:
				b.drain()
				return
			case e := <-b.queue:
				b.publishLogged(e)
			}
		}
	}()
}

func (b *EventBus) drain() {
	for {
		select {
		case e := <-b.queue:
			b.publishLogged(e)
		default:
			return
		}
	}
}

func (b *EventBus) publishLogged(e *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Publish(ctx, e); err != nil {
		b.logger.Warn("publish event failed", zap.String("type", e.Type), zap.Error(err))
	}
}

// Emit queues e for publishing. When the queue is full the event is dropped.
func (b *EventBus) Emit(e *Event) {
	select {
	case b.queue <- e:
	default:
		if n := b.dropped.Add(1); n%100 == 1 {
			b.logger.Warn("event queue full, dropping events", zap.Int64("dropped", n))
		}
	}
}

// Dropped returns how many events Emit discarded.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// Publish appends e to the stream synchronously.
func (b *EventBus) Publish(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": e.Type,
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.stream, err)
	}
	b.logger.Debug("published event", zap.String("type", e.Type), zap.String("skill", e.Skill))
	return nil
}

// Subscribe tails the stream starting after from ("$" or empty for new
// entries only). The channel closes when ctx ends.
func (b *EventBus) Subscribe(ctx context.Context, from string) <-chan *Event {
	ch := make(chan *Event, 16)
	lastID := from
	if lastID == "" {
		lastID = "$"
	}

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Debug("xread", zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(500 * time.Millisecond):
					}
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
					var e Event
					if json.Unmarshal([]byte(data), &e) != nil {
						continue
					}
					select {
					case ch <- &e:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close stops the worker after flushing queued events and closes the Redis
// connection.
func (b *EventBus) Close() error {
	b.once.Do(func() { close(b.stop) })
	b.wg.Wait()
	b.drain()
	return b.rdb.Close()
}
