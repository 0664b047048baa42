package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/pkg/circuitbreaker"
	"roomrelay/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisPubSub is the subset of the redis client the event bus needs.
type redisPubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// subscription is the part of *redis.PubSub Subscribe reads from.
type subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// EventBus publishes room lifecycle events to a redis channel so other
// instances and external consumers can follow room activity. Publishing
// never blocks the room service: events go through a bounded queue and are
// dropped when it is full.
type EventBus struct {
	client     redisPubSub
	channel    string
	instanceID string
	queue      chan domain.RoomEvent
	dropped    atomic.Int64
	breaker    *circuitbreaker.CircuitBreaker
	subscribe  func(ctx context.Context, channel string) subscription
	logger     *zap.SugaredLogger
}

// NewEventBus creates a new event bus
func NewEventBus(client redisPubSub, channel, instanceID string, queueSize int, logger *zap.SugaredLogger) *EventBus {
	if queueSize <= 0 {
		queueSize = 1
	}
	eb := &EventBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		queue:      make(chan domain.RoomEvent, queueSize),
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
		subscribe: func(ctx context.Context, channel string) subscription {
			return client.Subscribe(ctx, channel)
		},
		logger: logger,
	}
	eb.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Event publishing state changed", "from", from.String(), "to", to.String())
	})
	return eb
}

// Publish enqueues an event. It implements ports.EventPublisher.
func (eb *EventBus) Publish(event domain.RoomEvent) {
	if event.Instance == "" {
		event.Instance = eb.instanceID
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	select {
	case eb.queue <- event:
	default:
		n := eb.dropped.Add(1)
		eb.logger.Warnw("Event queue full, dropping event",
			"type", event.Type,
			"room_id", event.RoomID,
			"dropped_total", n,
		)
	}
}

// Dropped reports how many events were discarded, either because the queue
// was full or because redis kept failing.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Start runs the drain loop on its own context, detached from the caller's
// shutdown signal. Room teardown during shutdown still publishes, so the
// loop must outlive the websocket drain; stop cancels it, waits for the
// final flush and gives up when ctx expires.
func (eb *EventBus) Start() (stop func(ctx context.Context) error) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eb.Run(runCtx)
	}()

	return func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			eb.logger.Infow("Event bus stopped", "dropped_total", eb.Dropped())
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (eb *EventBus) Run(ctx context.Context) error {
	eb.logger.Infow("Event bus started", "channel", eb.channel, "instance", eb.instanceID)
	for {
		select {
		case <-ctx.Done():
			eb.flush()
			return nil
		case event := <-eb.queue:
			err := eb.breaker.Execute(func() error { return eb.send(ctx, event) })
			if errors.Is(err, circuitbreaker.ErrOpen) {
				eb.dropped.Add(1)
				continue
			}
			if err != nil {
				eb.logger.Warnw("Failed to publish event",
					"type", event.Type,
					"room_id", event.RoomID,
					"error", err,
				)
			}
		}
	}
}

// flush publishes whatever is still queued with a short deadline.
func (eb *EventBus) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case event := <-eb.queue:
			if err := eb.send(ctx, event); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (eb *EventBus) send(ctx context.Context, event domain.RoomEvent) error {
	ctx, span := tracing.TraceEventPublish(ctx, event.Type, string(event.RoomID))
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("Published event",
		"type", event.Type,
		"room_id", event.RoomID,
		"participant_id", event.ParticipantID,
	)
	return nil
}

// Subscribe calls handler for every event published by other instances
// until ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(domain.RoomEvent)) error {
	pubsub := eb.subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				eb.logger.Warnw("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if event.Instance == eb.instanceID {
				continue
			}
			handler(event)
		}
	}
}

func decodeEvent(payload string) (domain.RoomEvent, error) {
	var event domain.RoomEvent
	err := json.Unmarshal([]byte(payload), &event)
	return event, err
}
