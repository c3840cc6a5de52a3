// Package pubsub implements the in-process topic bus that connects sensor
// workers, the attention tracker, the load monitor, and downstream consumers.
//
// Delivery is non-blocking best-effort: a subscriber whose buffer is full
// loses that message only, other subscribers are unaffected. Messages from
// one publisher to one subscriber on one topic arrive in publish order.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultBufferSize is the per-subscription channel capacity when Options
// does not set one.
const DefaultBufferSize = 64

const meterName = "sensoria/pubsub"

// ErrBusClosed reports an operation on a closed bus.
var ErrBusClosed = errors.New("pubsub: bus closed")

// Options configures a Bus.
type Options struct {
	// Logger receives drop and teardown events. Defaults to slog.Default().
	Logger *slog.Logger
	// BufferSize is the per-subscription channel capacity.
	// Defaults to DefaultBufferSize.
	BufferSize int
}

// Subscription is one subscriber's handle on a topic. Receive from Messages
// until it is closed by Unsubscribe or Bus.Close.
type Subscription struct {
	id    string
	topic Topic
	ch    chan Message

	dropping atomic.Bool
	dropped  atomic.Int64
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic { return s.topic }

// Messages returns the delivery channel. It is closed on unsubscribe.
func (s *Subscription) Messages() <-chan Message { return s.ch }

// Dropped returns how many messages this subscription has lost to a full
// buffer.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Bus is an in-memory topic fan-out. The zero value is not usable, construct
// with New.
type Bus struct {
	logger  *slog.Logger
	bufSize int

	mu     sync.RWMutex
	topics map[Topic]map[string]*Subscription
	closed bool

	metrics *busMetrics
}

// New constructs a Bus. Instrument creation failures are logged and metrics
// are disabled, the bus itself always works.
func New(opts Options) *Bus {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	b := &Bus{
		logger:  logger,
		bufSize: size,
		topics:  make(map[Topic]map[string]*Subscription),
	}

	metrics, err := newBusMetrics(otel.Meter(meterName))
	if err != nil {
		logger.Warn("pubsub metrics disabled", "error", err)
	} else {
		b.metrics = metrics
	}

	return b
}

// Subscribe registers a new subscription on topic.
func (b *Bus) Subscribe(topic Topic) (*Subscription, error) {
	sub := &Subscription{
		id:    uuid.NewString(),
		topic: topic,
		ch:    make(chan Message, b.bufSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]*Subscription)
		b.topics[topic] = subs
	}

	subs[sub.id] = sub

	if b.metrics != nil {
		b.metrics.subscribers.Add(context.Background(), 1)
	}

	return sub, nil
}

// Unsubscribe removes sub and closes its channel. Unsubscribing an unknown or
// already removed subscription is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}

	if _, ok := subs[sub.id]; !ok {
		return
	}

	delete(subs, sub.id)

	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}

	close(sub.ch)

	if b.metrics != nil {
		b.metrics.subscribers.Add(context.Background(), -1)
	}
}

// Publish delivers msg to every current subscriber of topic. Full subscriber
// buffers drop the message for that subscriber only. Publishing on a closed
// bus is a no-op.
func (b *Bus) Publish(ctx context.Context, topic Topic, msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	subs := b.topics[topic]
	if len(subs) == 0 {
		return
	}

	kindAttr := metric.WithAttributes(attribute.String("kind", msg.Kind()))

	if b.metrics != nil {
		b.metrics.published.Add(ctx, 1, kindAttr)
	}

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
			if sub.dropping.CompareAndSwap(true, false) {
				b.logger.Info("subscriber caught up",
					"topic", string(topic),
					"subscription", sub.id,
					"dropped_total", sub.dropped.Load())
			}
		default:
			sub.dropped.Add(1)

			if b.metrics != nil {
				b.metrics.dropped.Add(ctx, 1, kindAttr)
			}

			if sub.dropping.CompareAndSwap(false, true) {
				b.logger.Warn("subscriber backlogged, dropping messages",
					"topic", string(topic),
					"subscription", sub.id)
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.topics[topic])
}

// Close tears down every subscription and rejects further subscribes.
// Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for topic, subs := range b.topics {
		for _, sub := range subs {
			close(sub.ch)
		}

		delete(b.topics, topic)
	}
}

type busMetrics struct {
	published   metric.Int64Counter
	dropped     metric.Int64Counter
	subscribers metric.Int64UpDownCounter
}

func newBusMetrics(mt metric.Meter) (*busMetrics, error) {
	published, err := mt.Int64Counter("sensoria.pubsub.published",
		metric.WithDescription("Messages accepted for delivery"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.pubsub.published: %w", err)
	}

	dropped, err := mt.Int64Counter("sensoria.pubsub.dropped",
		metric.WithDescription("Messages dropped on full subscriber buffers"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.pubsub.dropped: %w", err)
	}

	subscribers, err := mt.Int64UpDownCounter("sensoria.pubsub.subscribers",
		metric.WithDescription("Live subscriptions"),
		metric.WithUnit("{subscription}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.pubsub.subscribers: %w", err)
	}

	return &busMetrics{published: published, dropped: dropped, subscribers: subscribers}, nil
}
