package bus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// In-process typed pub/sub. Each topic carries one payload type and each
// subscriber owns a buffered channel, so a slow or stuck consumer can never
// couple to publisher timing: a full buffer drops the event for that
// subscriber and is logged, nothing blocks.
// ---------------------------------------------------------------------------

const defaultBuffer = 64

type subscriber[T any] struct {
	name string
	ch   chan T
}

// Topic is a named event stream with a fixed payload type.
type Topic[T any] struct {
	name string
	mu   sync.RWMutex
	subs []*subscriber[T]
}

// NewTopic creates an empty topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers a named consumer and returns its receive channel plus
// a cancel function. buffer <= 0 uses the default.
func (t *Topic[T]) Subscribe(name string, buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &subscriber[T]{name: name, ch: make(chan T, buffer)}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	log.Debug().Str("topic", t.name).Str("subscriber", name).Msg("bus: subscribed")

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s == sub {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber in subscription order and
// returns the number of successful deliveries. Events for subscribers with
// full buffers are dropped and logged.
func (t *Topic[T]) Publish(event T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	delivered := 0
	for _, sub := range t.subs {
		select {
		case sub.ch <- event:
			delivered++
		default:
			log.Warn().
				Str("topic", t.name).
				Str("subscriber", sub.name).
				Msg("bus: subscriber buffer full, event dropped")
		}
	}
	return delivered
}

// SubscriberCount returns the number of active subscribers.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Bus aggregates the system's topics.
type Bus struct {
	TradingSignals  *Topic[TradingSignal]
	PositionUpdates *Topic[PositionUpdate]
	TokenMetrics    *Topic[TokenMetricsSnapshot]
	Transactions    *Topic[Transaction]
}

// New creates a Bus with all topics registered.
func New() *Bus {
	return &Bus{
		TradingSignals:  NewTopic[TradingSignal]("trading_signal"),
		PositionUpdates: NewTopic[PositionUpdate]("position_update"),
		TokenMetrics:    NewTopic[TokenMetricsSnapshot]("token_metrics"),
		Transactions:    NewTopic[Transaction]("transaction"),
	}
}
