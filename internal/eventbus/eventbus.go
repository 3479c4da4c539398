// Package eventbus fans out subcog lifecycle events (capture, update,
// delete, retrieval, sync) to independent subscribers over a closed
// in-process event taxonomy.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/subcog/subcog/internal/models"
)

const defaultSubscriberBuffer = 64

// Bus fans out MemoryEvent values to subscriber channels. Each subscriber
// gets its own bounded channel; a subscriber that falls behind is never
// blocked on nor silently dropped for — it instead receives a single
// EventLagged event summarizing how many prior events it missed.
type Bus struct {
	mu          sync.Mutex
	subs        map[int]*subscriber
	nextID      int
	bufferSize  int
	logger      *zap.Logger
	closed      bool
}

type subscriber struct {
	ch      chan models.MemoryEvent
	skipped int
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a logger for debug output (publish/drop events).
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithBufferSize overrides the per-subscriber channel buffer (default 64).
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// New constructs a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[int]*subscriber),
		bufferSize: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is a handle returned by Subscribe. Events arrives are
// delivered on C until Unsubscribe is called or the Bus is closed.
type Subscription struct {
	id  int
	C   <-chan models.MemoryEvent
	bus *Bus
}

// Unsubscribe stops delivery to this subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a new subscriber and returns its Subscription. The
// returned channel is buffered; if the subscriber doesn't keep up, Publish
// records the number of skipped events and delivers a single EventLagged
// event in its place once room frees up, rather than blocking publishers.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan models.MemoryEvent, b.bufferSize)}
	b.subs[id] = sub

	return &Subscription{id: id, C: sub.ch, bus: b}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

// Publish delivers event to every current subscriber. Publish never blocks:
// a subscriber whose channel is full has its skip counter incremented
// instead, and a later successful send is preceded by a single EventLagged
// event carrying the accumulated skip count.
func (b *Bus) Publish(ctx context.Context, event models.MemoryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, sub := range b.subs {
		b.deliver(id, sub, event)
	}
}

// deliver sends event to sub, first flushing a pending EventLagged signal
// if sub has accumulated skips. Caller must hold b.mu.
func (b *Bus) deliver(id int, sub *subscriber, event models.MemoryEvent) {
	if sub.skipped > 0 {
		lagged := models.MemoryEvent{Kind: models.EventLagged, Meta: event.Meta, Skipped: sub.skipped}
		select {
		case sub.ch <- lagged:
			sub.skipped = 0
		default:
			sub.skipped++
			if b.logger != nil {
				b.logger.Debug("eventbus: subscriber still lagging, dropping lag notice",
					zap.Int("subscriber", id), zap.Int("skipped", sub.skipped))
			}
			return
		}
	}

	select {
	case sub.ch <- event:
	default:
		sub.skipped++
		if b.logger != nil {
			b.logger.Debug("eventbus: subscriber buffer full, event skipped",
				zap.Int("subscriber", id), zap.String("kind", string(event.Kind)), zap.Int("skipped", sub.skipped))
		}
	}
}

// Close unsubscribes and closes every subscriber channel. The Bus rejects
// further Publish calls after Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// SubscriberCount reports the current number of live subscribers, mainly
// for diagnostics and tests.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
