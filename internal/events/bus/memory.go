package bus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/common/logger"
)

// subscriptionQueueSize bounds each subscriber's pending-event channel.
// Publish drops rather than blocks once a subscriber falls this far behind.
const subscriptionQueueSize = 64

// MemoryEventBus implements EventBus over the closed EventType set. Each
// subscription owns a bounded channel drained by a single goroutine, so a
// subscriber always observes events in publish order and a slow subscriber
// never back-pressures the publisher.
type MemoryEventBus struct {
	subscriptions map[string][]*memorySubscription
	mu            sync.RWMutex
	logger        *logger.Logger
	closed        bool
}

// memorySubscription is one subject subscription. Publish enqueues onto ch;
// a dedicated goroutine started in Subscribe drains ch and calls handler,
// which keeps delivery ordered per subscriber without blocking the bus.
type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	handler EventHandler
	ch      chan *Event
	done    chan struct{}
	active  bool
	mu      sync.Mutex
}

// Unsubscribe removes the subscription and stops its consumer goroutine.
func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.mu.Unlock()
	close(s.done)

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if subs, ok := s.bus.subscriptions[s.subject]; ok {
		for i, sub := range subs {
			if sub == s {
				s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return nil
}

// IsValid returns whether the subscription is still active.
func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// consume drains the subscription's queue in order until it is unsubscribed.
func (s *memorySubscription) consume() {
	for {
		select {
		case event := <-s.ch:
			if err := s.handler(context.Background(), event); err != nil {
				s.bus.logger.Error("event handler error",
					zap.String("subject", s.subject),
					zap.Error(err))
			}
		case <-s.done:
			return
		}
	}
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subscriptions: make(map[string][]*memorySubscription),
		logger:        log,
	}
}

// Publish enqueues event onto every subscription whose subject matches
// exactly, plus every SubjectAll subscription. Enqueue is non-blocking: a
// full subscriber queue drops the event rather than stalling the publisher.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subscriptions[subject] {
		b.enqueue(sub, subject, event)
	}
	if subject != SubjectAll {
		for _, sub := range b.subscriptions[SubjectAll] {
			b.enqueue(sub, subject, event)
		}
	}

	b.logger.Debug("published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))

	return nil
}

func (b *MemoryEventBus) enqueue(sub *memorySubscription, subject string, event *Event) {
	sub.mu.Lock()
	active := sub.active
	sub.mu.Unlock()
	if !active {
		return
	}

	select {
	case sub.ch <- event:
	default:
		b.logger.Warn("dropping event for slow subscriber",
			zap.String("subject", subject),
			zap.String("subscriber_subject", sub.subject))
	}
}

// Subscribe creates a subscription to an exact subject, or to SubjectAll for
// every published event regardless of subject.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		handler: handler,
		ch:      make(chan *Event, subscriptionQueueSize),
		done:    make(chan struct{}),
		active:  true,
	}

	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	go sub.consume()

	b.logger.Info("subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

// Close closes the event bus and stops every subscriber's consumer goroutine.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.mu.Lock()
			if sub.active {
				sub.active = false
				close(sub.done)
			}
			sub.mu.Unlock()
		}
	}

	b.subscriptions = make(map[string][]*memorySubscription)

	b.logger.Info("memory event bus closed")
}

// IsConnected returns true for as long as the bus hasn't been closed.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}
