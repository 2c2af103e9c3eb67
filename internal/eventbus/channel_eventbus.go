// Package eventbus publishes interpretation lifecycle events to subscribers.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("event bus is closed")

// ChannelEventBus delivers events from a buffered queue to subscribers on a
// fixed pool of workers.
type ChannelEventBus struct {
	subs   map[string]subscription
	queue  chan queuedEvent
	done   chan struct{}
	closed bool

	wg    sync.WaitGroup
	mutex sync.RWMutex

	bufferSize    int
	workerCount   int
	maxRetries    int
	retryInterval time.Duration
	logger        *zap.Logger
}

// subscription matches every event type when types is nil.
type subscription struct {
	types   map[EventType]struct{}
	handler EventHandler
}

func (s subscription) matches(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// ChannelEventBusOption configures the channel-based event bus
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		if size > 0 {
			eb.bufferSize = size
		}
	}
}

// WithWorkerCount sets the number of event processing workers
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		if count > 0 {
			eb.workerCount = count
		}
	}
}

// WithRetries configures the retry behavior for event handlers
func WithRetries(maxRetries int, retryInterval time.Duration) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.maxRetries = maxRetries
		eb.retryInterval = retryInterval
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(logger *zap.Logger) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		if logger != nil {
			eb.logger = logger
		}
	}
}

// NewChannelEventBus creates a new channel-based event bus and starts its workers.
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		subs:          make(map[string]subscription),
		done:          make(chan struct{}),
		bufferSize:    100,
		workerCount:   5,
		maxRetries:    3,
		retryInterval: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}

	for _, option := range options {
		option(eb)
	}

	eb.queue = make(chan queuedEvent, eb.bufferSize)
	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

func (eb *ChannelEventBus) worker() {
	defer eb.wg.Done()

	for {
		select {
		case <-eb.done:
			return
		case evt := <-eb.queue:
			eb.dispatch(evt)
		}
	}
}

// dispatch snapshots the matching handlers under the read lock so handlers
// may subscribe or unsubscribe without deadlocking.
func (eb *ChannelEventBus) dispatch(evt queuedEvent) {
	if evt.ctx.Err() != nil {
		return
	}

	eb.mutex.RLock()
	var handlers []EventHandler
	for _, sub := range eb.subs {
		if sub.matches(evt.event.Type()) {
			handlers = append(handlers, sub.handler)
		}
	}
	eb.mutex.RUnlock()

	for _, handler := range handlers {
		eb.runHandler(evt.ctx, evt.event, handler)
	}
}

func (eb *ChannelEventBus) runHandler(ctx context.Context, event Event, handler EventHandler) {
	var err error

	for attempt := 0; attempt <= eb.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		if err = handler(ctx, event); err == nil {
			return
		}

		if attempt == eb.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-eb.done:
			return
		case <-time.After(eb.retryInterval):
		}
	}

	eb.logger.Warn("event handler failed",
		zap.String("event_type", string(event.Type())),
		zap.Int("retries", eb.maxRetries),
		zap.Error(err))
}

func (eb *ChannelEventBus) isClosed() bool {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return eb.closed
}

// Publish queues an event for delivery. It blocks only while the buffer is
// full, and gives up when ctx is done or the bus closes.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	if eb.isClosed() {
		return ErrClosed
	}
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-eb.done:
		return ErrClosed
	case eb.queue <- queuedEvent{ctx: ctx, event: event}:
		return nil
	}
}

// Subscribe registers handler for the listed event types.
func (eb *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if len(eventTypes) == 0 {
		return "", errors.New("at least one event type is required")
	}
	types := make(map[EventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}
	return eb.add(subscription{types: types, handler: handler})
}

// SubscribeAll registers handler for every event type.
func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	return eb.add(subscription{handler: handler})
}

func (eb *ChannelEventBus) add(sub subscription) (string, error) {
	if sub.handler == nil {
		return "", errors.New("handler cannot be nil")
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	eb.subs[id] = sub
	return id, nil
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return ErrClosed
	}
	delete(eb.subs, subscriptionID)
	return nil
}

// Close stops the workers. Events still queued are dropped.
func (eb *ChannelEventBus) Close() error {
	eb.mutex.Lock()
	if eb.closed {
		eb.mutex.Unlock()
		return nil
	}
	eb.closed = true
	eb.mutex.Unlock()

	close(eb.done)
	eb.wg.Wait()
	return nil
}
