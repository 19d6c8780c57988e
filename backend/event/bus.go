// Package event provides an in-process asynchronous event bus used to fan
// task lifecycle notifications out to observers such as the CLI frontend.
package event

import (
	"context"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Event is a marker interface that all events must implement.
type Event[T any] interface {
	Event()
}

// Handler is called asynchronously for each published event of type T.
type Handler[T any] func(context.Context, T)

// Filter decides whether a subscriber receives a given event.
type Filter[T any] func(T) bool

const (
	workerCount   = 8
	workQueueSize = 256
)

type Bus struct {
	ctx         context.Context
	cancel      context.CancelFunc
	subscribers map[reflect.Type][]subscriber
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closed      atomic.Bool

	workQueue chan workItem

	metrics *busMetrics
}

type workItem struct {
	event     any
	eventType string
	invoke    func(context.Context, any)
}

// subscriber represents either a handler function or a channel subscriber.
type subscriber struct {
	id      uuid.UUID
	invoke  func(context.Context, any)
	channel any
}

type Subscription struct {
	bus       *Bus
	eventType reflect.Type
	id        uuid.UUID
	once      sync.Once
}

// NewBus creates a bus with a fixed worker pool. A nil registry disables
// metrics.
func NewBus(registry *prometheus.Registry) *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	bus := &Bus{
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[reflect.Type][]subscriber),
		workQueue:   make(chan workItem, workQueueSize),
		metrics:     newBusMetrics(registry),
	}

	for range workerCount {
		bus.wg.Add(1)
		go bus.worker()
	}

	return bus
}

func (bus *Bus) worker() {
	defer bus.wg.Done()

	for {
		select {
		case <-bus.ctx.Done():
			return
		case item := <-bus.workQueue:
			bus.deliver(item)
		}
	}
}

func (bus *Bus) deliver(item workItem) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(bus.ctx, "panic in event handler",
				"error", r,
				"event_type", item.eventType,
				"stack", string(debug.Stack()),
			)
		}
	}()

	item.invoke(bus.ctx, item.event)
	bus.metrics.delivered(item.eventType)
}

// Subscribe registers a handler for events of type T. The handler runs on the
// bus worker pool. A nil filter matches every event.
func Subscribe[T Event[T]](bus *Bus, handler Handler[T], filter Filter[T]) *Subscription {
	if bus.closed.Load() {
		slog.WarnContext(bus.ctx, "subscribe on closed event bus")
		return &Subscription{bus: bus}
	}

	var zero T
	eventType := reflect.TypeOf(zero)

	if filter == nil {
		filter = func(T) bool { return true }
	}

	id := uuid.New()
	sub := subscriber{
		id: id,
		invoke: func(ctx context.Context, event any) {
			if typed, ok := event.(T); ok && filter(typed) {
				handler(ctx, typed)
			}
		},
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subscribers[eventType] = append(bus.subscribers[eventType], sub)

	return &Subscription{bus: bus, eventType: eventType, id: id}
}

// SubscribeChannel returns a buffered channel receiving all events of type T.
// Events are dropped rather than blocking publishers when the buffer is full.
// Unsubscribe closes the channel.
func SubscribeChannel[T Event[T]](bus *Bus, bufferSize int, filter Filter[T]) (<-chan T, *Subscription) {
	if bus.closed.Load() {
		slog.WarnContext(bus.ctx, "subscribe on closed event bus")
		ch := make(chan T)
		close(ch)
		return ch, &Subscription{bus: bus}
	}

	var zero T
	eventType := reflect.TypeOf(zero)
	eventTypeName := eventType.String()

	ch := make(chan T, bufferSize)
	id := uuid.New()

	if filter == nil {
		filter = func(T) bool { return true }
	}

	sub := subscriber{
		id:      id,
		channel: ch,
		invoke: func(ctx context.Context, event any) {
			typed, ok := event.(T)
			if !ok || !filter(typed) {
				return
			}
			select {
			case ch <- typed:
			default:
				bus.metrics.dropped(eventTypeName)
				slog.DebugContext(ctx, "dropped event, full channel buffer",
					"event_type", eventTypeName,
					"subscriber_id", id,
				)
			}
		},
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subscribers[eventType] = append(bus.subscribers[eventType], sub)

	return ch, &Subscription{bus: bus, eventType: eventType, id: id}
}

// Unsubscribe removes the subscription. For channel subscriptions it also
// closes the channel. Safe to call multiple times.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		if s.bus.closed.Load() {
			return
		}

		subs := s.bus.subscribers[s.eventType]
		for i, sub := range subs {
			if sub.id == s.id {
				s.bus.subscribers[s.eventType] = append(subs[:i], subs[i+1:]...)
				if sub.channel != nil {
					reflect.ValueOf(sub.channel).Close()
				}
				break
			}
		}
	})
}

// Publish queues an event for asynchronous delivery to every subscriber of
// its type. Publishing never blocks: when the work queue is full the delivery
// is dropped and counted.
func Publish[T Event[T]](bus *Bus, event T) {
	if bus.closed.Load() {
		return
	}

	eventType := reflect.TypeOf(event)
	eventTypeName := eventType.String()

	bus.mu.RLock()
	subs := bus.subscribers[eventType]
	subsCopy := make([]subscriber, len(subs))
	copy(subsCopy, subs)
	bus.mu.RUnlock()

	for _, sub := range subsCopy {
		item := workItem{
			event:     event,
			eventType: eventTypeName,
			invoke:    sub.invoke,
		}

		select {
		case bus.workQueue <- item:
		case <-bus.ctx.Done():
			return
		default:
			bus.metrics.dropped(eventTypeName)
			slog.DebugContext(bus.ctx, "dropped event, full work queue",
				"event_type", eventTypeName,
			)
		}
	}

	bus.metrics.published(eventTypeName)
}

// Close shuts the bus down, waits for in-flight deliveries, and closes all
// channel subscriptions. Safe to call multiple times.
func (bus *Bus) Close() {
	if !bus.closed.CompareAndSwap(false, true) {
		return
	}

	bus.cancel()
	bus.wg.Wait()

	bus.mu.Lock()
	defer bus.mu.Unlock()

	for _, subs := range bus.subscribers {
		for _, sub := range subs {
			if sub.channel != nil {
				reflect.ValueOf(sub.channel).Close()
			}
		}
	}
	bus.subscribers = make(map[reflect.Type][]subscriber)
}
