// Package dispatch fans hub events out to subscribers. Publish never blocks:
// events go onto a bounded queue and a single worker delivers them in
// publish order. A failing or panicking subscriber is logged and skipped.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/germanamz/mediahub/pkg/models"
)

// DefaultQueueSize is the queue capacity when Options.QueueSize is zero.
const DefaultQueueSize = 256

// Kind identifies the channel an event is published on.
type Kind string

const (
	KindAvailability   Kind = "availability"
	KindSessions       Kind = "sessions"
	KindSessionChanged Kind = "session_changed"
	KindLibrary        Kind = "library"
	KindMessage        Kind = "message"
)

// Event is an immutable notification.
type Event struct {
	Kind      Kind
	Type      string // Message type for KindMessage, e.g. "library_changed".
	ServerID  string
	Library   *models.LibraryKey // Set for KindLibrary.
	Timestamp time.Time
	Data      any
}

// Handler consumes one event. A returned error is logged.
type Handler func(ctx context.Context, e Event) error

// Filter selects the events a subscription receives.
type Filter func(e Event) bool

// All matches every event.
func All() Filter { return func(Event) bool { return true } }

// OfKind matches events of one kind.
func OfKind(k Kind) Filter { return func(e Event) bool { return e.Kind == k } }

// AvailabilityOnly matches availability changes.
func AvailabilityOnly() Filter { return OfKind(KindAvailability) }

// ForLibrary matches library updates for one key.
func ForLibrary(key models.LibraryKey) Filter {
	return func(e Event) bool {
		return e.Kind == KindLibrary && e.Library != nil && *e.Library == key
	}
}

// Subscription is a registered handler.
type Subscription struct {
	filter  Filter
	handler Handler
}

// Observer counts dispatch problems. *metrics.Metrics implements it.
type Observer interface {
	EventDropped(kind string)
	SubscriberFailed(kind string)
}

// Options configures a Dispatcher.
type Options struct {
	QueueSize int
	Logger    *slog.Logger
	Observer  Observer
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	logger   *slog.Logger
	observer Observer
	nowFunc  func() time.Time

	mu     sync.RWMutex
	subs   []*Subscription
	queue  chan Event
	closed bool

	// delivering is set while the worker is inside a handler.
	delivering atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Dispatcher and starts its worker. Call Close to stop it.
func New(opts Options) *Dispatcher {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		logger:   logger,
		observer: opts.Observer,
		nowFunc:  time.Now,
		queue:    make(chan Event, size),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go d.run()

	return d
}

// Subscribe registers h for events matching f. A nil filter matches all.
// It is safe to call from inside a handler; the new subscription sees
// events published after the current one.
func (d *Dispatcher) Subscribe(f Filter, h Handler) *Subscription {
	if f == nil {
		f = All()
	}
	sub := &Subscription{filter: f, handler: h}

	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	return sub
}

// Unsubscribe removes sub. It is idempotent and safe inside a handler.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, s := range d.subs {
		if s == sub {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.subs)
}

// Publish enqueues e. It returns false when the event was dropped because
// the queue is full or the dispatcher is closed.
func (d *Dispatcher) Publish(e Event) bool {
	if e.Timestamp.IsZero() {
		e.Timestamp = d.nowFunc()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	select {
	case d.queue <- e:
		return true
	default:
		d.logger.Warn("event queue full, dropping event", "kind", string(e.Kind), "type", e.Type)
		if d.observer != nil {
			d.observer.EventDropped(string(e.Kind))
		}
		return false
	}
}

// Close stops accepting events and delivers everything already queued. It
// waits for the worker to exit unless a handler is running at the time of
// the call: that handler may be the caller, or may be waiting on it, so the
// queue then drains in the background. Use Done to wait for the drain. Close
// is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	if d.delivering.Load() {
		return
	}
	<-d.done
}

// Done is closed once the worker has delivered the last queued event.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) run() {
	defer close(d.done)
	defer d.cancel()

	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	d.mu.RLock()
	subs := make([]*Subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, sub := range subs {
		if !sub.filter(e) {
			continue
		}
		d.delivering.Store(true)
		err := d.call(sub, e)
		d.delivering.Store(false)
		if err != nil {
			d.logger.Error("event subscriber failed", "kind", string(e.Kind), "type", e.Type, "err", err)
			if d.observer != nil {
				d.observer.SubscriberFailed(string(e.Kind))
			}
		}
	}
}

// call runs one handler, turning a panic into an error.
func (d *Dispatcher) call(sub *Subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: subscriber panic: %v", r)
		}
	}()

	return sub.handler(d.ctx, e)
}
