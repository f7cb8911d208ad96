package event

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler consumes one event. Handlers run on the event loop and must not
// block on I/O.
type Handler func(Event)

// TimerID identifies a scheduled callback for cancellation. Zero is never a
// valid id.
type TimerID uint64

// Bus dispatches events to subscribers and schedules recurring callbacks
// onto the same logical processing context.
type Bus struct {
	handlers map[Kind][]Handler

	posted chan func()
	done   chan struct{}

	timerMu sync.Mutex
	timerID TimerID
	timers  map[TimerID]*time.Timer
	closed  bool
}

// NewBus creates a bus. Subscribe before calling Run.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		posted:   make(chan func(), 512),
		done:     make(chan struct{}),
		timers:   make(map[TimerID]*time.Timer),
	}
}

// Subscribe registers a handler for one event kind. Not safe to call once
// the loop is running.
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Emit dispatches an event synchronously to all subscribers, in subscription
// order. Must only be called from the event loop context.
func (b *Bus) Emit(e Event) {
	for _, handler := range b.handlers[e.Kind()] {
		handler(e)
	}
}

// Post hands an event from another goroutine to the event loop.
func (b *Bus) Post(e Event) {
	b.Invoke(func() { b.Emit(e) })
}

// Invoke runs fn on the event loop. Work posted after the loop has shut
// down is dropped along with the session; Invoke never blocks on a bus
// that has stopped draining.
func (b *Bus) Invoke(fn func()) {
	select {
	case b.posted <- fn:
	case <-b.done:
		logrus.Debug("Dropped event posted after bus shutdown")
	}
}

// Run drains posted work until the context is cancelled. It is the single
// logical event-processing context; all registry and queue mutation happens
// inside it.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case fn := <-b.posted:
			fn()
		case <-ctx.Done():
			b.shutdown()
			return
		}
	}
}

func (b *Bus) shutdown() {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()

	for id, timer := range b.timers {
		timer.Stop()
		delete(b.timers, id)
	}

	b.closed = true
	close(b.done)
}

// Schedule runs fn on the event loop after delay, rescheduling forever when
// repeat is set. The returned id cancels it.
func (b *Bus) Schedule(delay time.Duration, repeat bool, fn func()) TimerID {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()

	if b.closed {
		return 0
	}

	b.timerID++
	id := b.timerID

	var fire func()
	fire = func() {
		b.Invoke(fn)

		b.timerMu.Lock()
		defer b.timerMu.Unlock()

		if _, alive := b.timers[id]; !alive {
			return
		}

		if repeat && !b.closed {
			b.timers[id] = time.AfterFunc(delay, fire)
		} else {
			delete(b.timers, id)
		}
	}

	b.timers[id] = time.AfterFunc(delay, fire)
	return id
}

// CancelScheduled stops a scheduled callback. Cancelling an unknown or
// already-fired id is a no-op.
func (b *Bus) CancelScheduled(id TimerID) {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()

	if timer, ok := b.timers[id]; ok {
		timer.Stop()
		delete(b.timers, id)
	}
}
