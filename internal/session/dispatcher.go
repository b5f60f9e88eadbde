package session

import (
	"log/slog"
	"sync"
)

// dispatcher is a serial func queue drained by a single goroutine. Session
// state and the message log are only touched from inside queued funcs.
// The queue is unbounded so posting never blocks the receive loop.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	logger *slog.Logger

	// inline serializes funcs run by call after the loop has exited.
	inline sync.Mutex
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.loop()
	return d
}

// post enqueues fn and returns immediately. It reports false once the
// dispatcher is closed.
func (d *dispatcher) post(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the dispatcher and waits for it. Must not be used from
// inside a queued func.
func (d *dispatcher) call(fn func()) {
	finished := make(chan struct{})
	if d.post(func() {
		defer close(finished)
		fn()
	}) {
		<-finished
		return
	}
	<-d.done
	d.inline.Lock()
	defer d.inline.Unlock()
	fn()
}

// close stops accepting work, drains what is queued and waits for the loop.
func (d *dispatcher) close() {
	d.shutdown()
	<-d.done
}

// shutdown stops accepting work and lets the loop drain in the background.
// Safe to call from a queued func.
func (d *dispatcher) shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range batch {
			d.run(fn)
		}
	}
}

func (d *dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("session dispatcher panic", "panic", r)
		}
	}()
	fn()
}
