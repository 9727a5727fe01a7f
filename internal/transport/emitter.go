package transport

import "sync"

// Emitter turns callback-style transport notifications into a Conn event
// stream. Emit never blocks past Close and the stream is closed exactly once.
type Emitter struct {
	mu     sync.RWMutex
	events chan Event
	done   chan struct{}
	closed bool
	once   sync.Once
	err    error
}

func NewEmitter(size int) *Emitter {
	return &Emitter{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Emit queues ev, waiting for room unless the emitter is closed. It reports
// whether the event was queued.
func (e *Emitter) Emit(ev Event) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return false
	}

	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

// Close ends the stream. The first call wins and records err.
func (e *Emitter) Close(err error) {
	e.once.Do(func() {
		close(e.done)

		e.mu.Lock()
		e.closed = true
		e.err = err
		close(e.events)
		e.mu.Unlock()
	})
}

func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

func (e *Emitter) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}
