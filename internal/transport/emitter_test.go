package transport

import (
	"errors"
	"sync"
	"testing"
)

func TestEmitterDeliversInOrder(t *testing.T) {
	e := NewEmitter(4)

	e.Emit(Event{Kind: EventOpen})
	e.Emit(Event{Kind: EventMessage, Data: []byte("a")})
	e.Close(nil)

	var kinds []EventKind
	for ev := range e.Events() {
		kinds = append(kinds, ev.Kind)
	}

	if len(kinds) != 2 || kinds[0] != EventOpen || kinds[1] != EventMessage {
		t.Errorf("Expected [open message], got %v", kinds)
	}
}

func TestEmitterCloseIsIdempotent(t *testing.T) {
	e := NewEmitter(1)
	cause := errors.New("ice failed")

	e.Close(cause)
	e.Close(nil)

	if !errors.Is(e.Err(), cause) {
		t.Errorf("Expected first close error to stick, got %v", e.Err())
	}
	if e.Emit(Event{Kind: EventMessage}) {
		t.Error("Emit after close must report false")
	}
}

func TestEmitterCloseUnblocksEmitters(t *testing.T) {
	e := NewEmitter(1)
	e.Emit(Event{Kind: EventOpen})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Emit(Event{Kind: EventMessage})
		}()
	}

	e.Close(nil)
	wg.Wait()
}

func TestEventKindString(t *testing.T) {
	if EventOpen.String() != "open" || EventMessage.String() != "message" || EventError.String() != "error" {
		t.Error("Unexpected event kind names")
	}
	if EventKind(42).String() != "unknown" {
		t.Error("Expected unknown for out of range kind")
	}
}
