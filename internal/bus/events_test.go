package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On(EventLogAppended, func(e Event) {
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: EventLogAppended, Payload: "m1"})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventStateChanged})
	eb.Emit(Event{Type: EventLogCleared})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On(EventSessionError, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventSessionError})
	eb.Off(EventSessionError, id)
	eb.Emit(Event{Type: EventSessionError})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_HandlerIDsUniqueAfterOff(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	a := eb.On("x", func(Event) {})
	b := eb.On("x", func(Event) {})
	eb.Off("x", a)
	c := eb.On("x", func(Event) {})

	if c == b {
		t.Fatalf("handler id %q reused", c)
	}

	var hits int32
	eb.On("x", func(Event) { atomic.AddInt32(&hits, 1) })
	eb.Off("x", b)
	eb.Emit(Event{Type: "x"})
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("removing b should not affect later handlers, hits=%d", hits)
	}
}

func TestEventBus_PanicRecovered(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after int32
	eb.On("x", func(Event) { panic("boom") })
	eb.On("x", func(Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: "x"})
	if atomic.LoadInt32(&after) != 1 {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventBus_Subscribe(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	ch, cancel := eb.Subscribe(EventLogAppended, 2)
	eb.Emit(Event{Type: EventLogAppended, Payload: 1})
	eb.Emit(Event{Type: EventStateChanged})
	eb.Emit(Event{Type: EventLogAppended, Payload: 2})
	eb.Emit(Event{Type: EventLogAppended, Payload: 3}) // dropped, buffer full

	cancel()
	cancel()

	var got []any
	for e := range ch {
		got = append(got, e.Payload)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("unexpected payloads %v", got)
	}

	// Emitting after cancel must not panic on the closed channel.
	eb.Emit(Event{Type: EventLogAppended})
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: "a"})
	eb.Emit(Event{Type: "b"})
	eb.Emit(Event{Type: "a"})

	events := eb.Replay("a", time.Time{})
	if len(events) != 2 {
		t.Errorf("expected 2 'a' events, got %d", len(events))
	}

	allEvents := eb.Replay("*", time.Time{})
	if len(allEvents) != 3 {
		t.Errorf("expected 3 total events, got %d", len(allEvents))
	}
}

func TestEventBus_HistoryBounded(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	for i := 0; i < eb.maxHistory+10; i++ {
		eb.Emit(Event{Type: "tick"})
	}
	if eb.HistoryLen() != eb.maxHistory {
		t.Errorf("expected history capped at %d, got %d", eb.maxHistory, eb.HistoryLen())
	}
}
