package bt

import "testing"

func TestHandlersEmitAndUnsubscribe(t *testing.T) {
	var h Handlers
	var a, b int
	unsubA := h.Subscribe(func(Event) { a++ })
	h.Subscribe(func(Event) { b++ })

	h.Emit(Event{Type: EventDeviceFound})
	unsubA()
	unsubA()
	h.Emit(Event{Type: EventDeviceFound})

	if a != 1 || b != 2 {
		t.Errorf("deliveries a=%d b=%d, want 1 and 2", a, b)
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
}

func TestHandlersUnsubscribeDuringEmit(t *testing.T) {
	var h Handlers
	var unsub func()
	calls := 0
	unsub = h.Subscribe(func(Event) {
		calls++
		unsub()
	})
	h.Emit(Event{})
	h.Emit(Event{})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestHandlersEmitInSubscriptionOrder(t *testing.T) {
	var h Handlers
	var got []int
	for i := 0; i < 5; i++ {
		h.Subscribe(func(Event) { got = append(got, i) })
	}
	unsub := h.Subscribe(func(Event) { got = append(got, -1) })
	h.Subscribe(func(Event) { got = append(got, 5) })
	unsub()

	for i := 0; i < 3; i++ {
		h.Emit(Event{})
	}
	if len(got) != 18 {
		t.Fatalf("deliveries = %d, want 18", len(got))
	}
	for i, v := range got {
		if v != i%6 {
			t.Fatalf("delivery %d went to handler %d, want %d", i, v, i%6)
		}
	}
}
