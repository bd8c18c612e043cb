package client

import "testing"

func TestEventsSubscribeEmitUnsubscribe(t *testing.T) {
	e := NewEvents()
	var order []string
	unsubA := e.Subscribe(func(ev Event) { order = append(order, "a:"+string(ev.Type)) })
	e.Subscribe(func(ev Event) { order = append(order, "b:"+string(ev.Type)) })

	e.Emit(Event{Type: EventLogout})
	unsubA()
	e.Emit(Event{Type: EventSessionTimeout})

	want := []string{"a:logout", "b:logout", "b:session_timeout"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestNilEventsIsSafe(t *testing.T) {
	var e *Events
	e.Emit(Event{Type: EventLogout})
	e.Subscribe(func(Event) {})()
}
