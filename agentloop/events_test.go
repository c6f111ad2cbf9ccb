package agentloop

import "testing"

func TestEventEmitterOrderAndUnsubscribe(t *testing.T) {
	em := NewEventEmitter("s1")
	var order []string
	unsubA := em.Subscribe(func(ev SessionEvent) { order = append(order, "a:"+string(ev.Kind)) })
	em.Subscribe(func(ev SessionEvent) { order = append(order, "b:"+string(ev.Kind)) })

	em.Emit(EventUserInput, map[string]interface{}{"content": "hi"})
	unsubA()
	em.Emit(EventTurnComplete, nil)

	want := []string{"a:user_input", "b:user_input", "b:turn_complete"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestEventEmitterClose(t *testing.T) {
	em := NewEventEmitter("s1")
	n := 0
	em.Subscribe(func(SessionEvent) { n++ })
	em.Close()
	em.Close()
	em.Emit(EventWarning, nil)
	if n != 0 {
		t.Errorf("delivered %d events after Close", n)
	}
}

func TestSessionEventAccessors(t *testing.T) {
	ev := SessionEvent{Data: map[string]interface{}{
		"tool":     "read_file",
		"limit":    10,
		"is_error": true,
	}}
	if ev.String("tool") != "read_file" || ev.String("limit") != "10" || ev.String("missing") != "" {
		t.Errorf("String accessors: %q %q", ev.String("tool"), ev.String("limit"))
	}
	if !ev.Bool("is_error") || ev.Bool("tool") {
		t.Error("Bool accessor")
	}
}
