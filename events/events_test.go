package events

import "testing"

func TestExternalSubscriberHidesSubagentEvents(t *testing.T) {
	r := NewRouter()
	ext := r.SubscribeExternal("front-end")

	r.Emit(Event{Kind: ToolCallStart, SessionID: "s1", Parent: &ParentInfo{ParentSessionID: "s0"}})
	r.Emit(Event{Kind: ToolCallStart, SessionID: "s1"})

	select {
	case ev := <-ext:
		if ev.Parent != nil {
			t.Fatalf("external subscriber received a subagent-internal event")
		}
	default:
		t.Fatalf("expected one event for external subscriber")
	}

	select {
	case <-ext:
		t.Fatalf("expected only one event delivered")
	default:
	}
}

func TestInternalSubscriberSeesEverything(t *testing.T) {
	r := NewRouter()
	internal := r.SubscribeInternal("logger")

	r.Emit(Event{Kind: ToolCallStart, SessionID: "s1", Parent: &ParentInfo{ParentSessionID: "s0"}})

	select {
	case ev := <-internal:
		if ev.Parent == nil {
			t.Fatalf("expected parent info to survive for internal subscriber")
		}
	default:
		t.Fatalf("expected an event")
	}
}

func TestTextChunkDedupForExternalSubscribers(t *testing.T) {
	r := NewRouter()
	ext := r.SubscribeExternal("front-end")

	ev := Event{Kind: TextChunk, SessionID: "s1", TurnID: "t1", Data: map[string]any{"text": "hi"}}
	r.Emit(ev)
	r.Emit(ev)

	count := 0
	for {
		select {
		case <-ext:
			count++
		default:
			if count != 1 {
				t.Fatalf("expected exactly one delivered TextChunk, got %d", count)
			}
			return
		}
	}
}

func TestCriticalNeverDroppedUnderBackpressure(t *testing.T) {
	r := NewRouter()
	ext := r.SubscribeExternal("front-end")

	for i := 0; i < queueCapacity+10; i++ {
		r.Emit(Event{Kind: TextChunk, Priority: Low, SessionID: "s1", TurnID: "t1", Data: map[string]any{"text": "x" + string(rune(i))}})
	}
	r.Emit(Event{Kind: DialogTurnFailed, Priority: Critical, SessionID: "s1", TurnID: "t1"})

	sawCritical := false
	for {
		select {
		case ev := <-ext:
			if ev.Kind == DialogTurnFailed {
				sawCritical = true
			}
		default:
			if !sawCritical {
				t.Fatalf("expected the Critical event to survive back-pressure")
			}
			return
		}
	}
}
