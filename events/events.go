// ABOUTME: Event queue and router: a priority fan-out with back-pressure that
// ABOUTME: never blocks a producer, dropping Low then Normal events under load.
package events

import (
	"sync"
	"time"
)

// Kind discriminates the type of a lifecycle event. The set matches §4.7's
// required variants.
type Kind string

const (
	SessionStateChanged  Kind = "session_state_changed"
	SessionTitleGenerated Kind = "session_title_generated"

	DialogTurnStarted   Kind = "dialog_turn_started"
	DialogTurnCompleted Kind = "dialog_turn_completed"
	DialogTurnFailed    Kind = "dialog_turn_failed"
	DialogTurnCancelled Kind = "dialog_turn_cancelled"

	ModelRoundStarted   Kind = "model_round_started"
	ModelRoundCompleted Kind = "model_round_completed"

	TextChunk      Kind = "text_chunk"
	ReasoningChunk Kind = "reasoning_chunk"

	ToolCallStart            Kind = "tool_call_start"
	ToolCallProgress         Kind = "tool_call_progress"
	ToolCallComplete         Kind = "tool_call_complete"
	ToolConfirmationRequested Kind = "tool_confirmation_requested"

	TokenUsageUpdated Kind = "token_usage_updated"

	ContextCompressionStarted   Kind = "context_compression_started"
	ContextCompressionCompleted Kind = "context_compression_completed"
	ContextCompressionFailed    Kind = "context_compression_failed"

	Error Kind = "error"
)

// Priority levels; Low is dropped first under back-pressure, then Normal.
// High and Critical are always delivered.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// defaultPriority maps an event Kind to its priority when none is supplied
// explicitly. Failed/cancelled turns, errors and tool-confirmation requests
// are Critical; turn start/completion and session state changes are High;
// everything else, including streaming chunks, is Normal; nothing is Low by
// default (producers opt into Low for purely cosmetic progress events).
func defaultPriority(kind Kind) Priority {
	switch kind {
	case DialogTurnCancelled, DialogTurnFailed, Error, ToolConfirmationRequested:
		return Critical
	case DialogTurnStarted, DialogTurnCompleted, SessionStateChanged:
		return High
	default:
		return Normal
	}
}

// Parent correlation info for subagent-originated events (§3 Event entity).
type ParentInfo struct {
	ParentSessionID string
	ParentTurnID    string
}

// Event is a typed lifecycle event fanned out to subscribers.
type Event struct {
	Kind      Kind
	Priority  Priority
	Timestamp time.Time
	SessionID string
	TurnID    string
	Parent    *ParentInfo
	Data      map[string]any
}

// queueCapacity is the bound per subscriber channel; below
// reservedHeadroom free slots, Low and then Normal events are dropped so
// High/Critical events always have room (§4.7, §8 P9).
const (
	queueCapacity   = 256
	reservedHeadroom = 16
)

// Stats tracks dropped-event counters for observability and for P9's
// back-pressure invariant to be asserted in tests.
type Stats struct {
	mu           sync.Mutex
	DroppedLow   uint64
	DroppedNormal uint64
}

func (s *Stats) recordDrop(p Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == Low {
		s.DroppedLow++
	} else {
		s.DroppedNormal++
	}
}

func (s *Stats) snapshot() (low, normal uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DroppedLow, s.DroppedNormal
}

// Snapshot returns the current dropped-event counters.
func (s *Stats) Snapshot() (low, normal uint64) { return s.snapshot() }

type subscriber struct {
	ch       chan Event
	internal bool // internal subscribers (logging, session manager) see everything
	stats    *Stats
}

// Router fans events out to N subscribers without ever blocking a producer.
// External (front-end) subscribers get a filtered stream that hides
// subagent-internal events and deduplicates repeated text chunks per
// message; internal subscribers see the raw stream.
type Router struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	// dedup tracks, per (session_id, turn_id), the last TextChunk text seen
	// so external subscribers never receive an identical chunk twice in a
	// row (the router's job per §4.7; producers may re-emit on retry).
	lastText map[string]string
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{
		subscribers: make(map[string]*subscriber),
		lastText:    make(map[string]string),
	}
}

// SubscribeExternal registers a front-end subscriber: it never sees events
// carrying a Parent (subagent-internal correlation) and de-duplicates
// consecutive identical TextChunk payloads.
func (r *Router) SubscribeExternal(id string) <-chan Event {
	return r.subscribe(id, false)
}

// SubscribeInternal registers a logging/session-manager subscriber that
// receives every event, including subagent-internal ones.
func (r *Router) SubscribeInternal(id string) <-chan Event {
	return r.subscribe(id, true)
}

func (r *Router) subscribe(id string, internal bool) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &subscriber{
		ch:       make(chan Event, queueCapacity),
		internal: internal,
		stats:    &Stats{},
	}
	r.subscribers[id] = sub
	return sub.ch
}

// Stats returns the drop counters for a given subscriber id, or nil if it
// doesn't exist.
func (r *Router) Stats(id string) *Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sub, ok := r.subscribers[id]; ok {
		return sub.stats
	}
	return nil
}

// Unsubscribe removes and closes a subscriber's channel.
func (r *Router) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subscribers[id]; ok {
		close(sub.ch)
		delete(r.subscribers, id)
	}
}

// Emit assigns a default priority (if Priority is its zero value and the
// kind implies something other than Normal, defaultPriority is used) and
// fans the event out. Producers never block.
func (r *Router) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Priority == Low {
		if p := defaultPriority(ev.Kind); p != Normal {
			ev.Priority = p
		}
	}
	r.dispatch(ev)
}

// EmitKind is a convenience constructor + dispatch in one call.
func (r *Router) EmitKind(kind Kind, sessionID, turnID string, data map[string]any) {
	r.Emit(Event{
		Kind:      kind,
		Priority:  defaultPriority(kind),
		SessionID: sessionID,
		TurnID:    turnID,
		Data:      data,
	})
}

func (r *Router) dispatch(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	dedupKey := ev.SessionID + "|" + ev.TurnID

	for _, sub := range r.subscribers {
		out := ev
		if !sub.internal {
			if ev.Parent != nil {
				// External subscribers never see subagent-internal events.
				continue
			}
			if ev.Kind == TextChunk {
				if text, _ := ev.Data["text"].(string); text != "" {
					r.mu.RUnlock()
					r.mu.Lock()
					if r.lastText[dedupKey] == text {
						r.mu.Unlock()
						r.mu.RLock()
						continue
					}
					r.lastText[dedupKey] = text
					r.mu.Unlock()
					r.mu.RLock()
				}
			}
		}

		if (ev.Priority == Low || ev.Priority == Normal) && cap(sub.ch)-len(sub.ch) <= reservedHeadroom {
			sub.stats.recordDrop(ev.Priority)
			continue
		}
		if trySend(sub.ch, out) {
			continue
		}

		// Channel full: back-pressure kicks in. Critical/High are always
		// delivered by forcing room — drop the oldest Low (then Normal)
		// entry to make space. Low/Normal events are simply dropped.
		if ev.Priority == Critical || ev.Priority == High {
			makeRoom(sub.ch)
			trySend(sub.ch, out)
			continue
		}
		sub.stats.recordDrop(ev.Priority)
	}
}

func trySend(ch chan Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// makeRoom drops one buffered event to free a slot for a High/Critical
// event that must not be lost. It prefers dropping a Low-priority buffered
// event, falling back to Normal, and as a last resort the oldest entry.
func makeRoom(ch chan Event) {
	buffered := make([]Event, 0, len(ch))
	for i := 0; i < len(ch); i++ {
		select {
		case ev := <-ch:
			buffered = append(buffered, ev)
		default:
		}
	}
	dropIdx := -1
	for i, ev := range buffered {
		if ev.Priority == Low {
			dropIdx = i
			break
		}
	}
	if dropIdx == -1 {
		for i, ev := range buffered {
			if ev.Priority == Normal {
				dropIdx = i
				break
			}
		}
	}
	if dropIdx == -1 && len(buffered) > 0 {
		dropIdx = 0
	}
	for i, ev := range buffered {
		if i == dropIdx {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts the router down and closes every subscriber channel.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, sub := range r.subscribers {
		close(sub.ch)
	}
	r.subscribers = nil
}
