// Package telemetry carries the harness's HUD event stream and counters.
//
// DESIGN: Components publish lifecycle events to an in-process Bus. Each
// subscriber owns a goroutine-pumped queue, so a slow consumer buffers
// instead of dropping events and a fast publisher never blocks. The HUD
// serves subscribers over websocket and exposes prometheus counters.
package telemetry

import (
	"sync"
	"time"
)

// Event is one HUD lifecycle event.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Event types emitted by the harness.
const (
	EventTestGenStart      = "testgen_start"
	EventTestGenTest       = "testgen_test"
	EventTestGenProgress   = "testgen_progress"
	EventTestGenReflection = "testgen_reflection"
	EventTestGenComplete   = "testgen_complete"
	EventTestGenError      = "testgen_error"

	EventArchivistRunStart      = "archivist_run_start"
	EventArchivistPatternFound  = "archivist_pattern_found"
	EventArchivistSkillPromoted = "archivist_skill_promoted"
	EventArchivistRunComplete   = "archivist_run_complete"

	EventClimbRunRecorded  = "climb_run_recorded"
	EventClimbConfigChange = "climb_config_change"

	EventLoopRunStart          = "loop_run_start"
	EventLoopIterationStart    = "loop_iteration_start"
	EventLoopIterationComplete = "loop_iteration_complete"
	EventLoopSubsetAdvance     = "loop_subset_advance"
	EventLoopRunComplete       = "loop_run_complete"
)

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType string, payload map[string]any) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload}
}

// Bus fans events out to subscribers. The zero value is not usable; call
// NewBus. A nil *Bus accepts publishes and drops them, so components can run
// without a HUD attached.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.push(ev)
	}
}

// Subscribe registers a consumer. The returned cancel func detaches it and
// closes the channel once the pump drains or stops.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	s := &subscriber{
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.pump()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.done)
		})
	}
	return s.out, cancel
}

type subscriber struct {
	out    chan Event
	notify chan struct{}
	done   chan struct{}
	mu     sync.Mutex
	queue  []Event
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
