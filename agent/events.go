package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mender/logging"
)

// EventType names a task or agent lifecycle event
type EventType string

const (
	EventTaskCreated     EventType = "task_created"
	EventTaskAssigned    EventType = "task_assigned"
	EventTaskStarted     EventType = "task_started"
	EventTaskSucceeded   EventType = "task_succeeded"
	EventTaskFailed      EventType = "task_failed"
	EventTaskTimedOut    EventType = "task_timed_out"
	EventTaskCancelled   EventType = "task_cancelled"
	EventTaskLateResult  EventType = "task_late_result"
	EventAgentRegistered EventType = "agent_registered"
	EventAgentRemoved    EventType = "agent_unregistered"
)

// terminalEvent maps a terminal status to its event type
func terminalEvent(s TaskStatus) EventType {
	switch s {
	case TaskSucceeded:
		return EventTaskSucceeded
	case TaskFailed:
		return EventTaskFailed
	case TaskTimedOut:
		return EventTaskTimedOut
	}
	return EventTaskCancelled
}

// Event is one lifecycle notification. Task fields are empty for agent
// events.
type Event struct {
	Type     EventType  `json:"type"`
	TaskID   string     `json:"task_id,omitempty"`
	TaskType string     `json:"task_type,omitempty"`
	Agent    string     `json:"agent,omitempty"`
	Status   TaskStatus `json:"status,omitempty"`
	Time     time.Time  `json:"time"`
}

func taskEvent(t EventType, task Task, now time.Time) Event {
	return Event{
		Type:     t,
		TaskID:   task.ID,
		TaskType: task.Type,
		Agent:    task.AssignedTo,
		Status:   task.Status,
		Time:     now,
	}
}

// EventHandler receives events on the subscription's own goroutine
type EventHandler func(Event)

// EventStats counts bus activity
type EventStats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Failed      uint64 `json:"failed"`
	Subscribers int    `json:"subscribers"`
}

type subscription struct {
	types map[EventType]bool // empty accepts every type
	ch    chan Event
	done  chan struct{}
}

// EventBus fans lifecycle events out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event and it is counted as
// dropped.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	buffer int
	logger *logging.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewEventBus creates a bus whose subscribers buffer up to buffer events
func NewEventBus(buffer int, logger *logging.Logger) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &EventBus{
		subs:   make(map[int]*subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe calls handler for every published event of the given types, or
// of every type when none are given. The returned function unsubscribes and
// waits until the handler has drained its buffered events, so it must not be
// called from inside the handler.
func (b *EventBus) Subscribe(handler EventHandler, types ...EventType) (unsubscribe func()) {
	sub := &subscription{
		types: make(map[EventType]bool, len(types)),
		ch:    make(chan Event, b.buffer),
		done:  make(chan struct{}),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go b.deliver(sub, handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(sub.ch)
			b.mu.Unlock()
			<-sub.done
		})
	}
}

func (b *EventBus) deliver(sub *subscription, handler EventHandler) {
	defer close(sub.done)
	for ev := range sub.ch {
		b.call(handler, ev)
	}
}

// call runs one handler invocation; a panicking handler loses that event only
func (b *EventBus) call(handler EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			b.logger.Error(logging.WithTaskID(context.Background(), ev.TaskID), "event handler panicked",
				zap.String("event", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	handler(ev)
	b.delivered.Add(1)
}

// Publish hands ev to every matching subscriber without blocking. A nil bus
// discards events.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if len(sub.types) > 0 && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Stats returns counters and the current subscriber count
func (b *EventBus) Stats() EventStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	return EventStats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Failed:      b.failed.Load(),
		Subscribers: n,
	}
}
