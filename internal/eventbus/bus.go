// Package eventbus decouples the scheduler, executor and any embedding
// process with an in-memory fanout of lifecycle events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Execution lifecycle event types published by the scheduler and executor.
const (
	TypeTaskAdmitted  = "task.admitted"
	TypeTaskStarted   = "task.started"
	TypeTaskRetrying  = "task.retrying"
	TypeTaskCompleted = "task.completed"
	TypeTaskFailed    = "task.failed"
	TypeTaskBlocked   = "task.blocked"
	TypeTaskCancelled = "task.cancelled"
	TypeTaskHeld      = "task.held"
	TypeScheduleTick  = "schedule.tick"
)

// Event carries one lifecycle signal. Data is small and JSON-serializable:
// a task id, or an ExecutionResult for executor terminal events.
//
// Contract: Publish never blocks; subscribers use buffered channels and may
// lose events when they fall behind.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns the in-memory bus. It owns no goroutines; Publish runs on the
// caller.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		offer(ch, e)
	}
}

// offer is a non-blocking send that tolerates a concurrently closed channel:
// an unsubscribe racing a publish must never panic the publisher.
func offer(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.next.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
