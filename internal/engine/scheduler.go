package engine

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

// EventKind labels a scheduled event for logs and the read surface.
type EventKind string

const (
	EventLabResolution        EventKind = "lab-resolution"
	EventDiagnosticResolution EventKind = "diagnostic-resolution"
	EventInfusionRecord       EventKind = "infusion-record"
	EventInterventionExpiry   EventKind = "intervention-expiry"
	EventInterventionEffect   EventKind = "intervention-effect"
)

// Handle identifies a scheduled event.
type Handle uint64

// Callback runs when an event fires. It receives the event's fire time.
type Callback func(at time.Time) error

type scheduled struct {
	handle Handle
	fireAt time.Time
	kind   EventKind
	owner  string
	fn     Callback
	index  int
}

// eventQueue orders by fire time, then by insertion (handles are monotonic).
type eventQueue []*scheduled

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].fireAt.Equal(q[j].fireAt) {
		return q[i].handle < q[j].handle
	}
	return q[i].fireAt.Before(q[j].fireAt)
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	ev := x.(*scheduled)
	ev.index = len(*q)
	*q = append(*q, ev)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*q = old[:n-1]
	return ev
}

// Scheduler is a virtual-time queue of deferred actions. Each event fires at
// most once and is removed on firing or cancellation.
type Scheduler struct {
	queue     eventQueue
	byHandle  map[Handle]*scheduled
	next      Handle
	log       *logger.Logger
	metrics   *metrics.Collector
	onFailure func(kind EventKind, owner string, at time.Time, err error)
}

// NewScheduler creates an empty scheduler.
func NewScheduler(log *logger.Logger, m *metrics.Collector) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		byHandle: make(map[Handle]*scheduled),
		log:      log,
		metrics:  m,
	}
}

// OnFailure registers a hook for callback errors and panics.
func (s *Scheduler) OnFailure(fn func(kind EventKind, owner string, at time.Time, err error)) {
	s.onFailure = fn
}

// Schedule queues fn to run once virtual time reaches fireAt.
func (s *Scheduler) Schedule(fireAt time.Time, kind EventKind, owner string, fn Callback) Handle {
	s.next++
	ev := &scheduled{handle: s.next, fireAt: fireAt, kind: kind, owner: owner, fn: fn}
	heap.Push(&s.queue, ev)
	s.byHandle[ev.handle] = ev
	if s.metrics != nil {
		s.metrics.RecordScheduled()
	}
	return ev.handle
}

// Cancel removes a pending event. It reports false if the event already fired or was cancelled.
func (s *Scheduler) Cancel(h Handle) bool {
	ev, ok := s.byHandle[h]
	if !ok {
		return false
	}
	s.remove(ev)
	if s.metrics != nil {
		s.metrics.RecordCancelled(1)
	}
	return true
}

// CancelOwner removes every pending event owned by owner.
func (s *Scheduler) CancelOwner(owner string) int {
	var hit []*scheduled
	for _, ev := range s.queue {
		if ev.owner == owner {
			hit = append(hit, ev)
		}
	}
	for _, ev := range hit {
		s.remove(ev)
	}
	if s.metrics != nil && len(hit) > 0 {
		s.metrics.RecordCancelled(len(hit))
	}
	return len(hit)
}

// CancelAll empties the queue.
func (s *Scheduler) CancelAll() int {
	n := len(s.queue)
	s.queue = nil
	s.byHandle = make(map[Handle]*scheduled)
	if s.metrics != nil && n > 0 {
		s.metrics.RecordCancelled(n)
	}
	return n
}

func (s *Scheduler) remove(ev *scheduled) {
	heap.Remove(&s.queue, ev.index)
	delete(s.byHandle, ev.handle)
}

// Len is the number of pending events.
func (s *Scheduler) Len() int { return len(s.queue) }

// Owned counts pending events for owner.
func (s *Scheduler) Owned(owner string) int {
	n := 0
	for _, ev := range s.queue {
		if ev.owner == owner {
			n++
		}
	}
	return n
}

// Next returns the earliest pending fire time.
func (s *Scheduler) Next() (time.Time, bool) {
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].fireAt, true
}

// Drain runs every event due at now in fire-time order, one at a time.
// Events scheduled by callbacks are eligible in the same drain.
func (s *Scheduler) Drain(now time.Time) int {
	fired := 0
	for len(s.queue) > 0 && !s.queue[0].fireAt.After(now) {
		ev := heap.Pop(&s.queue).(*scheduled)
		delete(s.byHandle, ev.handle)
		err := s.run(ev)
		fired++
		if s.metrics != nil {
			s.metrics.RecordFired(err != nil)
		}
		if err != nil {
			s.log.Error("scheduled event failed",
				logger.String("kind", string(ev.kind)),
				logger.String("owner", ev.owner),
				logger.Time("fire_at", ev.fireAt),
				logger.Err(err))
			if s.onFailure != nil {
				s.onFailure(ev.kind, ev.owner, ev.fireAt, err)
			}
		}
	}
	return fired
}

func (s *Scheduler) run(ev *scheduled) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s callback: %v", ev.kind, r)
		}
	}()
	return ev.fn(ev.fireAt)
}
