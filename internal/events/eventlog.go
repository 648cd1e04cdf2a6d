// Package events provides the session journal: an append-only log of every
// clinical event the engine produces, in virtual-time order.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a journal event.
type EventType string

const (
	EventTypeSessionInit        EventType = "SESSION_INIT"
	EventTypeTimeScale          EventType = "TIME_SCALE"
	EventTypeClockPause         EventType = "CLOCK_PAUSE"
	EventTypeVitals             EventType = "VITALS"
	EventTypeVitalsChange       EventType = "VITALS_CHANGE"
	EventTypeLabOrdered         EventType = "LAB_ORDERED"
	EventTypeLabResolved        EventType = "LAB_RESOLVED"
	EventTypeDiagnosticOrdered  EventType = "DIAGNOSTIC_ORDERED"
	EventTypeDiagnosticResolved EventType = "DIAGNOSTIC_RESOLVED"
	EventTypeUrineStudies       EventType = "URINE_STUDIES"
	EventTypeInterventionStart  EventType = "INTERVENTION_START"
	EventTypeInterventionStop   EventType = "INTERVENTION_STOP"
	EventTypeInterventionEffect EventType = "INTERVENTION_EFFECT"
	EventTypeFluidAssessment    EventType = "FLUID_ASSESSMENT"
	EventTypeIntake             EventType = "INTAKE"
	EventTypeOutput             EventType = "OUTPUT"
	EventTypeAdvisory           EventType = "ADVISORY"
	EventTypeMessage            EventType = "MESSAGE"
	EventTypeScore              EventType = "SCORE"
	EventTypeOracleFailure      EventType = "ORACLE_FAILURE"
	EventTypeStaleDrop          EventType = "STALE_DROP"
	EventTypeCallbackFailure    EventType = "CALLBACK_FAILURE"
)

// Event is an immutable record of something that happened in a session.
type Event struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	SessionID  string          `json:"session_id"`
	Epoch      uint64          `json:"epoch"`
	Timestamp  time.Time       `json:"timestamp"` // virtual
	RecordedAt time.Time       `json:"recorded_at"`
	Type       EventType       `json:"type"`
	ActorID    string          `json:"actor_id"`            // who caused it: user, nurse, scheduler, oracle
	TargetID   string          `json:"target_id,omitempty"` // order/intervention id
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event Event) error
}

// EventLog is the in-memory append-only journal with an optional persister.
type EventLog struct {
	mu        sync.RWMutex
	events    []Event
	persister EventPersister
	onPersist func(error)
	now       func() time.Time
}

// NewEventLog creates a new event log with an optional persister.
func NewEventLog(persister EventPersister) *EventLog {
	return &EventLog{
		events:    make([]Event, 0),
		persister: persister,
		now:       time.Now,
	}
}

// OnPersist registers a hook called with the result of every persister write.
func (el *EventLog) OnPersist(fn func(error)) {
	el.mu.Lock()
	el.onPersist = fn
	el.mu.Unlock()
}

// Append stamps and stores an event. Events are immutable once appended.
// The stored copy is returned.
func (el *EventLog) Append(event Event) Event {
	el.mu.Lock()
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	event.Seq = int64(len(el.events)) + 1
	if event.RecordedAt.IsZero() {
		event.RecordedAt = el.now()
	}
	el.events = append(el.events, event)
	persister, hook := el.persister, el.onPersist
	el.mu.Unlock()

	if persister != nil {
		err := persister.Append(event)
		if hook != nil {
			hook(err)
		}
	}
	return event
}

// Record marshals payload and appends an event of type t.
func (el *EventLog) Record(t EventType, sessionID string, epoch uint64, at time.Time, actor, target string, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return el.Append(Event{
		SessionID: sessionID,
		Epoch:     epoch,
		Timestamp: at,
		Type:      t,
		ActorID:   actor,
		TargetID:  target,
		Payload:   raw,
	})
}

// Since returns the events appended after the first n.
func (el *EventLog) Since(n int) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()
	if n >= len(el.events) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	out := make([]Event, len(el.events)-n)
	copy(out, el.events[n:])
	return out
}

// Len returns the number of stored events.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// GetBySession returns all events of one session.
func (el *EventLog) GetBySession(sessionID string) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []Event
	for _, e := range el.events {
		if e.SessionID == sessionID {
			result = append(result, e)
		}
	}
	return result
}

// GetByTarget returns all events concerning one order or intervention.
func (el *EventLog) GetByTarget(targetID string) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []Event
	for _, e := range el.events {
		if e.TargetID == targetID {
			result = append(result, e)
		}
	}
	return result
}

// Replay returns a copy of the full history.
func (el *EventLog) Replay() []Event {
	return el.Since(0)
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
