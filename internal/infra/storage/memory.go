package storage

import (
	"context"

	"github.com/robbie-med/rhenal/internal/events"
)

// MemoryJournalRepository serves journal reads from the in-process event log.
// It is used when no database is configured.
type MemoryJournalRepository struct {
	log *events.EventLog
}

// NewMemoryJournalRepository wraps an event log.
func NewMemoryJournalRepository(el *events.EventLog) *MemoryJournalRepository {
	return &MemoryJournalRepository{log: el}
}

// Append stores the event in the log. The log restamps its sequence number.
func (r *MemoryJournalRepository) Append(_ context.Context, event events.Event) error {
	r.log.Append(event)
	return nil
}

func (r *MemoryJournalRepository) Find(_ context.Context, q Query) ([]events.Event, error) {
	var out []events.Event
	for _, e := range r.log.Since(int(max(q.AfterSeq, 0))) {
		if !q.Match(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryJournalRepository) Sessions(_ context.Context) ([]SessionSummary, error) {
	index := make(map[string]*SessionSummary)
	var order []string
	for _, e := range r.log.Replay() {
		if e.SessionID == "" {
			continue
		}
		s, ok := index[e.SessionID]
		if !ok {
			s = &SessionSummary{SessionID: e.SessionID, FirstEvent: e.Timestamp}
			index[e.SessionID] = s
			order = append(order, e.SessionID)
		}
		s.Events++
		if e.Timestamp.Before(s.FirstEvent) {
			s.FirstEvent = e.Timestamp
		}
		if e.Timestamp.After(s.LastEvent) {
			s.LastEvent = e.Timestamp
		}
	}
	// Newest session first.
	out := make([]SessionSummary, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		out = append(out, *index[order[i]])
	}
	return out, nil
}

// Match reports whether e satisfies every set field of q.
func (q Query) Match(e events.Event) bool {
	if q.SessionID != "" && e.SessionID != q.SessionID {
		return false
	}
	if q.TargetID != "" && e.TargetID != q.TargetID {
		return false
	}
	if q.AfterSeq > 0 && e.Seq <= q.AfterSeq {
		return false
	}
	if len(q.Types) == 0 {
		return true
	}
	for _, t := range q.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

var _ JournalRepository = (*MemoryJournalRepository)(nil)
