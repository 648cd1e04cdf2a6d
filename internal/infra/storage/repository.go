// Package storage provides the persistence layer for the session journal.
// This package implements the repository pattern to keep the engine pure.
package storage

import (
	"context"
	"time"

	"github.com/robbie-med/rhenal/internal/events"
)

// Query narrows a journal read. Zero fields match everything.
type Query struct {
	SessionID string
	Types     []events.EventType
	TargetID  string
	AfterSeq  int64
	Limit     int
}

// SessionSummary is one row of the session index.
type SessionSummary struct {
	SessionID  string    `json:"session_id"`
	Events     int       `json:"events"`
	FirstEvent time.Time `json:"first_event"`
	LastEvent  time.Time `json:"last_event"`
}

// JournalRepository defines the interface for journal persistence.
// The engine never sees it; the event log talks to it through a Persister.
type JournalRepository interface {
	// Append adds a new event to the immutable journal.
	Append(ctx context.Context, event events.Event) error

	// Find returns the events matching q in append order.
	Find(ctx context.Context, q Query) ([]events.Event, error)

	// Sessions lists every session with at least one event, newest first.
	Sessions(ctx context.Context) ([]SessionSummary, error)
}

const selectColumns = `id, seq, session_id, epoch, timestamp, recorded_at, event_type, actor_id, target_id, payload`

// scanner is satisfied by *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (events.Event, error) {
	var (
		e       events.Event
		typ     string
		payload []byte
	)
	if err := s.Scan(&e.ID, &e.Seq, &e.SessionID, &e.Epoch, &e.Timestamp, &e.RecordedAt,
		&typ, &e.ActorID, &e.TargetID, &payload); err != nil {
		return events.Event{}, err
	}
	e.Type = events.EventType(typ)
	if len(payload) > 0 {
		e.Payload = append([]byte(nil), payload...)
	}
	return e, nil
}

// where builds the filter clause. placeholder renders the n-th bind parameter.
func (q Query) where(placeholder func(n int) string) (string, []any) {
	var (
		clause string
		args   []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		if clause == "" {
			clause = " WHERE "
		} else {
			clause += " AND "
		}
		clause += cond + placeholder(len(args))
	}
	if q.SessionID != "" {
		add("session_id = ", q.SessionID)
	}
	if q.TargetID != "" {
		add("target_id = ", q.TargetID)
	}
	if q.AfterSeq > 0 {
		add("seq > ", q.AfterSeq)
	}
	if len(q.Types) > 0 {
		in := ""
		for i, t := range q.Types {
			args = append(args, string(t))
			if i > 0 {
				in += ", "
			}
			in += placeholder(len(args))
		}
		if clause == "" {
			clause = " WHERE "
		} else {
			clause += " AND "
		}
		clause += "event_type IN (" + in + ")"
	}
	return clause, args
}
