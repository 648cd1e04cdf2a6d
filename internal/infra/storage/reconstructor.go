// Package storage - reconstructor.go
// Rebuilds a session summary from the journal: state = f(events).
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robbie-med/rhenal/internal/events"
)

// Reconstructor rebuilds session summaries from the journal.
// This is used for:
// 1. The recap screen of a finished or abandoned session
// 2. Auditing the score against the events that produced it
type Reconstructor struct {
	repo JournalRepository
}

// NewReconstructor creates a new session reconstructor.
func NewReconstructor(repo JournalRepository) *Reconstructor {
	return &Reconstructor{repo: repo}
}

// Recap is the rebuilt outcome of one session.
type Recap struct {
	SessionID       string         `json:"session_id"`
	Patient         string         `json:"patient"`
	Start           time.Time      `json:"start"`
	End             time.Time      `json:"end"`
	Score           int            `json:"score"`
	IntakeML        float64        `json:"intake_ml"`
	OutputML        float64        `json:"output_ml"`
	LabsOrdered     int            `json:"labs_ordered"`
	LabsResolved    int            `json:"labs_resolved"`
	Interventions   int            `json:"interventions"`
	Advisories      int            `json:"advisories"`
	OracleFailures  int            `json:"oracle_failures"`
	Messages        int            `json:"messages"`
	EventsByType    map[string]int `json:"events_by_type"`
	Timeline        []RecapEvent   `json:"timeline"`
	LastVitalsAt    time.Time      `json:"last_vitals_at"`
	LastVitalsValue map[string]any `json:"last_vitals,omitempty"`
}

// RecapEvent is a simplified event for the recap timeline.
type RecapEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Summary   string    `json:"summary"`
	Impact    string    `json:"impact"` // "POSITIVE", "NEGATIVE", "NEUTRAL"
}

// Rebuild reads a session's journal and folds it into a Recap.
func (r *Reconstructor) Rebuild(ctx context.Context, sessionID string) (*Recap, error) {
	evs, err := r.repo.Find(ctx, Query{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to get events for session: %w", err)
	}
	if len(evs) == 0 {
		return nil, fmt.Errorf("session %s has no journal", sessionID)
	}
	return Fold(sessionID, evs), nil
}

// Fold applies events in order. It is exported for the in-memory journal.
func Fold(sessionID string, evs []events.Event) *Recap {
	rc := &Recap{SessionID: sessionID, EventsByType: make(map[string]int)}
	for i, e := range evs {
		if i == 0 {
			rc.Start = e.Timestamp
		}
		if e.Timestamp.After(rc.End) {
			rc.End = e.Timestamp
		}
		rc.EventsByType[string(e.Type)]++
		applyEvent(rc, e)
		if s, impact, ok := summarizeEvent(e); ok {
			rc.Timeline = append(rc.Timeline, RecapEvent{
				Timestamp: e.Timestamp,
				EventType: string(e.Type),
				Summary:   s,
				Impact:    impact,
			})
		}
	}
	return rc
}

// applyEvent modifies the recap based on event type.
func applyEvent(rc *Recap, e events.Event) {
	var p map[string]any
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &p)
	}
	switch e.Type {
	case events.EventTypeSessionInit:
		if pt, ok := p["patient"].(map[string]any); ok {
			if d, ok := pt["demographics"].(map[string]any); ok {
				rc.Patient, _ = d["name"].(string)
			}
		}
	case events.EventTypeScore:
		if d, ok := p["delta"].(float64); ok {
			rc.Score += int(d)
		}
	case events.EventTypeIntake:
		rc.IntakeML += number(p, "value")
	case events.EventTypeOutput:
		rc.OutputML += number(p, "value")
	case events.EventTypeLabOrdered, events.EventTypeDiagnosticOrdered:
		rc.LabsOrdered++
	case events.EventTypeLabResolved, events.EventTypeDiagnosticResolved:
		rc.LabsResolved++
	case events.EventTypeInterventionStart:
		rc.Interventions++
	case events.EventTypeAdvisory:
		rc.Advisories++
	case events.EventTypeOracleFailure:
		rc.OracleFailures++
	case events.EventTypeMessage:
		rc.Messages++
	case events.EventTypeVitals:
		if s, ok := p["sample"].(map[string]any); ok {
			rc.LastVitalsAt = e.Timestamp
			rc.LastVitalsValue = s
		}
	}
}

// summarizeEvent creates a human-readable line for notable events.
func summarizeEvent(e events.Event) (summary, impact string, ok bool) {
	var p map[string]any
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &p)
	}
	switch e.Type {
	case events.EventTypeSessionInit:
		return "Patient admitted.", "NEUTRAL", true
	case events.EventTypeLabOrdered, events.EventTypeDiagnosticOrdered:
		return fmt.Sprintf("Ordered %v.", p["name"]), "NEUTRAL", true
	case events.EventTypeInterventionStart:
		return fmt.Sprintf("Started %v.", p["name"]), "NEUTRAL", true
	case events.EventTypeAdvisory:
		return fmt.Sprintf("%v", p["text"]), "NEGATIVE", true
	case events.EventTypeOracleFailure:
		return fmt.Sprintf("Oracle failure during %v.", p["op"]), "NEGATIVE", true
	case events.EventTypeScore:
		d := number(p, "delta")
		impact = "NEGATIVE"
		if d > 0 {
			impact = "POSITIVE"
		}
		return fmt.Sprintf("Score %+d (%v).", int(d), p["reason"]), impact, true
	}
	return "", "", false
}

func number(p map[string]any, key string) float64 {
	f, _ := p[key].(float64)
	return f
}
