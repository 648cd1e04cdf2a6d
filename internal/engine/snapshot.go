package engine

import (
	"context"
	"time"

	"github.com/robbie-med/rhenal/internal/domain/chat"
	"github.com/robbie-med/rhenal/internal/domain/fluid"
	"github.com/robbie-med/rhenal/internal/domain/intervention"
	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/domain/patient"
)

// ClockState is the read view of the virtual clock.
type ClockState struct {
	Now    time.Time `json:"now"`
	Scale  float64   `json:"scale"`
	Paused bool      `json:"paused"`
}

// VitalsState is the current sample and its history.
type VitalsState struct {
	Current *patient.Sample  `json:"current,omitempty"`
	History []patient.Sample `json:"history"`
}

// LabsState is the latest value per test plus the trending history.
type LabsState struct {
	ByCategory lab.CategoryMap    `json:"byCategory"`
	History    []lab.HistoryEntry `json:"history"`
}

// IOState is the ledger view.
type IOState struct {
	Inputs  fluid.Totals  `json:"inputs"`
	Outputs fluid.Totals  `json:"outputs"`
	Entries []fluid.Entry `json:"entries"`
	Balance fluid.Balance `json:"balance"`
}

// Status carries in-flight work and the transient error.
type Status struct {
	Pending         []string     `json:"pending"`
	LastError       *ErrorStatus `json:"lastError,omitempty"`
	ScheduledEvents int          `json:"scheduledEvents"`
	Usage           Usage        `json:"usage"`
}

// Snapshot is a deep copy of the read surface.
type Snapshot struct {
	SessionID     string                      `json:"sessionId"`
	Epoch         uint64                      `json:"epoch"`
	Clock         ClockState                  `json:"clock"`
	Patient       *patient.Patient            `json:"patient,omitempty"`
	Vitals        VitalsState                 `json:"vitals"`
	Labs          LabsState                   `json:"labs"`
	Results       []lab.Order                 `json:"results"`
	Interventions []intervention.Intervention `json:"interventions"`
	IO            IOState                     `json:"io"`
	NurseChat     []chat.Message              `json:"nurseChat"`
	AttendingChat []chat.Message              `json:"attendingChat"`
	Score         int                         `json:"score"`
	ScoreHistory  []ScoreDelta                `json:"scoreHistory"`
	Status        Status                      `json:"status"`
}

// Initialized reports whether a patient session exists.
func (s *Snapshot) Initialized() bool { return s.Patient != nil }

// Snapshot captures the read surface on the command loop.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := e.exec(ctx, func() error {
		snap = e.snapshot()
		return nil
	})
	return snap, err
}

func (e *Engine) snapshot() *Snapshot {
	now := e.clock.Now()
	s := &Snapshot{
		SessionID:     e.sessionID,
		Epoch:         e.epoch,
		Clock:         ClockState{Now: now, Scale: e.clock.Scale(), Paused: e.clock.Paused()},
		Vitals:        VitalsState{History: e.vitals.History()},
		Labs:          LabsState{ByCategory: e.results.Latest(), History: e.results.History()},
		Results:       e.results.Orders(),
		Interventions: e.registry.All(),
		IO: IOState{
			Inputs:  e.ledger.Inputs(),
			Outputs: e.ledger.Outputs(),
			Entries: e.ledger.Entries(),
			Balance: e.ledger.Recompute(now),
		},
		NurseChat:     append([]chat.Message(nil), e.chat.Log(chat.ChannelNurse)...),
		AttendingChat: append([]chat.Message(nil), e.chat.Log(chat.ChannelAttending)...),
		Score:         e.score.Value(),
		ScoreHistory:  e.score.Deltas(),
		Status: Status{
			Pending:         e.inflightOps(),
			ScheduledEvents: e.sched.Len(),
			Usage:           e.usage,
		},
	}
	if e.patient != nil {
		s.Patient = e.patient.Clone()
	}
	if cur, ok := e.vitals.Current(); ok {
		s.Vitals.Current = &cur
	}
	if e.lastErr != nil {
		le := *e.lastErr
		s.Status.LastError = &le
	}
	return s
}
