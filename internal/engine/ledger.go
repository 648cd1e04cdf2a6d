package engine

import (
	"context"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/robbie-med/rhenal/internal/domain/fluid"
	"github.com/robbie-med/rhenal/internal/domain/rules"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/oracle"
	"github.com/robbie-med/rhenal/internal/platform/logger"
)

// InputSpec is a request to record intake.
type InputSpec struct {
	Type     string  `json:"type"`
	Subtype  string  `json:"subtype,omitempty"`
	Amount   float64 `json:"amount"`
	SourceID string  `json:"-"`
}

// OutputSpec is a request to record output.
type OutputSpec struct {
	Type       string            `json:"type"`
	Amount     float64           `json:"amount"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Ledger is the intake/output history with derived balances.
type Ledger struct {
	entries []fluid.Entry
	inputs  fluid.Totals
	outputs fluid.Totals
	balance fluid.Balance
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger { return &Ledger{} }

func validAmount(op string, amount float64) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return validationf(op, "amount must be positive, got %v", amount)
	}
	return nil
}

// RecordInput appends an intake entry at now and recomputes balances.
func (l *Ledger) RecordInput(s InputSpec, now time.Time) (fluid.Entry, error) {
	if err := validAmount("record input", s.Amount); err != nil {
		return fluid.Entry{}, err
	}
	if !fluid.ValidInput(s.Type) {
		return fluid.Entry{}, validationf("record input", "unknown input type %q", s.Type)
	}
	e := fluid.Entry{
		ID:        uuid.NewString(),
		Direction: fluid.DirectionInput,
		Type:      s.Type,
		Subtype:   s.Subtype,
		Amount:    s.Amount,
		SourceID:  s.SourceID,
		Timestamp: now,
	}
	l.entries = append(l.entries, e)
	l.inputs.Add(s.Type, s.Amount)
	l.Recompute(now)
	return e, nil
}

// RecordOutput appends an output entry at now and recomputes balances.
func (l *Ledger) RecordOutput(s OutputSpec, now time.Time) (fluid.Entry, error) {
	if err := validAmount("record output", s.Amount); err != nil {
		return fluid.Entry{}, err
	}
	if !fluid.ValidOutput(s.Type) {
		return fluid.Entry{}, validationf("record output", "unknown output type %q", s.Type)
	}
	e := fluid.Entry{
		ID:         uuid.NewString(),
		Direction:  fluid.DirectionOutput,
		Type:       s.Type,
		Amount:     s.Amount,
		Properties: maps.Clone(s.Properties),
		Timestamp:  now,
	}
	l.entries = append(l.entries, e)
	l.outputs.Add(s.Type, s.Amount)
	l.Recompute(now)
	return e, nil
}

// Recompute derives every balance from the full history at now.
func (l *Ledger) Recompute(now time.Time) fluid.Balance {
	l.balance = rules.ComputeBalance(l.entries, now)
	return l.balance
}

// Balance returns the balances from the last recompute.
func (l *Ledger) Balance() fluid.Balance { return l.balance }

// Inputs returns per-type intake totals.
func (l *Ledger) Inputs() fluid.Totals { return l.inputs.Clone() }

// Outputs returns per-type output totals.
func (l *Ledger) Outputs() fluid.Totals { return l.outputs.Clone() }

// Entries returns a copy of the full history.
func (l *Ledger) Entries() []fluid.Entry {
	return append([]fluid.Entry(nil), l.entries...)
}

// BySource returns the entries attributed to an intervention.
func (l *Ledger) BySource(id string) []fluid.Entry {
	var out []fluid.Entry
	for _, e := range l.entries {
		if e.SourceID == id {
			out = append(out, e)
		}
	}
	return out
}

// UrineRate is the trailing urine output in mL/kg/hr, when it can be computed.
func (l *Ledger) UrineRate(now time.Time, weightKg float64) (float64, bool) {
	return rules.UrineRate(l.entries, now, weightKg)
}

// Summary totals the trailing window ending at now.
func (l *Ledger) Summary(now time.Time, window time.Duration) oracle.IOSummary {
	s := oracle.IOSummary{WindowHours: window.Hours()}
	for _, e := range l.entries {
		if now.Sub(e.Timestamp) > window {
			continue
		}
		if e.Direction == fluid.DirectionInput {
			s.Input += e.Amount
			continue
		}
		s.Output += e.Amount
		if e.Type == string(fluid.OutputUrine) {
			s.Urine += e.Amount
		}
	}
	s.Net = s.Input - s.Output
	s.Cumulative = rules.ComputeBalance(l.entries, now).Cumulative
	return s
}

// HasUrineSince reports whether any urine output was recorded within window of now.
func (l *Ledger) HasUrineSince(now time.Time, window time.Duration) bool {
	for _, e := range l.entries {
		if e.Direction == fluid.DirectionOutput && e.Type == string(fluid.OutputUrine) && now.Sub(e.Timestamp) <= window {
			return true
		}
	}
	return false
}

// RecordInput records intake. An input of 500 mL or more raises an advisory.
func (e *Engine) RecordInput(ctx context.Context, s InputSpec) (fluid.Entry, error) {
	var out fluid.Entry
	err := e.exec(ctx, func() error {
		if e.patient == nil {
			return noSession("record input")
		}
		s.SourceID = ""
		entry, err := e.recordInput(s, e.clock.Now())
		out = entry
		return err
	})
	return out, err
}

// recordInput is shared by manual entries and infusion recording.
func (e *Engine) recordInput(s InputSpec, at time.Time) (fluid.Entry, error) {
	entry, err := e.ledger.RecordInput(s, at)
	if err != nil {
		return entry, err
	}
	e.record(events.EventTypeIntake, actorFor(entry.SourceID), entry.SourceID, at, entry)
	if rules.IsLargeInput(entry.Amount) {
		label := entry.Type
		if entry.Type == string(fluid.InputIV) && entry.Subtype != "" {
			label = entry.Subtype + " IV"
		}
		e.advise(at, "large-input", fmt.Sprintf("Recorded %g mL %s input.", entry.Amount, label))
	}
	return entry, nil
}

// RecordOutput records output. Urine output is checked for oliguria.
func (e *Engine) RecordOutput(ctx context.Context, s OutputSpec) (fluid.Entry, error) {
	var out fluid.Entry
	err := e.exec(ctx, func() error {
		if e.patient == nil {
			return noSession("record output")
		}
		now := e.clock.Now()
		entry, err := e.ledger.RecordOutput(s, now)
		if err != nil {
			return err
		}
		out = entry
		e.record(events.EventTypeOutput, actorUser, "", now, entry)

		msg := fmt.Sprintf("Recorded %g mL %s output.", entry.Amount, entry.Type)
		if entry.Type == string(fluid.OutputUrine) && e.patient.HasWeight() {
			if rate, ok := e.ledger.UrineRate(now, e.patient.Demographics.WeightKg); ok && rules.IsOliguric(rate) {
				msg += fmt.Sprintf(" Urine output is %.1f mL/kg/hr over the last 4 hours, which is concerning for oliguria.", rate)
				e.advise(now, "oliguria", msg)
				return nil
			}
		}
		e.nurse(now, msg)
		return nil
	})
	return out, err
}

// advise emits an advisory notification through the nurse channel.
func (e *Engine) advise(at time.Time, kind, text string) {
	e.log.Info("advisory", logger.String("kind", kind), logger.String("session", e.sessionID))
	e.record(events.EventTypeAdvisory, actorNurse, "", at, map[string]string{"kind": kind, "text": text})
	e.nurse(at, text)
}

func actorFor(sourceID string) string {
	if sourceID != "" {
		return actorScheduler
	}
	return actorUser
}
