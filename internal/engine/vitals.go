package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/domain/patient"
	"github.com/robbie-med/rhenal/internal/domain/rules"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/oracle"
	"github.com/robbie-med/rhenal/internal/platform/logger"
)

// OracleRefresh is the gap since the latest sample after which vitals are
// projected by the oracle even with no active intervention.
const OracleRefresh = 30 * time.Minute

// Sample sources, recorded in the journal.
const (
	sourceCase         = "case"
	sourceDrift        = "drift"
	sourceOracle       = "oracle"
	sourceFallback     = "fallback"
	sourceIntervention = "intervention"
)

// VitalsEngine owns the vitals timeline and decides between drift and projection.
type VitalsEngine struct {
	timeline patient.Timeline
	rng      rules.Random
	inFlight bool
}

// NewVitalsEngine creates an empty timeline driven by rng.
func NewVitalsEngine(rng rules.Random) *VitalsEngine {
	return &VitalsEngine{rng: rng}
}

// Seed writes the admission sample.
func (v *VitalsEngine) Seed(vs patient.Vitals, at time.Time) patient.Sample {
	s := patient.Sample{Vitals: vs, Timestamp: at}
	v.timeline.Append(s)
	return s
}

// Current returns the latest sample.
func (v *VitalsEngine) Current() (patient.Sample, bool) { return v.timeline.Current() }

// History returns a copy of every sample.
func (v *VitalsEngine) History() []patient.Sample { return v.timeline.History() }

// Due reports whether cadence has passed since the latest sample.
func (v *VitalsEngine) Due(now time.Time, cadence time.Duration) bool {
	cur, ok := v.timeline.Current()
	return ok && now.Sub(cur.Timestamp) >= cadence
}

// NeedsOracle applies the trigger policy: any active intervention, or at
// least OracleRefresh since the latest sample.
func (v *VitalsEngine) NeedsOracle(now time.Time, activeInterventions int) bool {
	if activeInterventions > 0 {
		return true
	}
	cur, ok := v.timeline.Current()
	return ok && now.Sub(cur.Timestamp) >= OracleRefresh
}

// Apply appends vs at at and reports significant changes from the previous sample.
func (v *VitalsEngine) Apply(vs patient.Vitals, at time.Time) (patient.Sample, []rules.Change) {
	prev, had := v.timeline.Current()
	s := patient.Sample{Vitals: vs, Timestamp: at}
	v.timeline.Append(s)
	if !had {
		return s, nil
	}
	return s, rules.SignificantChanges(prev.Vitals, vs)
}

// Drift applies passive drift to the current sample.
func (v *VitalsEngine) Drift(at time.Time) (patient.Sample, []rules.Change) {
	cur, _ := v.timeline.Current()
	return v.Apply(rules.PassiveDrift(cur.Vitals, v.rng), at)
}

func (e *Engine) currentVitals() patient.Vitals {
	if e.vitals == nil {
		return patient.Vitals{}
	}
	cur, _ := e.vitals.Current()
	return cur.Vitals
}

// tickVitals runs on every tick after the scheduler drains.
func (e *Engine) tickVitals(now time.Time) {
	if e.patient == nil || e.vitals.inFlight || !e.vitals.Due(now, e.opts.VitalsCadence) {
		return
	}
	active := e.registry.ActiveCount()
	if !e.vitals.NeedsOracle(now, active) {
		s, changes := e.vitals.Drift(now)
		e.noteVitals(s, changes, "", sourceDrift)
		return
	}
	e.requestVitals(now)
}

// requestVitals starts a projection without blocking the tick loop.
func (e *Engine) requestVitals(now time.Time) {
	const op = "update vitals"
	cur, _ := e.vitals.Current()
	vc := oracle.VitalsContext{
		Patient:             oracle.SummarizePatient(e.patient),
		CurrentVitals:       cur.Vitals,
		ActiveInterventions: e.registry.Summaries(now, isActive),
		IO:                  e.ledger.Summary(now, rules.ShiftWindow),
		RecentLabs:          e.results.Recent(oracle.MaxRecentLabs, lab.CategoryBasic, lab.CategoryRenal, lab.CategoryABG),
		MinutesSinceLast:    now.Sub(cur.Timestamp).Minutes(),
	}
	epoch, ve := e.epoch, e.vitals
	ve.inFlight = true
	e.begin(op)
	e.goAsync(func(ctx context.Context) func() {
		res, err := e.oracle.UpdateVitals(ctx, vc)
		return func() {
			ve.inFlight = false
			if !e.current(epoch, op) {
				return
			}
			e.end(op)
			at := e.clock.Now()
			if err != nil {
				e.fail(op, err)
				s, changes := e.vitals.Drift(at)
				e.noteVitals(s, changes, "", sourceFallback)
				return
			}
			e.succeed(op, res.Meta)
			e.applyVitals(res.Vitals, at, res.Assessment, sourceOracle)
		}
	})
}

// applyVitals writes a projected sample.
func (e *Engine) applyVitals(vs patient.Vitals, at time.Time, assessment, source string) {
	s, changes := e.vitals.Apply(vs, at)
	e.noteVitals(s, changes, assessment, source)
}

// noteVitals journals a sample and notifies on significant change.
func (e *Engine) noteVitals(s patient.Sample, changes []rules.Change, assessment, source string) {
	actor := actorScheduler
	if source == sourceOracle || source == sourceCase {
		actor = actorOracle
	}
	e.record(events.EventTypeVitals, actor, "", s.Timestamp, map[string]any{
		"sample": s,
		"source": source,
	})
	if len(changes) == 0 {
		return
	}
	descs := make([]string, len(changes))
	for i, c := range changes {
		descs[i] = c.String()
	}
	e.log.Info("significant vitals change",
		logger.String("session", e.sessionID),
		logger.String("source", source),
		logger.String("changes", strings.Join(descs, "; ")))
	e.record(events.EventTypeVitalsChange, actorNurse, "", s.Timestamp, map[string]any{"changes": descs})

	msg := fmt.Sprintf("Vital signs update: HR %d, BP %d/%d, RR %d. %s.", s.HR, s.SBP, s.DBP, s.RR, strings.Join(descs, ". "))
	if assessment != "" {
		msg += " " + assessment
	}
	e.nurse(s.Timestamp, msg)
}
