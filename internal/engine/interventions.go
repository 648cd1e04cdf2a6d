package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/robbie-med/rhenal/internal/domain/fluid"
	"github.com/robbie-med/rhenal/internal/domain/intervention"
	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/domain/rules"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/oracle"
	"github.com/robbie-med/rhenal/internal/platform/logger"
)

// InfusionInterval is the virtual period between infusion volume recordings.
const InfusionInterval = 5 * time.Minute

// Registry holds active and historical interventions.
type Registry struct {
	items []*intervention.Intervention
	byID  map[string]*intervention.Intervention
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*intervention.Intervention)}
}

// Start validates spec and adds an active intervention.
func (r *Registry) Start(s intervention.Spec, now time.Time) (*intervention.Intervention, error) {
	if err := s.Validate(); err != nil {
		return nil, validationf("start intervention", "%v", err)
	}
	iv := intervention.New(uuid.NewString(), s, now)
	r.items = append(r.items, iv)
	r.byID[iv.ID] = iv
	return iv, nil
}

// Get looks up an intervention by id.
func (r *Registry) Get(id string) (*intervention.Intervention, bool) {
	iv, ok := r.byID[id]
	return iv, ok
}

// Stop deactivates id at now. Unknown or inactive ids are NotFound.
func (r *Registry) Stop(id string, now time.Time) (*intervention.Intervention, error) {
	iv, ok := r.byID[id]
	if !ok {
		return nil, notFoundf("stop intervention", "intervention %s not found", id)
	}
	if !iv.Deactivate(now) {
		return nil, notFoundf("stop intervention", "intervention %s already inactive", id)
	}
	return iv, nil
}

// Active returns the active interventions in start order.
func (r *Registry) Active() []*intervention.Intervention {
	var out []*intervention.Intervention
	for _, iv := range r.items {
		if iv.Active {
			out = append(out, iv)
		}
	}
	return out
}

// ActiveCount is the number of active interventions.
func (r *Registry) ActiveCount() int { return len(r.Active()) }

// All returns copies of every intervention.
func (r *Registry) All() []intervention.Intervention {
	out := make([]intervention.Intervention, 0, len(r.items))
	for _, iv := range r.items {
		out = append(out, *iv.Clone())
	}
	return out
}

// Summaries projects interventions for oracle requests.
func (r *Registry) Summaries(now time.Time, filter func(*intervention.Intervention) bool) []oracle.InterventionSummary {
	var out []oracle.InterventionSummary
	for _, iv := range r.items {
		if filter != nil && !filter(iv) {
			continue
		}
		out = append(out, oracle.InterventionSummary{
			Name:           iv.Name,
			Type:           string(iv.Type),
			Dosage:         iv.Dosage,
			Route:          iv.Route,
			ElapsedMinutes: iv.Elapsed(now).Minutes(),
		})
	}
	return out
}

func isActive(iv *intervention.Intervention) bool { return iv.Active }

func isFluid(iv *intervention.Intervention) bool { return iv.Type == intervention.TypeFluid }

// InfusionSpec is a request to start an IV fluid.
type InfusionSpec struct {
	FluidID  string        `json:"fluidId,omitempty"`
	Name     string        `json:"name,omitempty"`
	Rate     float64       `json:"rate"`
	Duration time.Duration `json:"duration,omitempty"`
}

func (s InfusionSpec) toSpec() (intervention.Spec, error) {
	name := s.Name
	if s.FluidID != "" {
		f, ok := fluid.LookupIVFluid(s.FluidID)
		if !ok {
			return intervention.Spec{}, validationf("start infusion", "unknown fluid %q", s.FluidID)
		}
		name = f.Name
	}
	if name == "" {
		return intervention.Spec{}, validationf("start infusion", "no fluid selected")
	}
	return intervention.Spec{
		Name:     name,
		Type:     intervention.TypeFluid,
		Rate:     s.Rate,
		Duration: s.Duration,
		FluidID:  s.FluidID,
	}, nil
}

// StartInfusion starts a continuous infusion. It is effective immediately; the
// appropriateness review runs concurrently and reports through the nurse channel.
func (e *Engine) StartInfusion(ctx context.Context, s InfusionSpec) (*intervention.Intervention, error) {
	spec, err := s.toSpec()
	if err != nil {
		return nil, err
	}
	var out *intervention.Intervention
	err = e.exec(ctx, func() error {
		if e.patient == nil {
			return noSession("start infusion")
		}
		now := e.clock.Now()
		iv, err := e.registry.Start(spec, now)
		if err != nil {
			return err
		}
		e.charge(now, -1, "start infusion: "+iv.Name)
		e.scheduleLifecycle(iv)
		e.sched.Schedule(now.Add(InfusionInterval), EventInfusionRecord, iv.ID, e.infusionRecorder(e.epoch, iv.ID))
		e.record(events.EventTypeInterventionStart, actorUser, iv.ID, now, iv)
		e.assessFluid(iv, now)
		out = iv.Clone()
		return nil
	})
	return out, err
}

// assessFluid launches the appropriateness review. Must run on the command loop.
func (e *Engine) assessFluid(iv *intervention.Intervention, now time.Time) {
	fc := oracle.FluidContext{
		Patient:       oracle.SummarizePatient(e.patient),
		Fluid:         iv.Name,
		RateMLPerHour: iv.Rate,
		CurrentVitals: e.currentVitals(),
		IO:            e.ledger.Summary(now, rules.ShiftWindow),
	}
	epoch, id, name, rate := e.epoch, iv.ID, iv.Name, iv.Rate
	const op = "assess fluid"
	e.begin(op)
	e.goAsync(func(ctx context.Context) func() {
		res, err := e.oracle.AssessFluid(ctx, fc)
		return func() {
			if !e.current(epoch, op) {
				return
			}
			e.end(op)
			at := e.clock.Now()
			msg := fmt.Sprintf("Started %s at %g mL/hr.", name, rate)
			if err != nil {
				e.fail(op, err)
				e.nurse(at, msg)
				return
			}
			e.succeed(op, res.Meta)
			if res.Appropriateness != oracle.Appropriate {
				msg += " Note: " + res.Rationale
			}
			e.record(events.EventTypeFluidAssessment, actorOracle, id, at, res)
			e.nurse(at, msg)
		}
	})
}

// scheduleLifecycle queues the expiry event for a timed intervention.
func (e *Engine) scheduleLifecycle(iv *intervention.Intervention) {
	if iv.ExpiresAt == nil {
		return
	}
	epoch, id := e.epoch, iv.ID
	e.sched.Schedule(*iv.ExpiresAt, EventInterventionExpiry, id, func(at time.Time) error {
		if !e.current(epoch, "intervention expiry") {
			return nil
		}
		iv, ok := e.registry.Get(id)
		if !ok || !iv.Active {
			return nil
		}
		if err := e.flushInfusion(iv, at); err != nil {
			return err
		}
		iv.Deactivate(at)
		e.sched.CancelOwner(id)
		e.record(events.EventTypeInterventionStop, actorScheduler, id, at, map[string]any{"reason": "expired", "intervention": iv})
		return nil
	})
}

// infusionRecorder is the self-rescheduling recording chain of one infusion.
func (e *Engine) infusionRecorder(epoch uint64, id string) Callback {
	return func(at time.Time) error {
		if !e.current(epoch, "infusion record") {
			return nil
		}
		iv, ok := e.registry.Get(id)
		if !ok || !iv.Active {
			return nil
		}
		if err := e.flushInfusion(iv, at); err != nil {
			return err
		}
		e.sched.Schedule(at.Add(InfusionInterval), EventInfusionRecord, id, e.infusionRecorder(epoch, id))
		return nil
	}
}

// flushInfusion records the volume delivered since the last recording.
func (e *Engine) flushInfusion(iv *intervention.Intervention, at time.Time) error {
	if iv.Type != intervention.TypeFluid || iv.Rate <= 0 {
		return nil
	}
	vol := rules.InfusionVolume(iv.Rate, at.Sub(iv.LastRecord))
	if vol <= 0 {
		return nil
	}
	iv.LastRecord = at
	_, err := e.recordInput(InputSpec{
		Type:     string(fluid.InputIV),
		Subtype:  iv.Name,
		Amount:   vol,
		SourceID: iv.ID,
	}, at)
	return err
}

// StopInfusion stops any active intervention and cancels its scheduled events.
// A second stop of the same id fails with NotFound and changes nothing.
func (e *Engine) StopInfusion(ctx context.Context, id string) (*intervention.Intervention, error) {
	var out *intervention.Intervention
	err := e.exec(ctx, func() error {
		if e.patient == nil {
			return noSession("stop intervention")
		}
		now := e.clock.Now()
		iv, ok := e.registry.Get(id)
		if !ok || !iv.Active {
			_, err := e.registry.Stop(id, now)
			return err
		}
		if err := e.flushInfusion(iv, now); err != nil {
			e.log.Warn("final infusion flush failed", logger.String("intervention", id), logger.Err(err))
		}
		if _, err := e.registry.Stop(id, now); err != nil {
			return err
		}
		n := e.sched.CancelOwner(id)
		e.log.Debug("intervention stopped", logger.String("intervention", id), logger.Int("cancelled", n))
		e.record(events.EventTypeInterventionStop, actorUser, id, now, map[string]any{"reason": "stopped", "intervention": iv})
		e.nurse(now, fmt.Sprintf("Stopped %s (was running at %s).", iv.Name, iv.Dosage))
		out = iv.Clone()
		return nil
	})
	return out, err
}

// AdministerIntervention gives a medication or performs a procedure. The
// projected effect is required; on oracle failure nothing is created.
func (e *Engine) AdministerIntervention(ctx context.Context, s intervention.Spec) (*intervention.Intervention, error) {
	const op = "administer intervention"
	if s.Type == intervention.TypeFluid {
		return nil, validationf(op, "use StartInfusion for fluids")
	}
	if err := s.Validate(); err != nil {
		return nil, validationf(op, "%v", err)
	}
	var (
		ec    oracle.EffectContext
		epoch uint64
	)
	err := e.exec(ctx, func() error {
		if e.patient == nil {
			return noSession(op)
		}
		ec = oracle.EffectContext{
			Patient:       oracle.SummarizePatient(e.patient),
			Intervention:  s.Name,
			Type:          string(s.Type),
			Dosage:        s.Dosage,
			Route:         s.Route,
			CurrentVitals: e.currentVitals(),
		}
		epoch = e.epoch
		e.begin(op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, callErr := e.oracle.InterventionEffect(ctx, ec)

	var out *intervention.Intervention
	err = e.exec(context.WithoutCancel(ctx), func() error {
		if !e.current(epoch, op) {
			return staleErr(op, epoch)
		}
		e.end(op)
		if callErr != nil {
			return e.fail(op, callErr)
		}
		e.succeed(op, res.Meta)
		now := e.clock.Now()
		iv, err := e.registry.Start(s, now)
		if err != nil {
			return err
		}
		iv.Effects = res.ClinicalEffects
		e.charge(now, -1, "administer: "+iv.Name)
		e.scheduleLifecycle(iv)
		e.results.AddResolved(lab.KindIntervention, iv.Name, "", now, lab.Result{
			Value:          lab.Text(iv.Dosage),
			Interpretation: res.ClinicalEffects,
		})
		if res.Vitals != nil {
			v := *res.Vitals
			if res.TimeToEffect <= 0 {
				e.applyVitals(v, now, "", sourceIntervention)
			} else {
				id := iv.ID
				e.sched.Schedule(now.Add(res.TimeToEffect), EventInterventionEffect, id, func(at time.Time) error {
					if !e.current(epoch, "intervention effect") {
						return nil
					}
					e.applyVitals(v, at, "", sourceIntervention)
					return nil
				})
			}
		}
		e.record(events.EventTypeInterventionEffect, actorOracle, iv.ID, now, map[string]any{
			"intervention":   iv,
			"time_to_effect": res.TimeToEffect.Minutes(),
		})
		e.nurse(now, fmt.Sprintf("Administered %s %s %s.", iv.Name, iv.Dosage, iv.Route))
		out = iv.Clone()
		return nil
	})
	return out, err
}
