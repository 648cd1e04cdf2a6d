// Package scenario runs scripted clinical drills against an in-process engine.
// Each drill scripts the oracle, drives virtual time and checks what the
// player would see. The scenario-runner binary and the package tests use it.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/engine"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/infra/ai"
	"github.com/robbie-med/rhenal/internal/oracle"
	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

// Start is the virtual admission time used by every drill.
var Start = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// Result captures the outcome of one drill.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Reason   string        `json:"reason"`
	Events   int           `json:"events"`
	Duration time.Duration `json:"duration"`
}

// Env is one fresh engine with a scripted oracle.
type Env struct {
	Engine   *engine.Engine
	Provider *ai.ScriptedProvider
	Journal  *events.EventLog
}

// Tick advances virtual time by d at scale 1.
func (env *Env) Tick(ctx context.Context, d time.Duration) error {
	_, err := env.Engine.Tick(ctx, d)
	return err
}

// Count returns the number of journaled events of type t.
func (env *Env) Count(t events.EventType) int {
	n := 0
	for _, e := range env.Journal.Replay() {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Drill is one named scenario. Check returns nil when the drill passes.
type Drill struct {
	Name        string
	Description string
	Check       func(ctx context.Context, env *Env) error
}

// Runner executes drills, each against its own engine.
type Runner struct {
	logger  *logger.Logger
	metrics *metrics.Collector
	timeout time.Duration
	results []Result
}

// NewRunner creates a drill runner.
func NewRunner(log *logger.Logger, m *metrics.Collector) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Runner{logger: log, metrics: m, timeout: 30 * time.Second}
}

// Run executes d and records its result.
func (r *Runner) Run(ctx context.Context, d Drill) Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	p := ai.NewScriptedProvider(11)
	client := oracle.NewClient(p, oracle.Options{Timeout: time.Second}, r.logger, r.metrics)
	journal := events.NewEventLog(nil)
	eng := engine.NewEngine(client, journal, r.logger, r.metrics, engine.Options{
		Start:         Start,
		Seed:          5,
		VitalsCadence: 24 * time.Hour,
	})
	eng.Start(ctx)
	env := &Env{Engine: eng, Provider: p, Journal: journal}

	started := time.Now()
	err := d.Check(ctx, env)
	res := Result{
		Name:     d.Name,
		Passed:   err == nil,
		Reason:   "ok",
		Events:   journal.Len(),
		Duration: time.Since(started),
	}
	if err != nil {
		res.Reason = err.Error()
	}
	r.logger.Info("drill finished",
		logger.String("drill", d.Name),
		logger.Bool("passed", res.Passed),
		logger.String("reason", res.Reason),
		logger.Int("events", res.Events))
	r.results = append(r.results, res)
	return res
}

// RunAll executes every drill in order.
func (r *Runner) RunAll(ctx context.Context, drills []Drill) []Result {
	out := make([]Result, 0, len(drills))
	for _, d := range drills {
		out = append(out, r.Run(ctx, d))
	}
	return out
}

// Results returns every result recorded so far.
func (r *Runner) Results() []Result {
	return append([]Result(nil), r.results...)
}

// admit initializes with the synthesized case.
func admit(ctx context.Context, env *Env) error {
	return env.Engine.Initialize(ctx, "prerenal AKI")
}

func expect(ok bool, format string, args ...any) error {
	if ok {
		return nil
	}
	return fmt.Errorf(format, args...)
}

func findOrder(s *engine.Snapshot, id string) *lab.Order {
	for i := range s.Results {
		if s.Results[i].ID == id {
			return &s.Results[i]
		}
	}
	return nil
}

// Drills returns the built-in drill set.
func Drills() []Drill {
	return []Drill{
		{
			Name:        "lab-turnaround",
			Description: "A lab result appears exactly at its turnaround time and costs one point.",
			Check:       checkLabTurnaround,
		},
		{
			Name:        "stale-after-reinit",
			Description: "A projection that returns after re-initialization is dropped.",
			Check:       checkStaleAfterReinit,
		},
		{
			Name:        "oliguria-watch",
			Description: "Sustained low urine output raises an advisory.",
			Check:       checkOliguria,
		},
		{
			Name:        "oracle-outage",
			Description: "A failing oracle leaves the session intact and surfaces the error.",
			Check:       checkOracleOutage,
		},
		{
			Name:        "infusion-expiry",
			Description: "A timed infusion delivers its volume and stops on schedule.",
			Check:       checkInfusionExpiry,
		},
	}
}

func checkLabTurnaround(ctx context.Context, env *Env) error {
	if err := admit(ctx, env); err != nil {
		return err
	}
	env.Provider.Push(string(oracle.SchemaLabResult), ai.ScriptedReply{Content: `{"value":5.8,"units":"mEq/L",` +
		`"referenceRange":"3.5-5.0","interpretation":"Hyperkalemia","timeToResult":20,"isCritical":false}`})
	o, err := env.Engine.OrderLab(ctx, engine.LabSpec{TestID: "potassium"})
	if err != nil {
		return err
	}
	if err := env.Tick(ctx, 19*time.Minute); err != nil {
		return err
	}
	s, err := env.Engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	if got := findOrder(s, o.ID); got == nil || !got.Pending() {
		return errors.New("result visible before its turnaround time")
	}
	if err := env.Tick(ctx, time.Minute); err != nil {
		return err
	}
	if s, err = env.Engine.Snapshot(ctx); err != nil {
		return err
	}
	got := findOrder(s, o.ID)
	if got == nil || got.Status != lab.StatusResolved {
		return errors.New("result not resolved at its turnaround time")
	}
	if err := expect(got.ResolvedAt.Equal(Start.Add(20*time.Minute)), "resolved at %s", got.ResolvedAt); err != nil {
		return err
	}
	return expect(s.Score == -1, "score %d, want -1", s.Score)
}

func checkStaleAfterReinit(ctx context.Context, env *Env) error {
	if err := admit(ctx, env); err != nil {
		return err
	}
	env.Provider.Push(string(oracle.SchemaLabResult), ai.ScriptedReply{
		Content: `{"value":4.1,"units":"mEq/L","referenceRange":"3.5-5.0","timeToResult":10}`,
		Delay:   200 * time.Millisecond,
	})
	orderErr := make(chan error, 1)
	go func() {
		_, err := env.Engine.OrderLab(ctx, engine.LabSpec{TestID: "potassium"})
		orderErr <- err
	}()
	if err := waitPending(ctx, env, "order lab"); err != nil {
		return err
	}
	if err := admit(ctx, env); err != nil {
		return err
	}
	err := <-orderErr
	if !errors.Is(err, engine.ErrStale) {
		return fmt.Errorf("order returned %v, want stale", err)
	}
	s, err := env.Engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := expect(len(s.Results) == 0, "new session has %d results", len(s.Results)); err != nil {
		return err
	}
	return expect(env.Count(events.EventTypeStaleDrop) == 1, "stale drop not journaled")
}

// waitPending polls until op is in flight.
func waitPending(ctx context.Context, env *Env, op string) error {
	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()
	for {
		s, err := env.Engine.Snapshot(ctx)
		if err != nil {
			return err
		}
		for _, p := range s.Status.Pending {
			if p == op {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s never started: %w", op, ctx.Err())
		case <-poll.C:
		}
	}
}

func checkOliguria(ctx context.Context, env *Env) error {
	if err := admit(ctx, env); err != nil {
		return err
	}
	if _, err := env.Engine.RecordOutput(ctx, engine.OutputSpec{Type: "urine", Amount: 15}); err != nil {
		return err
	}
	if err := env.Tick(ctx, 6*time.Hour); err != nil {
		return err
	}
	if _, err := env.Engine.RecordOutput(ctx, engine.OutputSpec{Type: "urine", Amount: 15}); err != nil {
		return err
	}
	return expect(env.Count(events.EventTypeAdvisory) >= 1, "no oliguria advisory")
}

func checkOracleOutage(ctx context.Context, env *Env) error {
	if err := admit(ctx, env); err != nil {
		return err
	}
	before, err := env.Engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	env.Provider.Push(string(oracle.SchemaCaseGeneration), ai.ScriptedReply{Err: errors.New("upstream 503")})
	if err := env.Engine.Initialize(ctx, ""); !errors.Is(err, engine.ErrOracle) {
		return fmt.Errorf("initialize returned %v, want oracle error", err)
	}
	after, err := env.Engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := expect(after.SessionID == before.SessionID, "session replaced despite failure"); err != nil {
		return err
	}
	if err := expect(after.Status.LastError != nil, "error not surfaced"); err != nil {
		return err
	}
	return expect(env.Count(events.EventTypeOracleFailure) == 1, "failure not journaled")
}

func checkInfusionExpiry(ctx context.Context, env *Env) error {
	if err := admit(ctx, env); err != nil {
		return err
	}
	if _, err := env.Engine.StartInfusion(ctx, engine.InfusionSpec{FluidID: "ns", Rate: 90, Duration: 40 * time.Minute}); err != nil {
		return err
	}
	if err := env.Engine.WaitIdle(ctx); err != nil {
		return err
	}
	if err := env.Tick(ctx, 2*time.Hour); err != nil {
		return err
	}
	s, err := env.Engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := expect(len(s.Interventions) == 1 && !s.Interventions[0].Active, "infusion still running"); err != nil {
		return err
	}
	delivered := s.IO.Inputs.ByType["iv"]
	return expect(delivered > 59.99 && delivered < 60.01, "delivered %.2f mL, want 60", delivered)
}
