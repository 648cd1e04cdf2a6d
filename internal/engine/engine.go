package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robbie-med/rhenal/internal/domain/patient"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/oracle"
	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

// Journal actors.
const (
	actorUser      = "user"
	actorNurse     = "nurse"
	actorOracle    = "oracle"
	actorScheduler = "scheduler"
	actorSystem    = "system"
)

// Oracle is the clinical-reasoning boundary. *oracle.Client implements it.
type Oracle interface {
	GenerateCase(ctx context.Context, req oracle.CaseRequest) (*oracle.CaseResult, error)
	UpdateVitals(ctx context.Context, vc oracle.VitalsContext) (*oracle.VitalsUpdate, error)
	InterventionEffect(ctx context.Context, ec oracle.EffectContext) (*oracle.InterventionEffect, error)
	LabResult(ctx context.Context, lc oracle.LabContext) (*oracle.LabResult, error)
	DiagnosticResult(ctx context.Context, dc oracle.DiagnosticContext) (*oracle.DiagnosticResult, error)
	AssessFluid(ctx context.Context, fc oracle.FluidContext) (*oracle.FluidAssessment, error)
	UrineStudies(ctx context.Context, uc oracle.UrineContext) (*oracle.UrineStudies, error)
	Consult(ctx context.Context, cc oracle.ConsultContext) (*oracle.TaggedReply, error)
}

// Options configures an Engine.
type Options struct {
	Start         time.Time
	Scale         float64
	VitalsCadence time.Duration
	QueueSize     int
	Seed          int64
}

func (o *Options) defaults() {
	if o.Start.IsZero() {
		o.Start = time.Now().Truncate(time.Minute)
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
	if o.VitalsCadence <= 0 {
		o.VitalsCadence = time.Minute
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
}

// Usage is per-session oracle accounting.
type Usage struct {
	Calls   int     `json:"calls"`
	CostUSD float64 `json:"costUsd"`
}

// ErrorStatus is the transient error shown to the player.
type ErrorStatus struct {
	Op        string    `json:"op"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Engine is the aggregate root. Every mutation, whether a command, a
// scheduled event or an oracle completion, runs on the single command loop
// started by Run.
type Engine struct {
	oracle  Oracle
	journal *events.EventLog
	log     *logger.Logger
	metrics *metrics.Collector
	opts    Options

	cmds  chan func()
	done  chan struct{}
	once  sync.Once
	async sync.WaitGroup

	// Loop-owned state below.
	runCtx    context.Context
	rng       *rand.Rand
	clock     *Clock
	sched     *Scheduler
	sessionID string
	epoch     uint64
	patient   *patient.Patient
	vitals    *VitalsEngine
	ledger    *Ledger
	registry  *Registry
	results   *ResultStore
	score     *ScoreLedger
	chat      *Conversations
	usage     Usage
	lastErr   *ErrorStatus
	inflight  map[string]int
}

// NewEngine wires the engine. journal and m may be nil.
func NewEngine(o Oracle, journal *events.EventLog, log *logger.Logger, m *metrics.Collector, opts Options) *Engine {
	opts.defaults()
	if journal == nil {
		journal = events.NewEventLog(nil)
	}
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	e := &Engine{
		oracle:  o,
		journal: journal,
		log:     log,
		metrics: m,
		opts:    opts,
		cmds:    make(chan func(), opts.QueueSize),
		done:    make(chan struct{}),
		runCtx:  context.Background(),
		rng:     rand.New(rand.NewSource(opts.Seed)),
		clock:   NewClock(opts.Start, opts.Scale),
	}
	e.sched = NewScheduler(log, m)
	e.sched.OnFailure(e.onCallbackFailure)
	e.reset()
	return e
}

// reset installs empty session components.
func (e *Engine) reset() {
	e.vitals = NewVitalsEngine(e.rng)
	e.ledger = NewLedger()
	e.registry = NewRegistry()
	e.results = NewResultStore()
	e.score = &ScoreLedger{}
	e.chat = &Conversations{}
	e.usage = Usage{}
	e.lastErr = nil
	e.inflight = make(map[string]int)
}

// Journal exposes the session journal.
func (e *Engine) Journal() *events.EventLog { return e.journal }

// Start runs the command loop in a goroutine.
func (e *Engine) Start(ctx context.Context) {
	go func() { _ = e.Run(ctx) }()
}

// Run processes commands until ctx is done. Call it once.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	e.log.Info("engine command loop started", logger.Time("virtual_now", e.clock.Now()))
	defer e.once.Do(func() { close(e.done) })
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine command loop stopped")
			return ctx.Err()
		case cmd := <-e.cmds:
			cmd()
		}
	}
}

// exec runs fn on the command loop and waits for its result.
func (e *Engine) exec(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	cmd := func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("command panicked", logger.Any("panic", r))
				res <- fmt.Errorf("command panicked: %v", r)
			}
		}()
		res <- fn()
	}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn without waiting. Dropped once the loop has stopped.
func (e *Engine) post(fn func()) {
	cmd := func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("completion panicked", logger.Any("panic", r))
			}
		}()
		fn()
	}
	select {
	case e.cmds <- cmd:
	case <-e.done:
	}
}

// goAsync runs call off the loop and applies its returned completion on the loop.
func (e *Engine) goAsync(call func(ctx context.Context) func()) {
	ctx := e.runCtx
	e.async.Add(1)
	go func() {
		defer e.async.Done()
		apply := call(ctx)
		e.post(apply)
	}()
}

// WaitIdle blocks until background oracle calls have finished and their
// completions have been applied.
func (e *Engine) WaitIdle(ctx context.Context) error {
	waited := make(chan struct{})
	go func() {
		e.async.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.exec(ctx, func() error { return nil })
}

// current reports whether a result belongs to the live session; stale results
// are journaled and dropped.
func (e *Engine) current(epoch uint64, op string) bool {
	if epoch == e.epoch {
		return true
	}
	e.metrics.RecordStaleDrop()
	e.log.Info("stale result dropped",
		logger.String("op", op),
		logger.Uint64("result_epoch", epoch),
		logger.Uint64("epoch", e.epoch))
	e.record(events.EventTypeStaleDrop, actorSystem, "", e.clock.Now(), map[string]any{"op": op, "epoch": epoch})
	return false
}

func (e *Engine) begin(op string) { e.inflight[op]++ }

func (e *Engine) end(op string) {
	if e.inflight[op] <= 1 {
		delete(e.inflight, op)
		return
	}
	e.inflight[op]--
}

// fail records an oracle failure as the transient error and returns it wrapped.
func (e *Engine) fail(op string, err error) error {
	now := e.clock.Now()
	e.lastErr = &ErrorStatus{Op: op, Message: err.Error(), Timestamp: now}
	e.log.Warn("oracle failure",
		logger.String("session", e.sessionID),
		logger.Uint64("epoch", e.epoch),
		logger.String("op", op),
		logger.Err(err))
	e.record(events.EventTypeOracleFailure, actorOracle, "", now, map[string]string{"op": op, "error": err.Error()})
	return oracleErr(op, err)
}

// succeed bills a completed call and clears a matching transient error.
func (e *Engine) succeed(op string, meta oracle.Meta) {
	e.usage.Calls++
	e.usage.CostUSD += meta.CostUSD
	if e.lastErr != nil && e.lastErr.Op == op {
		e.lastErr = nil
	}
}

func (e *Engine) onCallbackFailure(kind EventKind, owner string, at time.Time, err error) {
	e.record(events.EventTypeCallbackFailure, actorScheduler, owner, at, map[string]string{
		"kind":  string(kind),
		"error": err.Error(),
	})
}

// record appends to the journal under the live session.
func (e *Engine) record(t events.EventType, actor, target string, at time.Time, payload any) {
	e.journal.Record(t, e.sessionID, e.epoch, at, actor, target, payload)
	e.log.Event(string(t), actor, target)
}

// Initialize generates a new patient and replaces the session. On failure
// the previous session continues untouched.
func (e *Engine) Initialize(ctx context.Context, scenarioHint string) error {
	const op = "initialize"
	var epoch uint64
	err := e.exec(ctx, func() error {
		epoch = e.epoch
		e.begin(op)
		return nil
	})
	if err != nil {
		return err
	}

	res, callErr := e.oracle.GenerateCase(ctx, oracle.CaseRequest{ScenarioHint: scenarioHint})

	return e.exec(context.WithoutCancel(ctx), func() error {
		if epoch == e.epoch {
			e.end(op)
		}
		if callErr != nil {
			return e.fail(op, callErr)
		}
		cancelled := e.sched.CancelAll()
		e.epoch++
		e.sessionID = uuid.NewString()
		e.reset()
		now := e.clock.Now()

		p := res.Patient
		p.ID = e.sessionID
		e.patient = &p
		e.succeed(op, res.Meta)
		e.results.Seed(res.Labs, now)
		s := e.vitals.Seed(res.Vitals, now)

		e.log.Info("session initialized",
			logger.String("session", e.sessionID),
			logger.Uint64("epoch", e.epoch),
			logger.String("patient", p.Summary()),
			logger.Int("cancelled_events", cancelled))
		e.record(events.EventTypeSessionInit, actorOracle, e.sessionID, now, map[string]any{
			"patient": e.patient,
			"hint":    scenarioHint,
		})
		e.noteVitals(s, nil, "", sourceCase)

		gender := string(p.Demographics.Gender)
		if gender != "" {
			gender = gender[:1]
		}
		e.nurse(now, fmt.Sprintf("New patient arrived. %s, %dy %s with %s.",
			p.Demographics.Name, p.Demographics.Age, gender, p.ClinicalContext))
		return nil
	})
}

// SetTimeScale changes the virtual time rate. Scheduled fire times are untouched.
func (e *Engine) SetTimeScale(ctx context.Context, factor float64) error {
	return e.exec(ctx, func() error {
		if err := e.clock.SetScale(factor); err != nil {
			return err
		}
		e.record(events.EventTypeTimeScale, actorUser, "", e.clock.Now(), map[string]float64{"scale": factor})
		return nil
	})
}

// SetPaused pauses or resumes virtual time.
func (e *Engine) SetPaused(ctx context.Context, paused bool) error {
	return e.exec(ctx, func() error {
		e.clock.SetPaused(paused)
		e.record(events.EventTypeClockPause, actorUser, "", e.clock.Now(), map[string]bool{"paused": paused})
		return nil
	})
}

// Tick advances virtual time by real × scale, fires every due event and
// samples vitals when the cadence is reached.
func (e *Engine) Tick(ctx context.Context, real time.Duration) (time.Time, error) {
	var now time.Time
	err := e.exec(ctx, func() error {
		start := time.Now()
		now = e.clock.Advance(real)
		fired := e.sched.Drain(now)
		e.tickVitals(now)
		e.metrics.RecordTick(time.Since(start), now, e.clock.Scale())
		if fired > 0 {
			e.log.Debug("tick", logger.Time("virtual_now", now), logger.Int("fired", fired))
		}
		return nil
	})
	return now, err
}

// ClearError dismisses the transient error.
func (e *Engine) ClearError(ctx context.Context) error {
	return e.exec(ctx, func() error {
		e.lastErr = nil
		return nil
	})
}

func (e *Engine) inflightOps() []string {
	ops := make([]string, 0, len(e.inflight))
	for op, n := range e.inflight {
		for i := 0; i < n; i++ {
			ops = append(ops, op)
		}
	}
	sort.Strings(ops)
	return ops
}
