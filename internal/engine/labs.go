package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/domain/rules"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/oracle"
	"github.com/robbie-med/rhenal/internal/platform/logger"
)

// ResultStore holds orders, the latest value per test and the trending history.
type ResultStore struct {
	orders  []*lab.Order
	byID    map[string]*lab.Order
	latest  lab.CategoryMap
	history []lab.HistoryEntry
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		byID:   make(map[string]*lab.Order),
		latest: make(lab.CategoryMap),
	}
}

// Seed loads admission labs.
func (r *ResultStore) Seed(labs map[lab.Category]map[string]lab.Related, at time.Time) {
	for _, cat := range lab.Categories {
		for name, rel := range labs[cat] {
			r.Record(cat, name, rel, "", at)
		}
	}
}

// AddPending creates a pending order.
func (r *ResultStore) AddPending(kind lab.Kind, name string, cat lab.Category, testID string, at time.Time) *lab.Order {
	o := &lab.Order{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		Category:  cat,
		TestID:    testID,
		Status:    lab.StatusPending,
		OrderedAt: at,
	}
	r.orders = append(r.orders, o)
	r.byID[o.ID] = o
	return o
}

// AddResolved appends an entry that is resolved on creation.
func (r *ResultStore) AddResolved(kind lab.Kind, name string, cat lab.Category, at time.Time, res lab.Result) *lab.Order {
	o := r.AddPending(kind, name, cat, "", at)
	o.Resolve(at, res)
	return o
}

// Remove drops an order, used to roll back a failed order.
func (r *ResultStore) Remove(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, o := range r.orders {
		if o.ID == id {
			r.orders = append(r.orders[:i], r.orders[i+1:]...)
			break
		}
	}
	return true
}

// Get looks up an order by id.
func (r *ResultStore) Get(id string) (*lab.Order, bool) {
	o, ok := r.byID[id]
	return o, ok
}

// Resolve flips a pending order, matched by identity only.
func (r *ResultStore) Resolve(id string, at time.Time, res lab.Result) (*lab.Order, error) {
	o, ok := r.byID[id]
	if !ok || !o.Pending() {
		return nil, notFoundf("resolve order", "no pending order %s", id)
	}
	o.Resolve(at, res)
	return o, nil
}

// Record sets the latest value for a test and appends one history row.
func (r *ResultStore) Record(cat lab.Category, name string, rel lab.Related, interp string, at time.Time) {
	r.latest.Set(cat, name, lab.Reading{
		Value:          rel.Value,
		Units:          rel.Units,
		ReferenceRange: rel.ReferenceRange,
		Timestamp:      at,
	})
	r.history = append(r.history, lab.HistoryEntry{
		Name:           name,
		Category:       cat,
		Value:          rel.Value,
		Units:          rel.Units,
		ReferenceRange: rel.ReferenceRange,
		Interpretation: interp,
		IsCritical:     rel.IsCritical,
		Timestamp:      at,
	})
}

// Latest returns a copy of the category map.
func (r *ResultStore) Latest() lab.CategoryMap { return r.latest.Clone() }

// History returns a copy of the trending history.
func (r *ResultStore) History() []lab.HistoryEntry {
	return append([]lab.HistoryEntry(nil), r.history...)
}

// Orders returns copies of every order.
func (r *ResultStore) Orders() []lab.Order {
	out := make([]lab.Order, 0, len(r.orders))
	for _, o := range r.orders {
		c := *o
		if o.Result != nil {
			res := *o.Result
			c.Result = &res
		}
		out = append(out, c)
	}
	return out
}

// PendingNames lists the names of unresolved orders.
func (r *ResultStore) PendingNames() []string {
	var out []string
	for _, o := range r.orders {
		if o.Pending() {
			out = append(out, o.Name)
		}
	}
	return out
}

// Recent returns the last n history rows, optionally restricted to categories.
func (r *ResultStore) Recent(n int, cats ...lab.Category) []oracle.LabSummary {
	var out []oracle.LabSummary
	for i := len(r.history) - 1; i >= 0 && len(out) < n; i-- {
		h := r.history[i]
		if len(cats) > 0 && !hasCategory(cats, h.Category) {
			continue
		}
		out = append(out, summarizeLab(h))
	}
	// oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func hasCategory(cats []lab.Category, c lab.Category) bool {
	for _, x := range cats {
		if x == c {
			return true
		}
	}
	return false
}

func summarizeLab(h lab.HistoryEntry) oracle.LabSummary {
	return oracle.LabSummary{
		Name:       h.Name,
		Category:   h.Category,
		Value:      h.Value.String(),
		Units:      h.Units,
		Timestamp:  h.Timestamp.Format(time.RFC3339),
		IsCritical: h.IsCritical,
	}
}

// LabSpec names a test to order, by catalog id or by name and category.
type LabSpec struct {
	TestID   string       `json:"testId,omitempty"`
	Name     string       `json:"name,omitempty"`
	Category lab.Category `json:"category,omitempty"`
}

func (s LabSpec) resolve(op string, diagnostic bool) (lab.Test, error) {
	t := lab.Test{ID: s.TestID, Name: strings.TrimSpace(s.Name), Category: s.Category}
	if s.TestID != "" {
		found, ok := lab.Lookup(s.TestID)
		if !ok {
			return lab.Test{}, validationf(op, "unknown test %q", s.TestID)
		}
		t = found
	}
	if t.Name == "" {
		return lab.Test{}, validationf(op, "no test selected")
	}
	if !t.Category.Valid() {
		return lab.Test{}, validationf(op, "unknown category %q", t.Category)
	}
	if t.Category.IsDiagnostic() != diagnostic {
		kind := "lab"
		if diagnostic {
			kind = "diagnostic"
		}
		return lab.Test{}, validationf(op, "%s is not a %s order", t.Name, kind)
	}
	return t, nil
}

// OrderLab places a lab order. The pending entry exists as soon as the order
// is accepted; a failed projection removes it again.
func (e *Engine) OrderLab(ctx context.Context, s LabSpec) (*lab.Order, error) {
	const op = "order lab"
	t, err := s.resolve(op, false)
	if err != nil {
		return nil, err
	}
	var (
		order *lab.Order
		lc    oracle.LabContext
		epoch uint64
	)
	err = e.exec(ctx, func() error {
		if e.patient == nil {
			return noSession(op)
		}
		now := e.clock.Now()
		order = e.results.AddPending(lab.KindLab, t.Name, t.Category, t.ID, now)
		lc = oracle.LabContext{
			Patient:       oracle.SummarizePatient(e.patient),
			Test:          t.Name,
			Category:      t.Category,
			CurrentVitals: e.currentVitals(),
			History:       e.results.Recent(oracle.MaxCategoryHistory, t.Category),
		}
		if t.Category == lab.CategoryBasic || t.Category == lab.CategoryRenal || t.Category == lab.CategoryUrinalysis {
			io := e.ledger.Summary(now, rules.DayWindow)
			lc.IO = &io
			lc.RecentFluids = e.registry.Summaries(now, isFluid)
		}
		epoch = e.epoch
		e.begin(op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, callErr := e.oracle.LabResult(ctx, lc)

	var out *lab.Order
	err = e.exec(context.WithoutCancel(ctx), func() error {
		if !e.current(epoch, op) {
			return staleErr(op, epoch)
		}
		e.end(op)
		if callErr != nil {
			e.results.Remove(order.ID)
			return e.fail(op, callErr)
		}
		e.succeed(op, res.Meta)
		o, ok := e.results.Get(order.ID)
		if !ok {
			return notFoundf(op, "order %s vanished", order.ID)
		}
		o.TimeToResult = res.TimeToResult
		e.charge(e.clock.Now(), -1, "lab order: "+o.Name)
		e.sched.Schedule(o.OrderedAt.Add(res.TimeToResult), EventLabResolution, o.ID, e.labResolver(epoch, o.ID, res))
		e.record(events.EventTypeLabOrdered, actorUser, o.ID, o.OrderedAt, o)
		c := *o
		out = &c
		return nil
	})
	return out, err
}

func (e *Engine) labResolver(epoch uint64, id string, res *oracle.LabResult) Callback {
	return func(at time.Time) error {
		if !e.current(epoch, "lab resolution") {
			return nil
		}
		o, err := e.results.Resolve(id, at, lab.Result{
			Value:          res.Value,
			Units:          res.Units,
			ReferenceRange: res.ReferenceRange,
			Interpretation: res.Interpretation,
			IsCritical:     res.IsCritical,
			Related:        res.RelatedValues,
		})
		if err != nil {
			return err
		}
		e.results.Record(o.Category, o.Name, lab.Related{
			Value:          res.Value,
			Units:          res.Units,
			ReferenceRange: res.ReferenceRange,
			IsCritical:     res.IsCritical,
		}, res.Interpretation, at)
		for name, rel := range res.RelatedValues {
			e.results.Record(o.Category, name, rel, "", at)
		}
		e.record(events.EventTypeLabResolved, actorScheduler, id, at, o)

		msg := fmt.Sprintf("Results for %s are now available.", o.Name)
		if res.IsCritical {
			msg = fmt.Sprintf("CRITICAL RESULT: %s is %s %s. %s", o.Name, res.Value, res.Units, res.Interpretation)
			e.log.Warn("critical lab result",
				logger.String("session", e.sessionID),
				logger.String("order", id),
				logger.String("test", o.Name))
			e.advise(at, "critical-result", msg)
			return nil
		}
		e.nurse(at, msg)
		return nil
	}
}

// OrderDiagnostic places an imaging or procedure order.
func (e *Engine) OrderDiagnostic(ctx context.Context, s LabSpec) (*lab.Order, error) {
	const op = "order diagnostic"
	t, err := s.resolve(op, true)
	if err != nil {
		return nil, err
	}
	var (
		order *lab.Order
		dc    oracle.DiagnosticContext
		epoch uint64
	)
	err = e.exec(ctx, func() error {
		if e.patient == nil {
			return noSession(op)
		}
		order = e.results.AddPending(lab.KindDiagnostic, t.Name, t.Category, t.ID, e.clock.Now())
		dc = oracle.DiagnosticContext{
			Patient:  oracle.SummarizePatient(e.patient),
			Test:     t.Name,
			Category: t.Category,
		}
		epoch = e.epoch
		e.begin(op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, callErr := e.oracle.DiagnosticResult(ctx, dc)

	var out *lab.Order
	err = e.exec(context.WithoutCancel(ctx), func() error {
		if !e.current(epoch, op) {
			return staleErr(op, epoch)
		}
		e.end(op)
		if callErr != nil {
			e.results.Remove(order.ID)
			return e.fail(op, callErr)
		}
		e.succeed(op, res.Meta)
		o, ok := e.results.Get(order.ID)
		if !ok {
			return notFoundf(op, "order %s vanished", order.ID)
		}
		o.TimeToResult = res.TimeToResult
		e.charge(e.clock.Now(), -1, "diagnostic order: "+o.Name)
		id := o.ID
		e.sched.Schedule(o.OrderedAt.Add(res.TimeToResult), EventDiagnosticResolution, id, func(at time.Time) error {
			if !e.current(epoch, "diagnostic resolution") {
				return nil
			}
			o, err := e.results.Resolve(id, at, lab.Result{
				Value:          lab.Text(res.Interpretation),
				Interpretation: res.Interpretation,
				Report:         res.Results,
				KeyFindings:    res.KeyFindings,
			})
			if err != nil {
				return err
			}
			e.record(events.EventTypeDiagnosticResolved, actorScheduler, id, at, o)
			e.nurse(at, fmt.Sprintf("Results for %s are now available.", o.Name))
			return nil
		})
		e.record(events.EventTypeDiagnosticOrdered, actorUser, id, o.OrderedAt, o)
		c := *o
		out = &c
		return nil
	})
	return out, err
}

// RequestUrineStudies runs a urine chemistry panel. It needs urine output
// recorded within the last shift.
func (e *Engine) RequestUrineStudies(ctx context.Context) (*lab.Order, error) {
	const op = "urine studies"
	var (
		uc    oracle.UrineContext
		epoch uint64
	)
	err := e.exec(ctx, func() error {
		if e.patient == nil {
			return noSession(op)
		}
		now := e.clock.Now()
		if !e.ledger.HasUrineSince(now, rules.ShiftWindow) {
			return validationf(op, "no urine output recorded in the last 8 hours")
		}
		uc = oracle.UrineContext{
			Patient:       oracle.SummarizePatient(e.patient),
			UrineOutput8h: e.ledger.Summary(now, rules.ShiftWindow).Urine,
			SerumLabs:     e.results.Recent(oracle.MaxRecentLabs, lab.CategoryBasic, lab.CategoryRenal),
		}
		epoch = e.epoch
		e.begin(op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, callErr := e.oracle.UrineStudies(ctx, uc)

	var out *lab.Order
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
		report := make(map[string]string)
		for _, r := range res.Readings() {
			e.results.Record(lab.CategoryUrinalysis, r.Name, lab.Related{
				Value:          lab.Number(r.Value),
				Units:          r.Units,
				ReferenceRange: r.ReferenceRange,
			}, "", now)
			report[r.Name] = strings.TrimSpace(fmt.Sprintf("%g %s", r.Value, r.Units))
		}
		o := e.results.AddResolved(lab.KindUrineStudies, "Urine Studies", lab.CategoryUrinalysis, now, lab.Result{
			Value:          lab.Number(res.FeNa),
			Units:          "%",
			Interpretation: res.Interpretation,
			Report:         report,
		})
		e.record(events.EventTypeUrineStudies, actorOracle, o.ID, now, o)
		e.nurse(now, fmt.Sprintf("Urine studies completed. FENa: %.2f%%. %s", res.FeNa, res.Interpretation))
		c := *o
		out = &c
		return nil
	})
	return out, err
}
