// Package rules contains the pure calculation logic for physiology and fluid balance.
// This package is PURE and must NOT import any infrastructure packages.
package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/robbie-med/rhenal/internal/domain/fluid"
	"github.com/robbie-med/rhenal/internal/domain/patient"
)

// Random is the subset of *rand.Rand the drift model needs.
type Random interface {
	Float64() float64
}

// Drift bounds, as fractions of the current value.
const (
	DriftCardio = 0.05  // HR, SBP, DBP, RR
	DriftTemp   = 0.025 // temperature
	DriftSpO2   = 0.01
	MaxSpO2     = 100
)

// jitter scales v by a uniform factor in [1-frac, 1+frac].
func jitter(r Random, v, frac float64) float64 {
	return v * (1 + frac*(2*r.Float64()-1))
}

func clampInt(v float64, hi int) int {
	n := int(math.Round(v))
	if n < 0 {
		n = 0
	}
	if hi > 0 && n > hi {
		n = hi
	}
	return n
}

// PassiveDrift applies bounded multiplicative noise to v.
// Results are never negative and SpO2 never exceeds 100.
func PassiveDrift(v patient.Vitals, r Random) patient.Vitals {
	out := patient.Vitals{
		HR:   clampInt(jitter(r, float64(v.HR), DriftCardio), 0),
		SBP:  clampInt(jitter(r, float64(v.SBP), DriftCardio), 0),
		DBP:  clampInt(jitter(r, float64(v.DBP), DriftCardio), 0),
		RR:   clampInt(jitter(r, float64(v.RR), DriftCardio), 0),
		Temp: math.Max(0, math.Round(jitter(r, v.Temp, DriftTemp)*10)/10),
		SpO2: clampInt(jitter(r, float64(v.SpO2), DriftSpO2), MaxSpO2),
	}
	return out
}

// Change thresholds; a delta strictly greater than these is significant.
const (
	ThresholdHR   = 15
	ThresholdSBP  = 20
	ThresholdDBP  = 15
	ThresholdRR   = 5
	ThresholdTemp = 0.5
	ThresholdSpO2 = 5
)

// Change describes one significant delta between two samples.
type Change struct {
	Field string  `json:"field"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
}

func (c Change) String() string {
	dir := "increased"
	if c.To < c.From {
		dir = "decreased"
	}
	return fmt.Sprintf("%s %s from %g to %g", c.Field, dir, c.From, c.To)
}

// SignificantChanges lists the fields whose delta exceeds its threshold.
func SignificantChanges(prev, next patient.Vitals) []Change {
	var out []Change
	check := func(field string, a, b, limit float64) {
		if math.Abs(b-a) > limit {
			out = append(out, Change{Field: field, From: a, To: b})
		}
	}
	check("Heart rate", float64(prev.HR), float64(next.HR), ThresholdHR)
	check("Systolic BP", float64(prev.SBP), float64(next.SBP), ThresholdSBP)
	check("Diastolic BP", float64(prev.DBP), float64(next.DBP), ThresholdDBP)
	check("Respiratory rate", float64(prev.RR), float64(next.RR), ThresholdRR)
	check("Temperature", prev.Temp, next.Temp, ThresholdTemp)
	check("SpO2", float64(prev.SpO2), float64(next.SpO2), ThresholdSpO2)
	return out
}

// Fluid balance windows.
const (
	ShiftWindow   = 8 * time.Hour
	DayWindow     = 24 * time.Hour
	OliguriaSpan  = 4 * time.Hour
	LargeInputML  = 500.0
	OliguriaLimit = 0.5 // mL/kg/hr
)

// ComputeBalance derives shift, 24h and cumulative net balance from the full history at now.
func ComputeBalance(entries []fluid.Entry, now time.Time) fluid.Balance {
	var b fluid.Balance
	for _, e := range entries {
		amt := e.Amount
		if e.Direction == fluid.DirectionOutput {
			amt = -amt
		}
		age := now.Sub(e.Timestamp)
		if age <= ShiftWindow {
			b.Shift += amt
		}
		if age <= DayWindow {
			b.H24 += amt
		}
		b.Cumulative += amt
	}
	return b
}

// IsLargeInput reports whether an input amount warrants an advisory.
func IsLargeInput(amount float64) bool { return amount >= LargeInputML }

// UrineRate returns the mean urine output in mL/kg/hr over the trailing span.
// ok is false when weight is unknown or urine data does not cover the span.
func UrineRate(entries []fluid.Entry, now time.Time, weightKg float64) (rate float64, ok bool) {
	if weightKg <= 0 {
		return 0, false
	}
	var (
		total    float64
		earliest time.Time
		seen     bool
	)
	for _, e := range entries {
		if e.Direction != fluid.DirectionOutput || e.Type != string(fluid.OutputUrine) {
			continue
		}
		if !seen || e.Timestamp.Before(earliest) {
			earliest = e.Timestamp
			seen = true
		}
		if now.Sub(e.Timestamp) <= OliguriaSpan {
			total += e.Amount
		}
	}
	if !seen || now.Sub(earliest) < OliguriaSpan {
		return 0, false
	}
	return total / OliguriaSpan.Hours() / weightKg, true
}

// IsOliguric reports whether a urine rate is below the oliguria limit.
func IsOliguric(rate float64) bool { return rate < OliguriaLimit }

// InfusionVolume is the volume delivered at rate mL/hr over elapsed.
func InfusionVolume(rate float64, elapsed time.Duration) float64 {
	if rate <= 0 || elapsed <= 0 {
		return 0
	}
	return rate * elapsed.Minutes() / 60
}
