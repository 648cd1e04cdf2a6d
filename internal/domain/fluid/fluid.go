// Package fluid defines intake/output entries, balances and the IV fluid catalog.
// This package is PURE and must NOT import any infrastructure packages.
package fluid

import "time"

// Direction separates intake from output.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// InputType is the intake route.
type InputType string

const (
	InputOral  InputType = "oral"
	InputIV    InputType = "iv"
	InputOther InputType = "other"
)

// OutputType is the output source.
type OutputType string

const (
	OutputUrine  OutputType = "urine"
	OutputEmesis OutputType = "emesis"
	OutputDrain  OutputType = "drain"
	OutputOther  OutputType = "other"
)

// ValidInput reports whether t is a known input type.
func ValidInput(t string) bool {
	switch InputType(t) {
	case InputOral, InputIV, InputOther:
		return true
	}
	return false
}

// ValidOutput reports whether t is a known output type.
func ValidOutput(t string) bool {
	switch OutputType(t) {
	case OutputUrine, OutputEmesis, OutputDrain, OutputOther:
		return true
	}
	return false
}

// Entry is one intake or output record. Amount is in mL and always > 0.
type Entry struct {
	ID         string            `json:"id"`
	Direction  Direction         `json:"direction"`
	Type       string            `json:"type"`
	Subtype    string            `json:"subtype,omitempty"`
	Amount     float64           `json:"value"`
	Properties map[string]string `json:"properties,omitempty"`
	SourceID   string            `json:"sourceId,omitempty"` // owning intervention, if any
	Timestamp  time.Time         `json:"timestamp"`
}

// Balance is the derived net intake minus output over each window.
type Balance struct {
	Shift      float64 `json:"shift"`
	H24        float64 `json:"h24"`
	Cumulative float64 `json:"cumulative"`
}

// Totals are per-type running sums for one direction.
type Totals struct {
	ByType map[string]float64 `json:"byType"`
	Total  float64            `json:"total"`
}

// Add accumulates amount under type t.
func (t *Totals) Add(typ string, amount float64) {
	if t.ByType == nil {
		t.ByType = make(map[string]float64)
	}
	t.ByType[typ] += amount
	t.Total += amount
}

// Clone copies the per-type map.
func (t Totals) Clone() Totals {
	out := Totals{Total: t.Total, ByType: make(map[string]float64, len(t.ByType))}
	for k, v := range t.ByType {
		out.ByType[k] = v
	}
	return out
}
