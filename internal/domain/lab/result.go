package lab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Value is a lab value that is either numeric or free text ("positive", "1+").
type Value struct {
	Num    float64
	Text   string
	IsText bool
}

// Number builds a numeric value.
func Number(f float64) Value { return Value{Num: f} }

// Text builds a textual value.
func Text(s string) Value { return Value{Text: s, IsText: true} }

func (v Value) String() string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

// MarshalJSON keeps the original number/string shape.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsText {
		return json.Marshal(v.Text)
	}
	return json.Marshal(v.Num)
}

// UnmarshalJSON accepts a JSON number or string. Null is rejected.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return fmt.Errorf("lab value: missing")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("lab value: %w", err)
	}
	*v = Number(f)
	return nil
}

// Reading is the latest value of one test inside a category map.
type Reading struct {
	Value          Value     `json:"value"`
	Units          string    `json:"units"`
	ReferenceRange string    `json:"referenceRange"`
	Timestamp      time.Time `json:"timestamp"`
}

// CategoryMap holds only the latest reading per test name.
type CategoryMap map[Category]map[string]Reading

// Set records the latest reading for name in category c.
func (m CategoryMap) Set(c Category, name string, r Reading) {
	if m[c] == nil {
		m[c] = make(map[string]Reading)
	}
	m[c][name] = r
}

// Clone copies both map levels.
func (m CategoryMap) Clone() CategoryMap {
	out := make(CategoryMap, len(m))
	for c, tests := range m {
		inner := make(map[string]Reading, len(tests))
		for k, v := range tests {
			inner[k] = v
		}
		out[c] = inner
	}
	return out
}

// HistoryEntry is one row of the append-only trending history.
type HistoryEntry struct {
	Name           string    `json:"name"`
	Category       Category  `json:"category"`
	Value          Value     `json:"value"`
	Units          string    `json:"units"`
	ReferenceRange string    `json:"referenceRange"`
	Interpretation string    `json:"interpretation,omitempty"`
	IsCritical     bool      `json:"isCritical"`
	Timestamp      time.Time `json:"timestamp"`
}

// Kind distinguishes entries in the results list.
type Kind string

const (
	KindLab          Kind = "lab"
	KindDiagnostic   Kind = "diagnostic"
	KindIntervention Kind = "intervention"
	KindUrineStudies Kind = "urine-studies"
)

// Status is the pending→resolved lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Related is a co-reported measurement from the same sample.
type Related struct {
	Value          Value  `json:"value"`
	Units          string `json:"units"`
	ReferenceRange string `json:"referenceRange"`
	IsCritical     bool   `json:"isCritical,omitempty"`
}

// Result is the visible payload of a resolved entry.
type Result struct {
	Value          Value              `json:"value"`
	Units          string             `json:"units,omitempty"`
	ReferenceRange string             `json:"referenceRange,omitempty"`
	Interpretation string             `json:"interpretation,omitempty"`
	IsCritical     bool               `json:"isCritical"`
	Related        map[string]Related `json:"relatedValues,omitempty"`
	Report         map[string]string  `json:"results,omitempty"`
	KeyFindings    []string           `json:"keyFindings,omitempty"`
}

// Order is one entry of the results list. Result stays nil while pending.
type Order struct {
	ID           string        `json:"id"`
	Kind         Kind          `json:"type"`
	Name         string        `json:"name"`
	Category     Category      `json:"category"`
	TestID       string        `json:"testId,omitempty"`
	Status       Status        `json:"status"`
	OrderedAt    time.Time     `json:"ordered"`
	TimeToResult time.Duration `json:"timeToResult"`
	ResolvedAt   time.Time     `json:"resolvedAt,omitempty"`
	Result       *Result       `json:"result,omitempty"`
}

// Pending reports whether the order still awaits resolution.
func (o *Order) Pending() bool { return o.Status == StatusPending }

// Resolve flips the entry to resolved at t with result r.
func (o *Order) Resolve(t time.Time, r Result) {
	o.Status = StatusResolved
	o.ResolvedAt = t
	o.Result = &r
}
