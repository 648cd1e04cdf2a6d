// Package patient defines the core domain entities for the simulated patient.
// This package is PURE and must NOT import any infrastructure packages (network, events, platform).
package patient

import (
	"strconv"
	"strings"
)

// Gender as reported by case generation. Free text is kept as-is.
type Gender string

// Demographics holds the fixed attributes of the patient.
type Demographics struct {
	Name     string  `json:"name"`
	Age      int     `json:"age"`
	Gender   Gender  `json:"gender"`
	WeightKg float64 `json:"weight"` // 0 = unknown
	HeightCm float64 `json:"height"`
}

// Patient is created once per session and replaced wholesale on re-initialization.
type Patient struct {
	ID                 string       `json:"id"`
	Demographics       Demographics `json:"demographics"`
	Location           string       `json:"location"`
	ClinicalContext    string       `json:"clinicalContext"`
	History            string       `json:"history"`
	Comorbidities      []string     `json:"comorbidities"`
	Allergies          []string     `json:"allergies"`
	BaselineCreatinine float64      `json:"baselineCreatinine"`
}

// HasWeight reports whether weight-normalized calculations can be made.
func (p *Patient) HasWeight() bool {
	return p != nil && p.Demographics.WeightKg > 0
}

// Summary is a one-line description used in oracle context payloads.
func (p *Patient) Summary() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Demographics.Name)
	if p.Demographics.Age > 0 {
		b.WriteString(", ")
		b.WriteString(strconv.Itoa(p.Demographics.Age))
		b.WriteString("y")
	}
	if g := string(p.Demographics.Gender); g != "" {
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(g[:1]))
	}
	if p.Location != "" {
		b.WriteString(" (")
		b.WriteString(p.Location)
		b.WriteString(")")
	}
	return b.String()
}

// Clone returns a deep copy safe to hand out in snapshots.
func (p *Patient) Clone() *Patient {
	if p == nil {
		return nil
	}
	c := *p
	c.Comorbidities = append([]string(nil), p.Comorbidities...)
	c.Allergies = append([]string(nil), p.Allergies...)
	return &c
}
