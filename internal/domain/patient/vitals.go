package patient

import (
	"encoding/json"
	"math"
	"time"
)

// Vitals is one set of physiological measurements. MAP is derived, never stored.
type Vitals struct {
	HR   int     `json:"hr"`
	SBP  int     `json:"sbp"`
	DBP  int     `json:"dbp"`
	RR   int     `json:"rr"`
	Temp float64 `json:"temp"` // Celsius
	SpO2 int     `json:"spo2"`
}

// ComputeMAP returns round(dbp + (sbp-dbp)/3).
func ComputeMAP(sbp, dbp int) int {
	return int(math.Round(float64(dbp) + float64(sbp-dbp)/3))
}

// MAP is the mean arterial pressure for the current BP pair.
func (v Vitals) MAP() int { return ComputeMAP(v.SBP, v.DBP) }

// MarshalJSON emits the derived MAP alongside the measured values.
func (v Vitals) MarshalJSON() ([]byte, error) {
	type plain Vitals
	return json.Marshal(struct {
		plain
		MAP int `json:"map"`
	}{plain(v), v.MAP()})
}

// Sample is a timestamped Vitals reading on the virtual clock.
type Sample struct {
	Vitals
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON flattens the embedded vitals and MAP with the timestamp.
func (s Sample) MarshalJSON() ([]byte, error) {
	type plain Vitals
	return json.Marshal(struct {
		plain
		MAP       int       `json:"map"`
		Timestamp time.Time `json:"timestamp"`
	}{plain(s.Vitals), s.MAP(), s.Timestamp})
}

// Timeline is the append-only ordered sequence of samples. Current is the last element.
type Timeline struct {
	samples []Sample
}

// Append records a new sample.
func (t *Timeline) Append(s Sample) {
	t.samples = append(t.samples, s)
}

// Current returns the latest sample and false when empty.
func (t *Timeline) Current() (Sample, bool) {
	if len(t.samples) == 0 {
		return Sample{}, false
	}
	return t.samples[len(t.samples)-1], true
}

// Len returns the number of samples.
func (t *Timeline) Len() int { return len(t.samples) }

// History returns a copy of all samples in order.
func (t *Timeline) History() []Sample {
	out := make([]Sample, len(t.samples))
	copy(out, t.samples)
	return out
}
