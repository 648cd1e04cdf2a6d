package engine

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbie-med/rhenal/internal/domain/fluid"
	"github.com/robbie-med/rhenal/internal/domain/rules"
)

func TestLedgerRejectsInvalidEntries(t *testing.T) {
	l := NewLedger()
	cases := []struct {
		name string
		run  func() error
	}{
		{"zero input", func() error { _, err := l.RecordInput(InputSpec{Type: "oral", Amount: 0}, t0); return err }},
		{"negative output", func() error { _, err := l.RecordOutput(OutputSpec{Type: "urine", Amount: -5}, t0); return err }},
		{"nan", func() error { _, err := l.RecordInput(InputSpec{Type: "oral", Amount: math.NaN()}, t0); return err }},
		{"unknown input", func() error { _, err := l.RecordInput(InputSpec{Type: "enteral", Amount: 5}, t0); return err }},
		{"unknown output", func() error { _, err := l.RecordOutput(OutputSpec{Type: "sweat", Amount: 5}, t0); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
	assert.Empty(t, l.Entries())
}

func TestLedgerTotalsAndWindows(t *testing.T) {
	l := NewLedger()
	_, err := l.RecordInput(InputSpec{Type: "iv", Subtype: "NS", Amount: 1000}, t0)
	require.NoError(t, err)
	_, err = l.RecordOutput(OutputSpec{Type: "urine", Amount: 300}, t0.Add(10*time.Hour))
	require.NoError(t, err)
	_, err = l.RecordInput(InputSpec{Type: "oral", Amount: 200}, t0.Add(20*time.Hour))
	require.NoError(t, err)

	b := l.Balance()
	assert.Equal(t, 200.0, b.Shift)
	assert.Equal(t, 900.0, b.H24)
	assert.Equal(t, 900.0, b.Cumulative)

	b = l.Recompute(t0.Add(30 * time.Hour))
	assert.Equal(t, 0.0, b.Shift)
	assert.Equal(t, -100.0, b.H24)
	assert.Equal(t, 900.0, b.Cumulative)

	assert.Equal(t, 1000.0, l.Inputs().ByType["iv"])
	assert.Equal(t, 1200.0, l.Inputs().Total)
	assert.Equal(t, 300.0, l.Outputs().ByType["urine"])

	s := l.Summary(t0.Add(20*time.Hour), rules.DayWindow)
	assert.Equal(t, 1200.0, s.Input)
	assert.Equal(t, 300.0, s.Output)
	assert.Equal(t, 300.0, s.Urine)
	assert.Equal(t, 900.0, s.Net)
	assert.Equal(t, 900.0, s.Cumulative)

	s = l.Summary(t0.Add(20*time.Hour), rules.ShiftWindow)
	assert.Equal(t, 200.0, s.Input)
	assert.Zero(t, s.Urine)
}

func TestLedgerCumulativeMatchesHistory(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	l := NewLedger()
	now := t0
	var in, out float64
	for i := 0; i < 500; i++ {
		now = now.Add(time.Duration(r.Intn(120)) * time.Minute)
		amount := math.Round(r.Float64()*900) + 1
		if r.Intn(2) == 0 {
			_, err := l.RecordInput(InputSpec{Type: "iv", Amount: amount}, now)
			require.NoError(t, err)
			in += amount
		} else {
			_, err := l.RecordOutput(OutputSpec{Type: "urine", Amount: amount}, now)
			require.NoError(t, err)
			out += amount
		}

		var direct float64
		for _, e := range l.Entries() {
			if e.Direction == fluid.DirectionInput {
				direct += e.Amount
			} else {
				direct -= e.Amount
			}
		}
		require.InDelta(t, in-out, l.Balance().Cumulative, 1e-6)
		require.InDelta(t, direct, l.Balance().Cumulative, 1e-6)
	}
}

func TestLedgerUrineQueries(t *testing.T) {
	l := NewLedger()
	assert.False(t, l.HasUrineSince(t0, rules.ShiftWindow))

	_, err := l.RecordOutput(OutputSpec{Type: "urine", Amount: 40}, t0)
	require.NoError(t, err)
	_, err = l.RecordOutput(OutputSpec{Type: "urine", Amount: 40}, t0.Add(4*time.Hour))
	require.NoError(t, err)

	assert.True(t, l.HasUrineSince(t0.Add(8*time.Hour), rules.ShiftWindow))
	assert.False(t, l.HasUrineSince(t0.Add(13*time.Hour), rules.ShiftWindow))

	rate, ok := l.UrineRate(t0.Add(4*time.Hour), 80)
	require.True(t, ok)
	assert.InDelta(t, 0.25, rate, 1e-9)

	_, ok = l.UrineRate(t0.Add(4*time.Hour), 0)
	assert.False(t, ok)
}

func TestLedgerCopiesOutputProperties(t *testing.T) {
	// Setup
	l := NewLedger()
	props := map[string]string{"color": "amber"}

	// Act
	e, err := l.RecordOutput(OutputSpec{Type: "urine", Amount: 30, Properties: props}, t0)
	require.NoError(t, err)
	props["color"] = "red"

	// Assert
	assert.Equal(t, "amber", e.Properties["color"])
	assert.Equal(t, "amber", l.Entries()[0].Properties["color"])
}
