package rules

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbie-med/rhenal/internal/domain/fluid"
	"github.com/robbie-med/rhenal/internal/domain/patient"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

func TestPassiveDriftBounds(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	base := patient.Vitals{HR: 100, SBP: 140, DBP: 90, RR: 20, Temp: 38.0, SpO2: 99}
	for i := 0; i < 5000; i++ {
		v := PassiveDrift(base, r)
		require.InDelta(t, 100, v.HR, 5.5)
		require.InDelta(t, 140, v.SBP, 7.5)
		require.InDelta(t, 90, v.DBP, 5)
		require.InDelta(t, 20, v.RR, 1.5)
		require.InDelta(t, 38.0, v.Temp, 1.0)
		require.LessOrEqual(t, v.SpO2, 100)
		require.GreaterOrEqual(t, v.SpO2, 97)
	}
}

func TestPassiveDriftNeverNegativeOrAbove100(t *testing.T) {
	zero := patient.Vitals{}
	v := PassiveDrift(zero, fixedRandom(0))
	assert.Equal(t, patient.Vitals{}, v)

	full := patient.Vitals{SpO2: 100}
	assert.Equal(t, 100, PassiveDrift(full, fixedRandom(0.9999)).SpO2)
}

func TestPassiveDriftExtremes(t *testing.T) {
	base := patient.Vitals{HR: 100, SBP: 100, DBP: 100, RR: 100, Temp: 40, SpO2: 90}
	lo := PassiveDrift(base, fixedRandom(0))
	assert.Equal(t, 95, lo.HR)
	assert.Equal(t, 39.0, lo.Temp)
	assert.Equal(t, 89, lo.SpO2)
}

func TestSignificantChanges(t *testing.T) {
	prev := patient.Vitals{HR: 80, SBP: 120, DBP: 80, RR: 16, Temp: 37.0, SpO2: 98}

	assert.Empty(t, SignificantChanges(prev, prev))

	// exactly at threshold is not significant
	edge := patient.Vitals{HR: 95, SBP: 140, DBP: 95, RR: 21, Temp: 37.5, SpO2: 93}
	assert.Empty(t, SignificantChanges(prev, edge))

	next := patient.Vitals{HR: 110, SBP: 90, DBP: 50, RR: 28, Temp: 38.2, SpO2: 88}
	changes := SignificantChanges(prev, next)
	require.Len(t, changes, 6)
	assert.Equal(t, "Heart rate increased from 80 to 110", changes[0].String())
	assert.Equal(t, "Systolic BP decreased from 120 to 90", changes[1].String())
}

func entry(dir fluid.Direction, typ string, amt float64, at time.Time) fluid.Entry {
	return fluid.Entry{Direction: dir, Type: typ, Amount: amt, Timestamp: at}
}

func TestComputeBalanceWindows(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []fluid.Entry{
		entry(fluid.DirectionInput, "iv", 1000, t0),
		entry(fluid.DirectionOutput, "urine", 300, t0.Add(10*time.Hour)),
		entry(fluid.DirectionInput, "oral", 200, t0.Add(20*time.Hour)),
	}
	b := ComputeBalance(entries, t0.Add(26*time.Hour))
	assert.Equal(t, -100.0, b.H24)  // urine + oral
	assert.Equal(t, 200.0, b.Shift) // oral only
	assert.Equal(t, 900.0, b.Cumulative)
}

func TestComputeBalanceCumulativeProperty(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var entries []fluid.Entry
	var in, out float64
	now := t0
	for i := 0; i < 500; i++ {
		now = now.Add(time.Duration(r.Intn(120)) * time.Minute)
		amt := float64(1 + r.Intn(900))
		if r.Intn(2) == 0 {
			entries = append(entries, entry(fluid.DirectionInput, "iv", amt, now))
			in += amt
		} else {
			entries = append(entries, entry(fluid.DirectionOutput, "urine", amt, now))
			out += amt
		}
		require.InDelta(t, in-out, ComputeBalance(entries, now).Cumulative, 1e-9)
	}
}

func TestUrineRate(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok := UrineRate(nil, t0, 70)
	assert.False(t, ok)

	entries := []fluid.Entry{entry(fluid.DirectionOutput, "urine", 50, t0)}
	_, ok = UrineRate(entries, t0.Add(time.Hour), 70)
	assert.False(t, ok, "less than four hours of data")

	_, ok = UrineRate(entries, t0.Add(5*time.Hour), 0)
	assert.False(t, ok, "unknown weight")

	entries = append(entries, entry(fluid.DirectionOutput, "urine", 80, t0.Add(4*time.Hour)))
	rate, ok := UrineRate(entries, t0.Add(4*time.Hour), 80)
	require.True(t, ok)
	assert.InDelta(t, (50.0+80.0)/4/80, rate, 1e-9)
	assert.True(t, IsOliguric(rate))

	assert.False(t, IsOliguric(0.5))
}

func TestInfusionVolume(t *testing.T) {
	assert.InDelta(t, 10.0, InfusionVolume(120, 5*time.Minute), 1e-9)
	assert.InDelta(t, 100.0, InfusionVolume(100, time.Hour), 1e-9)
	assert.Zero(t, InfusionVolume(100, 0))
	assert.Zero(t, InfusionVolume(0, time.Hour))
	assert.True(t, IsLargeInput(500))
	assert.False(t, IsLargeInput(499.9))
}
