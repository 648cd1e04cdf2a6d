package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestScheduler() *Scheduler {
	return NewScheduler(logger.NewNop(), metrics.NewCollector())
}

func TestClockAdvanceAndScale(t *testing.T) {
	c := NewClock(t0, 1)
	assert.Equal(t, t0.Add(time.Minute), c.Advance(time.Minute))

	require.NoError(t, c.SetScale(60))
	assert.Equal(t, t0.Add(61*time.Minute), c.Advance(time.Minute))

	err := c.SetScale(0)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, 60.0, c.Scale())

	for _, bad := range []float64{math.NaN(), math.Inf(1), 1e300, MaxScale * 2} {
		assert.ErrorIs(t, c.SetScale(bad), ErrValidation, "scale %v", bad)
	}
	assert.Equal(t, 60.0, c.Scale())

	c.SetPaused(true)
	assert.Equal(t, t0.Add(61*time.Minute), c.Advance(time.Hour))
	c.SetPaused(false)
	assert.Equal(t, t0.Add(61*time.Minute), c.Advance(-time.Second))
}

func TestClockNeverRunsBackwards(t *testing.T) {
	c := NewClock(t0, MaxScale)
	before := c.Now()
	after := c.Advance(time.Duration(math.MaxInt64 / 2))
	assert.True(t, after.After(before), "clock moved from %s to %s", before, after)

	assert.Equal(t, time.Duration(math.MaxInt64), scaled(time.Hour, 1e300))
	assert.Equal(t, 90*time.Second, scaled(time.Second, 90))

	assert.Equal(t, 1.0, NewClock(t0, math.Inf(1)).Scale())
}

func TestSchedulerFiresInTimeOrderWithStableTies(t *testing.T) {
	s := newTestScheduler()
	var order []string
	add := func(at time.Duration, name string) {
		s.Schedule(t0.Add(at), EventLabResolution, name, func(time.Time) error {
			order = append(order, name)
			return nil
		})
	}
	add(10*time.Minute, "c")
	add(5*time.Minute, "a")
	add(10*time.Minute, "d")
	add(5*time.Minute, "b")
	add(20*time.Minute, "late")

	fired := s.Drain(t0.Add(10 * time.Minute))

	assert.Equal(t, 4, fired)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
	assert.Equal(t, 1, s.Len())
	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, t0.Add(20*time.Minute), next)
}

func TestSchedulerCallbackReceivesFireTime(t *testing.T) {
	s := newTestScheduler()
	var got time.Time
	s.Schedule(t0.Add(7*time.Minute), EventInfusionRecord, "x", func(at time.Time) error {
		got = at
		return nil
	})
	s.Drain(t0.Add(time.Hour))
	assert.Equal(t, t0.Add(7*time.Minute), got)
}

func TestSchedulerCancel(t *testing.T) {
	s := newTestScheduler()
	fired := map[string]bool{}
	mk := func(name string) Callback {
		return func(time.Time) error { fired[name] = true; return nil }
	}
	h := s.Schedule(t0.Add(time.Minute), EventLabResolution, "order-1", mk("one"))
	s.Schedule(t0.Add(time.Minute), EventInfusionRecord, "iv-1", mk("rec"))
	s.Schedule(t0.Add(2*time.Minute), EventInterventionExpiry, "iv-1", mk("exp"))
	s.Schedule(t0.Add(3*time.Minute), EventLabResolution, "order-2", mk("two"))

	assert.True(t, s.Cancel(h))
	assert.False(t, s.Cancel(h))
	assert.Equal(t, 2, s.Owned("iv-1"))
	assert.Equal(t, 2, s.CancelOwner("iv-1"))
	assert.Equal(t, 0, s.Owned("iv-1"))

	s.Drain(t0.Add(time.Hour))
	assert.Equal(t, map[string]bool{"two": true}, fired)

	s.Schedule(t0.Add(2*time.Hour), EventLabResolution, "order-3", mk("three"))
	assert.Equal(t, 1, s.CancelAll())
	assert.Equal(t, 0, s.Drain(t0.Add(3*time.Hour)))
}

func TestSchedulerChainsWithinOneDrain(t *testing.T) {
	s := newTestScheduler()
	var times []time.Time
	var step Callback
	step = func(at time.Time) error {
		times = append(times, at)
		s.Schedule(at.Add(5*time.Minute), EventInfusionRecord, "iv", step)
		return nil
	}
	s.Schedule(t0.Add(5*time.Minute), EventInfusionRecord, "iv", step)

	// Setup done; one large advance should run the whole chain up to now.
	fired := s.Drain(t0.Add(20 * time.Minute))

	assert.Equal(t, 4, fired)
	assert.Equal(t, t0.Add(20*time.Minute), times[3])
	assert.Equal(t, 1, s.Owned("iv"))
}

func TestSchedulerSurvivesFailingCallbacks(t *testing.T) {
	s := newTestScheduler()
	var failures []EventKind
	s.OnFailure(func(kind EventKind, owner string, at time.Time, err error) {
		failures = append(failures, kind)
	})
	ran := false
	s.Schedule(t0, EventLabResolution, "a", func(time.Time) error { return errors.New("boom") })
	s.Schedule(t0, EventInterventionEffect, "b", func(time.Time) error { panic("kaboom") })
	s.Schedule(t0, EventInfusionRecord, "c", func(time.Time) error { ran = true; return nil })

	assert.NotPanics(t, func() { s.Drain(t0) })
	assert.True(t, ran)
	assert.Equal(t, []EventKind{EventLabResolution, EventInterventionEffect}, failures)
	assert.Zero(t, s.Len())
}

func TestScheduledFireTimeIgnoresScaleChanges(t *testing.T) {
	// Setup
	c := NewClock(t0, 1)
	s := newTestScheduler()
	var firedAt time.Time
	s.Schedule(t0.Add(30*time.Minute), EventLabResolution, "lab", func(at time.Time) error {
		firedAt = at
		return nil
	})

	// Act: 5 virtual minutes at 1x, then switch to 10x
	s.Drain(c.Advance(5 * time.Minute))
	require.NoError(t, c.SetScale(10))
	s.Drain(c.Advance(2 * time.Minute)) // T0+25
	assert.True(t, firedAt.IsZero())
	s.Drain(c.Advance(30 * time.Second)) // T0+30

	// Assert
	assert.Equal(t, t0.Add(30*time.Minute), firedAt)
}
