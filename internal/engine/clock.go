package engine

import (
	"math"
	"time"
)

// MaxScale is the fastest supported rate: one real second is about 11.5
// virtual days.
const MaxScale = 1e6

// Clock is the virtual game clock. Real elapsed time is multiplied by the
// scale factor; a paused clock does not advance.
type Clock struct {
	now    time.Time
	scale  float64
	paused bool
}

// NewClock starts a clock at start. An invalid scale defaults to 1.
func NewClock(start time.Time, scale float64) *Clock {
	if validScale(scale) != nil {
		scale = 1
	}
	return &Clock{now: start, scale: scale}
}

// Now returns the current virtual time.
func (c *Clock) Now() time.Time { return c.now }

// Scale returns the current scale factor.
func (c *Clock) Scale() float64 { return c.scale }

// Paused reports whether advancement is suspended.
func (c *Clock) Paused() bool { return c.paused }

// SetScale changes the rate of future advancement only.
func (c *Clock) SetScale(factor float64) error {
	if err := validScale(factor); err != nil {
		return err
	}
	c.scale = factor
	return nil
}

func validScale(factor float64) error {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 {
		return validationf("set time scale", "scale must be a positive number, got %v", factor)
	}
	if factor > MaxScale {
		return validationf("set time scale", "scale must not exceed %v, got %v", MaxScale, factor)
	}
	return nil
}

// SetPaused suspends or resumes advancement.
func (c *Clock) SetPaused(p bool) { c.paused = p }

// Advance adds real × scale to virtual time and returns the new time.
func (c *Clock) Advance(real time.Duration) time.Time {
	if c.paused || real <= 0 {
		return c.now
	}
	c.now = c.now.Add(scaled(real, c.scale))
	return c.now
}

// scaled multiplies real by scale, saturating instead of overflowing.
func scaled(real time.Duration, scale float64) time.Duration {
	d := float64(real) * scale
	if d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(d)
}
