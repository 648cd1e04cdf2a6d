package engine

import (
	"context"
	"time"

	"github.com/robbie-med/rhenal/internal/platform/logger"
)

// DefaultTickRate is how often the real-time loop advances the clock.
const DefaultTickRate = time.Second

// Tickable is advanced by real elapsed time.
type Tickable interface {
	Tick(ctx context.Context, real time.Duration) (time.Time, error)
}

// Ticker drives an engine from wall-clock time. It knows nothing about
// patients, only about elapsed time.
type Ticker struct {
	target   Tickable
	rate     time.Duration
	logger   *logger.Logger
	now      func() time.Time
	stopChan chan struct{}
}

// NewTicker creates a ticker firing every rate (DefaultTickRate if zero).
func NewTicker(target Tickable, rate time.Duration, log *logger.Logger) *Ticker {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Ticker{
		target:   target,
		rate:     rate,
		logger:   log,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs the loop until ctx is done or Stop is called. Call in a goroutine.
func (t *Ticker) Start(ctx context.Context) {
	t.logger.Info("clock ticker started", logger.Duration("rate", t.rate))

	ticker := time.NewTicker(t.rate)
	defer ticker.Stop()
	last := t.now()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("clock ticker stopped by context")
			return
		case <-t.stopChan:
			t.logger.Info("clock ticker stopped manually")
			return
		case <-ticker.C:
			now := t.now()
			elapsed := now.Sub(last)
			last = now
			if _, err := t.target.Tick(ctx, elapsed); err != nil && ctx.Err() == nil {
				t.logger.Warn("tick failed", logger.Err(err))
			}
		}
	}
}

// Stop gracefully stops the ticker.
func (t *Ticker) Stop() {
	close(t.stopChan)
}
