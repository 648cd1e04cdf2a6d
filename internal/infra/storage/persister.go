package storage

import (
	"context"
	"errors"
	"time"

	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

// ErrBacklog is returned when the write queue is full and an event is dropped.
var ErrBacklog = errors.New("journal write queue full")

// Persister adapts a JournalRepository to events.EventPersister. Appends are
// queued and written by Run, so the event log never waits on the database.
type Persister struct {
	repo    JournalRepository
	queue   chan events.Event
	timeout time.Duration
	logger  *logger.Logger
	metrics *metrics.Collector
}

// NewPersister creates a persister with a queue of the given size.
func NewPersister(repo JournalRepository, buffer int, log *logger.Logger, m *metrics.Collector) *Persister {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Persister{
		repo:    repo,
		queue:   make(chan events.Event, buffer),
		timeout: 5 * time.Second,
		logger:  log,
		metrics: m,
	}
}

// Append queues an event for writing.
func (p *Persister) Append(event events.Event) error {
	select {
	case p.queue <- event:
		return nil
	default:
		p.metrics.RecordJournalWrite(ErrBacklog)
		return ErrBacklog
	}
}

// Run writes queued events until ctx is done, then drains what is left.
func (p *Persister) Run(ctx context.Context) error {
	p.logger.Info("journal persister started")
	for {
		select {
		case <-ctx.Done():
			n := p.drain()
			p.logger.Info("journal persister stopped", logger.Int("drained", n))
			return nil
		case e := <-p.queue:
			p.write(context.WithoutCancel(ctx), e)
		}
	}
}

func (p *Persister) drain() int {
	n := 0
	for {
		select {
		case e := <-p.queue:
			p.write(context.Background(), e)
			n++
		default:
			return n
		}
	}
}

func (p *Persister) write(ctx context.Context, e events.Event) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.repo.Append(ctx, e)
	p.metrics.RecordJournalWrite(err)
	if err != nil {
		p.logger.Error("journal write failed",
			logger.String("event", e.ID),
			logger.String("type", string(e.Type)),
			logger.String("session", e.SessionID),
			logger.Err(err))
	}
}

var _ events.EventPersister = (*Persister)(nil)
