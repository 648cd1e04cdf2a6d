package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

var columns = []string{"id", "seq", "session_id", "epoch", "timestamp", "recorded_at", "event_type", "actor_id", "target_id", "payload"}

func sampleEvent(seq int64, typ events.EventType, payload string) events.Event {
	e := events.Event{
		ID:         "ev-" + string(rune('a'+seq)),
		Seq:        seq,
		SessionID:  "sess-1",
		Epoch:      1,
		Timestamp:  t0.Add(time.Duration(seq) * time.Minute),
		RecordedAt: t0,
		Type:       typ,
		ActorID:    "user",
	}
	if payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	return e
}

func TestSQLiteAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLiteJournalRepository(db)
	e := sampleEvent(1, events.EventTypeIntake, `{"value":250}`)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO journal")).
		WithArgs(e.ID, e.Seq, "sess-1", int64(1), e.Timestamp, e.RecordedAt, "INTAKE", "user", "", `{"value":250}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Append(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAppendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLiteJournalRepository(db)

	mock.ExpectExec("INSERT INTO journal").WillReturnError(errors.New("disk full"))

	err = repo.Append(context.Background(), sampleEvent(1, events.EventTypeScore, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSQLiteFindBuildsFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLiteJournalRepository(db)

	rows := sqlmock.NewRows(columns).
		AddRow("ev-1", int64(4), "sess-1", int64(2), t0, t0, "LAB_ORDERED", "user", "order-1", []byte(`{"name":"Potassium"}`)).
		AddRow("ev-2", int64(9), "sess-1", int64(2), t0.Add(time.Hour), t0, "LAB_RESOLVED", "scheduler", "order-1", nil)
	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM journal WHERE session_id = ? AND seq > ? AND event_type IN (?, ?) ORDER BY seq ASC LIMIT 10")).
		WithArgs("sess-1", int64(3), "LAB_ORDERED", "LAB_RESOLVED").
		WillReturnRows(rows)

	got, err := repo.Find(context.Background(), Query{
		SessionID: "sess-1",
		AfterSeq:  3,
		Types:     []events.EventType{events.EventTypeLabOrdered, events.EventTypeLabResolved},
		Limit:     10,
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.EventTypeLabOrdered, got[0].Type)
	assert.Equal(t, uint64(2), got[0].Epoch)
	assert.JSONEq(t, `{"name":"Potassium"}`, string(got[0].Payload))
	assert.Nil(t, got[1].Payload)
	assert.Equal(t, "order-1", got[1].TargetID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindUsesNumberedPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresJournalRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM journal WHERE session_id = $1 AND target_id = $2 ORDER BY seq ASC LIMIT $3")).
		WithArgs("sess-1", "iv-1", 5).
		WillReturnRows(sqlmock.NewRows(columns))

	got, err := repo.Find(context.Background(), Query{SessionID: "sess-1", TargetID: "iv-1", Limit: 5})

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendAndSessions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresJournalRepository(db)
	e := sampleEvent(2, events.EventTypeAdvisory, `{"kind":"oliguria"}`)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO journal")).
		WithArgs(e.ID, e.Seq, "sess-1", int64(1), e.Timestamp, e.RecordedAt, "ADVISORY", "user", "", `{"kind":"oliguria"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT session_id, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "count", "min", "max"}).
			AddRow("sess-2", 12, t0, t0.Add(time.Hour)).
			AddRow("sess-1", 3, t0, t0.Add(2*time.Minute)))

	require.NoError(t, repo.Append(context.Background(), e))
	sessions, err := repo.Sessions(context.Background())

	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-2", sessions[0].SessionID)
	assert.Equal(t, 12, sessions[0].Events)
	assert.Equal(t, t0.Add(time.Hour), sessions[0].LastEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRoundTrip(t *testing.T) {
	db, err := InitSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLiteJournalRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, sampleEvent(1, events.EventTypeSessionInit, `{"hint":"aki"}`)))
	require.NoError(t, repo.Append(ctx, sampleEvent(2, events.EventTypeIntake, `{"value":500}`)))
	other := sampleEvent(3, events.EventTypeIntake, "")
	other.SessionID = "sess-2"
	require.NoError(t, repo.Append(ctx, other))

	got, err := repo.Find(ctx, Query{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.EventTypeSessionInit, got[0].Type)
	assert.True(t, t0.Add(time.Minute).Equal(got[0].Timestamp))
	assert.JSONEq(t, `{"value":500}`, string(got[1].Payload))

	sessions, err := repo.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

type fakeRepo struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (f *fakeRepo) Append(_ context.Context, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeRepo) Find(_ context.Context, q Query) ([]events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if q.SessionID == "" || e.SessionID == q.SessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) Sessions(context.Context) ([]SessionSummary, error) { return nil, nil }

func TestPersisterWritesAndDrains(t *testing.T) {
	repo := &fakeRepo{}
	p := NewPersister(repo, 8, logger.NewNop(), metrics.NewCollector())
	log := events.NewEventLog(p)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		log.Record(events.EventTypeScore, "sess-1", 1, t0, "system", "", map[string]int{"delta": -1})
	}
	cancel()
	<-done

	got, _ := repo.Find(context.Background(), Query{})
	assert.Len(t, got, 5)
	assert.Equal(t, int64(5), got[4].Seq)
}

func TestPersisterReportsBacklog(t *testing.T) {
	p := NewPersister(&fakeRepo{}, 1, nil, nil)
	require.NoError(t, p.Append(sampleEvent(1, events.EventTypeScore, "")))

	err := p.Append(sampleEvent(2, events.EventTypeScore, ""))

	assert.ErrorIs(t, err, ErrBacklog)
}

func TestFoldRebuildsRecap(t *testing.T) {
	evs := []events.Event{
		sampleEvent(0, events.EventTypeSessionInit, `{"patient":{"demographics":{"name":"Jane Roe"}}}`),
		sampleEvent(1, events.EventTypeIntake, `{"value":600}`),
		sampleEvent(2, events.EventTypeAdvisory, `{"kind":"large-input","text":"Recorded 600 mL oral input."}`),
		sampleEvent(3, events.EventTypeLabOrdered, `{"name":"Potassium"}`),
		sampleEvent(4, events.EventTypeScore, `{"delta":-1,"reason":"lab order: Potassium"}`),
		sampleEvent(5, events.EventTypeOutput, `{"value":150}`),
		sampleEvent(6, events.EventTypeScore, `{"delta":1,"reason":"feedback: COMPLIMENT"}`),
		sampleEvent(7, events.EventTypeLabResolved, `{"name":"Potassium"}`),
	}

	rc := Fold("sess-1", evs)

	assert.Equal(t, "Jane Roe", rc.Patient)
	assert.Equal(t, 0, rc.Score)
	assert.Equal(t, 600.0, rc.IntakeML)
	assert.Equal(t, 150.0, rc.OutputML)
	assert.Equal(t, 1, rc.LabsOrdered)
	assert.Equal(t, 1, rc.LabsResolved)
	assert.Equal(t, 1, rc.Advisories)
	assert.Equal(t, t0, rc.Start)
	assert.Equal(t, t0.Add(7*time.Minute), rc.End)
	require.Len(t, rc.Timeline, 5)
	assert.Equal(t, "POSITIVE", rc.Timeline[4].Impact)
}

func TestReconstructorRebuild(t *testing.T) {
	repo := &fakeRepo{}
	require.NoError(t, repo.Append(context.Background(), sampleEvent(1, events.EventTypeScore, `{"delta":-1}`)))
	r := NewReconstructor(repo)

	rc, err := r.Rebuild(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, -1, rc.Score)

	_, err = r.Rebuild(context.Background(), "missing")
	assert.Error(t, err)
}
