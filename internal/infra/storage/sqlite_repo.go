package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robbie-med/rhenal/internal/events"
)

// SQLiteJournalRepository implements JournalRepository for SQLite.
type SQLiteJournalRepository struct {
	db *sql.DB
}

func NewSQLiteJournalRepository(db *sql.DB) *SQLiteJournalRepository {
	return &SQLiteJournalRepository{db: db}
}

func (r *SQLiteJournalRepository) Append(ctx context.Context, event events.Event) error {
	query := `
		INSERT INTO journal (id, seq, session_id, epoch, timestamp, recorded_at, event_type, actor_id, target_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.Seq, event.SessionID, int64(event.Epoch), event.Timestamp.UTC(), event.RecordedAt.UTC(),
		string(event.Type), event.ActorID, event.TargetID, payloadText(event.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *SQLiteJournalRepository) Find(ctx context.Context, q Query) ([]events.Event, error) {
	clause, args := q.where(func(int) string { return "?" })
	query := `SELECT ` + selectColumns + ` FROM journal` + clause + ` ORDER BY seq ASC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteJournalRepository) Sessions(ctx context.Context) ([]SessionSummary, error) {
	query := `
		SELECT session_id, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM journal
		WHERE session_id <> ''
		GROUP BY session_id
		ORDER BY MAX(recorded_at) DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			s           SessionSummary
			first, last any
		)
		if err := rows.Scan(&s.SessionID, &s.Events, &first, &last); err != nil {
			return nil, err
		}
		s.FirstEvent = sqliteTime(first)
		s.LastEvent = sqliteTime(last)
		out = append(out, s)
	}
	return out, rows.Err()
}

// sqliteTime converts an aggregate column back to time. SQLite returns
// MIN/MAX over DATETIME columns as text.
func sqliteTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", time.RFC3339Nano} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

func payloadText(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

var _ JournalRepository = (*SQLiteJournalRepository)(nil)
