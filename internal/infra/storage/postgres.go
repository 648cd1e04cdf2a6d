package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/robbie-med/rhenal/internal/events"
)

// InitPostgres opens a PostgreSQL connection pool and creates the journal schema.
func InitPostgres(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	if err := createSchemas(db, postgresSchemas); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}
	return db, nil
}

var postgresSchemas = []string{
	`CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		seq BIGINT NOT NULL,
		session_id TEXT NOT NULL,
		epoch BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		event_type TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		payload JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_session ON journal(session_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_target ON journal(target_id)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_type ON journal(event_type)`,
}

// PostgresJournalRepository implements JournalRepository using PostgreSQL.
type PostgresJournalRepository struct {
	db *sql.DB
}

// NewPostgresJournalRepository creates a new PostgreSQL journal repository.
func NewPostgresJournalRepository(db *sql.DB) *PostgresJournalRepository {
	return &PostgresJournalRepository{db: db}
}

// Append inserts a new event into the immutable journal.
func (r *PostgresJournalRepository) Append(ctx context.Context, event events.Event) error {
	query := `
		INSERT INTO journal (id, seq, session_id, epoch, timestamp, recorded_at, event_type, actor_id, target_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Seq,
		event.SessionID,
		int64(event.Epoch),
		event.Timestamp,
		event.RecordedAt,
		string(event.Type),
		event.ActorID,
		event.TargetID,
		payloadText(event.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Find retrieves the events matching q (the session replay).
func (r *PostgresJournalRepository) Find(ctx context.Context, q Query) ([]events.Event, error) {
	clause, args := q.where(func(n int) string { return "$" + strconv.Itoa(n) })
	query := `SELECT ` + selectColumns + ` FROM journal` + clause + ` ORDER BY seq ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
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

// Sessions lists the journaled sessions, most recently active first.
func (r *PostgresJournalRepository) Sessions(ctx context.Context) ([]SessionSummary, error) {
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
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.Events, &s.FirstEvent, &s.LastEvent); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ensure PostgresJournalRepository implements JournalRepository
var _ JournalRepository = (*PostgresJournalRepository)(nil)
