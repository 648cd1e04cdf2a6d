package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robbie-med/rhenal/internal/engine"
	"github.com/robbie-med/rhenal/internal/platform/logger"
)

const keyPrefix = "rhenal"

// SnapshotCache provides fast access to engine snapshots.
type SnapshotCache struct {
	client     RedisClient
	expiration time.Duration
	now        func() time.Time
}

// NewSnapshotCache creates a new snapshot cache. A zero ttl means 15 minutes.
func NewSnapshotCache(client RedisClient, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SnapshotCache{
		client:     client,
		expiration: ttl,
		now:        time.Now,
	}
}

// SessionEntry is one row of the cached session index.
type SessionEntry struct {
	SessionID string    `json:"session_id"`
	Epoch     uint64    `json:"epoch"`
	Patient   string    `json:"patient"`
	Score     int       `json:"score"`
	VirtualAt time.Time `json:"virtual_at"`
	CachedAt  int64     `json:"cached_at"` // Unix timestamp
}

// Put caches a snapshot, marks it as the latest and updates the session index.
func (c *SnapshotCache) Put(ctx context.Context, snap *engine.Snapshot) error {
	if snap == nil || !snap.Initialized() {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.snapshotKey(snap.SessionID), data, c.expiration); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.latestKey(), snap.SessionID, c.expiration); err != nil {
		return fmt.Errorf("failed to mark latest session: %w", err)
	}

	entry, err := json.Marshal(SessionEntry{
		SessionID: snap.SessionID,
		Epoch:     snap.Epoch,
		Patient:   snap.Patient.Summary(),
		Score:     snap.Score,
		VirtualAt: snap.Clock.Now,
		CachedAt:  c.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session entry: %w", err)
	}
	return c.client.HSet(ctx, c.sessionsKey(), snap.SessionID, string(entry))
}

// Get retrieves the cached snapshot of a session.
func (c *SnapshotCache) Get(ctx context.Context, sessionID string) (*engine.Snapshot, error) {
	data, err := c.client.Get(ctx, c.snapshotKey(sessionID))
	if err != nil {
		return nil, err // Cache miss or error
	}
	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Latest retrieves the most recently cached snapshot.
func (c *SnapshotCache) Latest(ctx context.Context) (*engine.Snapshot, error) {
	id, err := c.client.Get(ctx, c.latestKey())
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

// Sessions returns the cached session index.
func (c *SnapshotCache) Sessions(ctx context.Context) (map[string]SessionEntry, error) {
	data, err := c.client.HGetAll(ctx, c.sessionsKey())
	if err != nil {
		return nil, err
	}
	out := make(map[string]SessionEntry, len(data))
	for id, raw := range data {
		var e SessionEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session entry for %s: %w", id, err)
		}
		out[id] = e
	}
	return out, nil
}

// Invalidate removes the cached snapshot of a session.
func (c *SnapshotCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.snapshotKey(sessionID))
}

func (c *SnapshotCache) snapshotKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:snapshot", keyPrefix, sessionID)
}

func (c *SnapshotCache) latestKey() string { return keyPrefix + ":latest" }

func (c *SnapshotCache) sessionsKey() string { return keyPrefix + ":sessions" }

// SnapshotSource produces snapshots. *engine.Engine implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*engine.Snapshot, error)
}

// Writer periodically copies the engine state into the cache.
type Writer struct {
	cache  *SnapshotCache
	source SnapshotSource
	every  time.Duration
	logger *logger.Logger
}

// NewWriter creates a periodic snapshot writer.
func NewWriter(c *SnapshotCache, src SnapshotSource, every time.Duration, log *logger.Logger) *Writer {
	if every <= 0 {
		every = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Writer{cache: c, source: src, every: every, logger: log}
}

// Run writes a snapshot every interval until ctx is done.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.WriteOnce(ctx); err != nil {
				w.logger.Warn("snapshot cache write failed", logger.Err(err))
			}
		}
	}
}

// WriteOnce captures and caches one snapshot.
func (w *Writer) WriteOnce(ctx context.Context) error {
	snap, err := w.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	return w.cache.Put(ctx, snap)
}
