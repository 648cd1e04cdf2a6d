package network

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/infra/storage"
	"github.com/robbie-med/rhenal/internal/platform/logger"
)

// JournalHandler serves the replay API over a journal repository.
type JournalHandler struct {
	repo     storage.JournalRepository
	recaps   *storage.Reconstructor
	snapshot func(ctx context.Context) (any, error)
	logger   *logger.Logger
}

// NewJournalHandler creates the replay API. snapshot may be nil.
func NewJournalHandler(repo storage.JournalRepository, snapshot func(ctx context.Context) (any, error), log *logger.Logger) *JournalHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &JournalHandler{
		repo:     repo,
		recaps:   storage.NewReconstructor(repo),
		snapshot: snapshot,
		logger:   log,
	}
}

// ReplayResponse is the API response for a journal query.
type ReplayResponse struct {
	SessionID   string         `json:"session_id,omitempty"`
	TotalEvents int            `json:"total_events"`
	GeneratedAt string         `json:"generated_at"`
	Events      []events.Event `json:"events"`
}

// RegisterRoutes sets up the journal API routes.
func (jh *JournalHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/journal", jh.HandleReplay)
	mux.HandleFunc("/api/journal/sessions", jh.HandleSessions)
	mux.HandleFunc("/api/journal/recap", jh.HandleRecap)
	if jh.snapshot != nil {
		mux.HandleFunc("/api/snapshot", jh.HandleSnapshot)
	}
}

// HandleReplay returns journal events.
// GET /api/journal?session=ID&type=LAB_ORDERED,LAB_RESOLVED&target=ID&after=N&limit=N
func (jh *JournalHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		jh.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	evs, err := jh.repo.Find(r.Context(), q)
	if err != nil {
		jh.logger.Error("journal query failed", logger.Err(err))
		jh.jsonError(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	jh.writeJSON(w, ReplayResponse{
		SessionID:   q.SessionID,
		TotalEvents: len(evs),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Events:      evs,
	})
}

// HandleSessions lists journaled sessions.
// GET /api/journal/sessions
func (jh *JournalHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessions, err := jh.repo.Sessions(r.Context())
	if err != nil {
		jh.logger.Error("session listing failed", logger.Err(err))
		jh.jsonError(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []storage.SessionSummary{}
	}
	jh.writeJSON(w, map[string]any{"sessions": sessions})
}

// HandleRecap rebuilds a session summary from its events.
// GET /api/journal/recap?session=ID
func (jh *JournalHandler) HandleRecap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		jh.jsonError(w, "Missing session", http.StatusBadRequest)
		return
	}
	recap, err := jh.recaps.Rebuild(r.Context(), sessionID)
	if err != nil {
		jh.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jh.writeJSON(w, recap)
}

// HandleSnapshot returns the live engine state.
// GET /api/snapshot
func (jh *JournalHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, err := jh.snapshot(r.Context())
	if err != nil {
		jh.jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	jh.writeJSON(w, snap)
}

func parseQuery(r *http.Request) (storage.Query, error) {
	v := r.URL.Query()
	q := storage.Query{
		SessionID: v.Get("session"),
		TargetID:  v.Get("target"),
	}
	if types := v.Get("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.Types = append(q.Types, events.EventType(strings.ToUpper(t)))
			}
		}
	}
	if s := v.Get("after"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return q, errBadParam("after")
		}
		q.AfterSeq = n
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, errBadParam("limit")
		}
		q.Limit = n
	}
	return q, nil
}

type errBadParam string

func (e errBadParam) Error() string { return "invalid " + string(e) }

func (jh *JournalHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		jh.logger.Warn("failed to write response", logger.Err(err))
	}
}

// jsonError sends an error response.
func (jh *JournalHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
