package network

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/robbie-med/rhenal/internal/domain/chat"
	"github.com/robbie-med/rhenal/internal/domain/fluid"
	"github.com/robbie-med/rhenal/internal/domain/intervention"
	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/engine"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

// DefaultPollInterval is how often the hub checks the journal for new events.
const DefaultPollInterval = 200 * time.Millisecond

// Engine is the command surface the hub exposes to clients.
// *engine.Engine implements it.
type Engine interface {
	Initialize(ctx context.Context, scenarioHint string) error
	SetTimeScale(ctx context.Context, factor float64) error
	SetPaused(ctx context.Context, paused bool) error
	OrderLab(ctx context.Context, s engine.LabSpec) (*lab.Order, error)
	OrderDiagnostic(ctx context.Context, s engine.LabSpec) (*lab.Order, error)
	RequestUrineStudies(ctx context.Context) (*lab.Order, error)
	RecordInput(ctx context.Context, s engine.InputSpec) (fluid.Entry, error)
	RecordOutput(ctx context.Context, s engine.OutputSpec) (fluid.Entry, error)
	StartInfusion(ctx context.Context, s engine.InfusionSpec) (*intervention.Intervention, error)
	StopInfusion(ctx context.Context, id string) (*intervention.Intervention, error)
	AdministerIntervention(ctx context.Context, s intervention.Spec) (*intervention.Intervention, error)
	SendMessage(ctx context.Context, ch chat.Channel, text string) (*chat.Message, error)
	ClearError(ctx context.Context) error
	Snapshot(ctx context.Context) (*engine.Snapshot, error)
}

// HubOptions sizes the hub's channels.
type HubOptions struct {
	BroadcastBuffer int
	ClientBuffer    int
	PollInterval    time.Duration
	CommandTimeout  time.Duration
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex

	engine  Engine
	journal *events.EventLog
	logger  *logger.Logger
	metrics *metrics.Collector
	opts    HubOptions
}

// NewHub initializes a new WebSocket Hub.
func NewHub(eng Engine, journal *events.EventLog, log *logger.Logger, m *metrics.Collector, opts HubOptions) *Hub {
	if opts.BroadcastBuffer <= 0 {
		opts.BroadcastBuffer = 256
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 64
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Hub{
		broadcast:  make(chan []byte, opts.BroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		engine:     eng,
		journal:    journal,
		logger:     log,
		metrics:    m,
		opts:       opts,
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("websocket hub shutting down")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RecordWSConnection(1)
			h.logger.Info("websocket client connected", logger.String("remote", client.remote()))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.metrics.RecordWSConnection(-1)
				h.logger.Info("websocket client disconnected", logger.String("remote", client.remote()))
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.enqueue(message) {
					// Slow consumer.
					client.close()
					delete(h.clients, client)
					h.metrics.RecordWSConnection(-1)
					h.metrics.RecordWSError()
					h.logger.Warn("dropping slow websocket client", logger.String("remote", client.remote()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast serializes msg and queues it for every connected client.
func (h *Hub) Broadcast(ctx context.Context, msg Envelope) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to serialize broadcast", logger.String("type", msg.Type), logger.Err(err))
		return
	}
	select {
	case h.broadcast <- payload:
	case <-ctx.Done():
	}
}

// StartJournalPump spawns a goroutine that polls the journal and pushes new
// events to the hub, followed by a fresh snapshot. The hub runs independently
// from the engine's command loop while picking up the same events.
func (h *Hub) StartJournalPump(ctx context.Context) {
	go h.pumpJournal(ctx)
}

func (h *Hub) pumpJournal(ctx context.Context) {
	poll := time.NewTicker(h.opts.PollInterval)
	defer poll.Stop()

	lastProcessed := h.journal.Len()
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			lastProcessed = h.flush(ctx, lastProcessed)
		}
	}
}

// flush broadcasts every event after cursor and returns the new cursor.
func (h *Hub) flush(ctx context.Context, cursor int) int {
	fresh := h.journal.Since(cursor)
	if len(fresh) == 0 {
		return cursor
	}
	for i := range fresh {
		h.Broadcast(ctx, Envelope{Type: MsgEvent, Event: &fresh[i]})
	}
	snap, err := h.engine.Snapshot(ctx)
	if err != nil {
		h.logger.Warn("snapshot for broadcast failed", logger.Err(err))
	} else {
		h.Broadcast(ctx, Envelope{Type: MsgSnapshot, Snapshot: snap})
	}
	return cursor + len(fresh)
}
