package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robbie-med/rhenal/internal/domain/chat"
	"github.com/robbie-med/rhenal/internal/domain/intervention"
	"github.com/robbie-med/rhenal/internal/engine"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/platform/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// Outbound message types.
const (
	MsgEvent    = "event"
	MsgSnapshot = "snapshot"
	MsgReply    = "reply"
	MsgError    = "error"
)

// Command types accepted from the frontend.
const (
	CmdInitialize      = "initialize"
	CmdSetTimeScale    = "set_time_scale"
	CmdSetPaused       = "set_paused"
	CmdOrderLab        = "order_lab"
	CmdOrderDiagnostic = "order_diagnostic"
	CmdUrineStudies    = "request_urine_studies"
	CmdRecordInput     = "record_input"
	CmdRecordOutput    = "record_output"
	CmdStartInfusion   = "start_infusion"
	CmdStopInfusion    = "stop_infusion"
	CmdAdminister      = "administer"
	CmdSendMessage     = "send_message"
	CmdClearError      = "clear_error"
	CmdSnapshot        = "snapshot"
)

// Command represents an incoming command from the frontend.
type Command struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"` // echoed in the reply
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Envelope is every message sent to the frontend.
type Envelope struct {
	Type     string           `json:"type"`
	ID       string           `json:"id,omitempty"`
	Command  string           `json:"command,omitempty"`
	Event    *events.Event    `json:"event,omitempty"`
	Snapshot *engine.Snapshot `json:"snapshot,omitempty"`
	Data     any              `json:"data,omitempty"`
	Error    *ErrorBody       `json:"error,omitempty"`
}

// Client holds one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewClient creates a new WebSocket client and returns it.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.opts.ClientBuffer),
	}
}

// Register adds the client to the hub.
func (c *Client) Register(ctx context.Context) {
	select {
	case c.hub.register <- c:
	case <-ctx.Done():
		c.close()
	}
}

func (c *Client) remote() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// enqueue queues a message without blocking. It reports false when the
// buffer is full or the client has been closed.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close stops the write pump. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// reply sends an envelope to this client only.
func (c *Client) reply(env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		c.hub.logger.Error("failed to serialize reply", logger.String("command", env.Command), logger.Err(err))
		return
	}
	if !c.enqueue(b) {
		c.hub.metrics.RecordWSError()
	}
}

// ReadPump pumps commands from the websocket connection to the engine.
// Each command runs in its own goroutine so slow oracle calls do not block
// the connection.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.wg.Wait()
		select {
		case c.hub.unregister <- c:
		case <-ctx.Done():
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.metrics.RecordWSError()
				c.hub.logger.Warn("websocket read failed", logger.String("remote", c.remote()), logger.Err(err))
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.reply(Envelope{Type: MsgError, Error: &ErrorBody{Kind: string(engine.KindValidation), Message: "malformed command: " + err.Error()}})
			continue
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reply(c.hub.Dispatch(ctx, cmd))
		}()
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per message; the frontend parses each frame as JSON.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.metrics.RecordWSError()
				return
			}
			c.hub.metrics.RecordWSMessage(false)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type infusionPayload struct {
	FluidID         string  `json:"fluidId"`
	Name            string  `json:"name"`
	Rate            float64 `json:"rate"`
	DurationMinutes float64 `json:"durationMinutes"`
}

type administerPayload struct {
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Dosage          string  `json:"dosage"`
	Route           string  `json:"route"`
	Rate            float64 `json:"rate"`
	DurationMinutes float64 `json:"durationMinutes"`
	FluidID         string  `json:"fluidId"`
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// Dispatch runs one command against the engine and builds the reply.
func (h *Hub) Dispatch(ctx context.Context, cmd Command) Envelope {
	ctx, cancel := context.WithTimeout(ctx, h.opts.CommandTimeout)
	defer cancel()

	data, err := h.run(ctx, cmd)
	if err != nil {
		kind := engine.KindOf(err)
		switch {
		case kind != "":
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			kind = "timeout"
		default:
			kind = engine.KindValidation
		}
		h.logger.Debug("command failed",
			logger.String("command", cmd.Type),
			logger.String("kind", string(kind)),
			logger.Err(err))
		return Envelope{Type: MsgError, ID: cmd.ID, Command: cmd.Type, Error: &ErrorBody{Kind: string(kind), Message: err.Error()}}
	}
	return Envelope{Type: MsgReply, ID: cmd.ID, Command: cmd.Type, Data: data}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("invalid payload: %w", err)
	}
	return v, nil
}

func (h *Hub) run(ctx context.Context, cmd Command) (any, error) {
	eng := h.engine
	switch cmd.Type {
	case CmdInitialize:
		p, err := decode[struct {
			ScenarioHint string `json:"scenarioHint"`
		}](cmd.Payload)
		if err != nil {
			return nil, err
		}
		if err := eng.Initialize(ctx, p.ScenarioHint); err != nil {
			return nil, err
		}
		return eng.Snapshot(ctx)
	case CmdSetTimeScale:
		p, err := decode[struct {
			Scale float64 `json:"scale"`
		}](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return nil, eng.SetTimeScale(ctx, p.Scale)
	case CmdSetPaused:
		p, err := decode[struct {
			Paused bool `json:"paused"`
		}](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return nil, eng.SetPaused(ctx, p.Paused)
	case CmdOrderLab:
		p, err := decode[engine.LabSpec](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return eng.OrderLab(ctx, p)
	case CmdOrderDiagnostic:
		p, err := decode[engine.LabSpec](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return eng.OrderDiagnostic(ctx, p)
	case CmdUrineStudies:
		return eng.RequestUrineStudies(ctx)
	case CmdRecordInput:
		p, err := decode[engine.InputSpec](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return eng.RecordInput(ctx, p)
	case CmdRecordOutput:
		p, err := decode[engine.OutputSpec](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return eng.RecordOutput(ctx, p)
	case CmdStartInfusion:
		p, err := decode[infusionPayload](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return eng.StartInfusion(ctx, engine.InfusionSpec{
			FluidID:  p.FluidID,
			Name:     p.Name,
			Rate:     p.Rate,
			Duration: minutes(p.DurationMinutes),
		})
	case CmdStopInfusion:
		p, err := decode[struct {
			ID string `json:"id"`
		}](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return eng.StopInfusion(ctx, p.ID)
	case CmdAdminister:
		p, err := decode[administerPayload](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return eng.AdministerIntervention(ctx, intervention.Spec{
			Name:     p.Name,
			Type:     intervention.Type(p.Type),
			Dosage:   p.Dosage,
			Route:    p.Route,
			Rate:     p.Rate,
			Duration: minutes(p.DurationMinutes),
			FluidID:  p.FluidID,
		})
	case CmdSendMessage:
		p, err := decode[struct {
			Channel string `json:"channel"`
			Text    string `json:"text"`
		}](cmd.Payload)
		if err != nil {
			return nil, err
		}
		return eng.SendMessage(ctx, chat.Channel(p.Channel), p.Text)
	case CmdClearError:
		return nil, eng.ClearError(ctx)
	case CmdSnapshot:
		return eng.Snapshot(ctx)
	}
	return nil, errUnknownCommand(cmd.Type)
}

var errUnknown = errors.New("unknown command")

func errUnknownCommand(t string) error {
	return fmt.Errorf("%w %q", errUnknown, t)
}
