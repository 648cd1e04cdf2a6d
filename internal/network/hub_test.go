package network

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/engine"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/infra/ai"
	"github.com/robbie-med/rhenal/internal/oracle"
	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestHub(t *testing.T) (*Hub, *events.EventLog, context.Context) {
	t.Helper()
	journal := events.NewEventLog(nil)
	client := oracle.NewClient(ai.NewScriptedProvider(3), oracle.Options{Timeout: time.Second}, logger.NewNop(), metrics.NewCollector())
	eng := engine.NewEngine(client, journal, logger.NewNop(), metrics.NewCollector(), engine.Options{
		Start:         t0,
		Seed:          9,
		VitalsCadence: 24 * time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng.Start(ctx)

	hub := NewHub(eng, journal, logger.NewNop(), metrics.NewCollector(), HubOptions{PollInterval: 10 * time.Millisecond})
	go hub.Run(ctx)
	return hub, journal, ctx
}

func command(t *testing.T, typ, id string, payload any) Command {
	t.Helper()
	cmd := Command{Type: typ, ID: id}
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		cmd.Payload = b
	}
	return cmd
}

func TestDispatchInitializeAndOrder(t *testing.T) {
	// Setup
	hub, journal, ctx := newTestHub(t)

	// Act
	initReply := hub.Dispatch(ctx, command(t, CmdInitialize, "c1", map[string]string{"scenarioHint": "prerenal"}))
	orderReply := hub.Dispatch(ctx, command(t, CmdOrderLab, "c2", map[string]string{"testId": "potassium"}))

	// Assert
	require.Equal(t, MsgReply, initReply.Type, "%+v", initReply.Error)
	assert.Equal(t, "c1", initReply.ID)
	snap, ok := initReply.Data.(*engine.Snapshot)
	require.True(t, ok)
	assert.Equal(t, "Walter Ames", snap.Patient.Demographics.Name)

	require.Equal(t, MsgReply, orderReply.Type, "%+v", orderReply.Error)
	order, ok := orderReply.Data.(*lab.Order)
	require.True(t, ok)
	assert.Equal(t, "Potassium", order.Name)
	assert.NotEmpty(t, journal.GetByTarget(order.ID))
}

func TestDispatchErrors(t *testing.T) {
	hub, _, ctx := newTestHub(t)

	tests := []struct {
		name string
		cmd  Command
		kind string
	}{
		{"no session", command(t, CmdOrderLab, "1", map[string]string{"testId": "potassium"}), string(engine.KindNoSession)},
		{"unknown command", command(t, "defibrillate", "2", nil), string(engine.KindValidation)},
		{"bad payload", Command{Type: CmdSetTimeScale, ID: "3", Payload: json.RawMessage(`{"scale":"fast"}`)}, string(engine.KindValidation)},
		{"bad scale", command(t, CmdSetTimeScale, "4", map[string]float64{"scale": -2}), string(engine.KindValidation)},
		{"unknown test", command(t, CmdOrderLab, "5", map[string]string{"testId": "unobtainium"}), string(engine.KindValidation)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := hub.Dispatch(ctx, tt.cmd)

			require.Equal(t, MsgError, reply.Type)
			assert.Equal(t, tt.cmd.ID, reply.ID)
			assert.Equal(t, tt.kind, reply.Error.Kind, reply.Error.Message)
		})
	}
}

func TestDispatchInfusionLifecycle(t *testing.T) {
	// Setup
	hub, _, ctx := newTestHub(t)
	require.Equal(t, MsgReply, hub.Dispatch(ctx, command(t, CmdInitialize, "", nil)).Type)

	// Act
	start := hub.Dispatch(ctx, command(t, CmdStartInfusion, "s", map[string]any{
		"fluidId": "ns", "rate": 100, "durationMinutes": 60,
	}))
	require.Equal(t, MsgReply, start.Type, "%+v", start.Error)
	b, err := json.Marshal(start.Data)
	require.NoError(t, err)
	var iv struct {
		ID        string     `json:"id"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	require.NoError(t, json.Unmarshal(b, &iv))

	stop := hub.Dispatch(ctx, command(t, CmdStopInfusion, "x", map[string]string{"id": iv.ID}))
	again := hub.Dispatch(ctx, command(t, CmdStopInfusion, "y", map[string]string{"id": iv.ID}))

	// Assert
	require.NotNil(t, iv.ExpiresAt)
	assert.Equal(t, t0.Add(time.Hour), iv.ExpiresAt.UTC())
	assert.Equal(t, MsgReply, stop.Type)
	require.Equal(t, MsgError, again.Type)
	assert.Equal(t, string(engine.KindNotFound), again.Error.Kind)
}

type wireEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Event   *events.Event   `json:"event"`
	Error   *ErrorBody      `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env wireEnvelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func TestWebSocketCommandAndBroadcast(t *testing.T) {
	// Setup
	hub, _, ctx := newTestHub(t)
	hub.StartJournalPump(ctx)
	srv := httptest.NewServer(hub.WebSocketHandler(ctx))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	greeting := readEnvelope(t, conn)
	require.Equal(t, MsgReply, greeting.Type)
	assert.Equal(t, CmdSnapshot, greeting.Command)

	// Act
	require.NoError(t, conn.WriteJSON(command(t, CmdInitialize, "init-1", nil)))

	// Assert
	var sawReply, sawInit, sawSnapshot bool
	for i := 0; i < 50 && !(sawReply && sawInit && sawSnapshot); i++ {
		env := readEnvelope(t, conn)
		switch env.Type {
		case MsgReply:
			if env.ID == "init-1" {
				sawReply = true
			}
		case MsgEvent:
			if env.Event.Type == events.EventTypeSessionInit {
				sawInit = true
			}
		case MsgSnapshot:
			sawSnapshot = true
		case MsgError:
			t.Fatalf("unexpected error: %+v", env.Error)
		}
	}
	assert.True(t, sawReply, "command reply")
	assert.True(t, sawInit, "journal broadcast")
	assert.True(t, sawSnapshot, "snapshot broadcast")
	assert.Equal(t, 1, hub.ClientCount())
}

func TestWebSocketRejectsMalformedCommand(t *testing.T) {
	hub, _, ctx := newTestHub(t)
	srv := httptest.NewServer(hub.WebSocketHandler(ctx))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	env := readEnvelope(t, conn)
	require.Equal(t, MsgError, env.Type)
	assert.Contains(t, env.Error.Message, "malformed command")
}

func TestSlowClientIsDropped(t *testing.T) {
	// Setup
	hub, _, ctx := newTestHub(t)
	c := &Client{hub: hub, send: make(chan []byte, 1)}
	c.Register(ctx)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// Act
	hub.Broadcast(ctx, Envelope{Type: MsgEvent})
	hub.Broadcast(ctx, Envelope{Type: MsgEvent})

	// Assert
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, c.enqueue([]byte("late")))
}
