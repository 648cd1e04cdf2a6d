package engine

import (
	"context"
	"strings"
	"time"

	"github.com/robbie-med/rhenal/internal/domain/chat"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/oracle"
)

// ScoreDelta is one attributable change to the score.
type ScoreDelta struct {
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoreLedger is the score and the deltas that produced it.
type ScoreLedger struct {
	value  int
	deltas []ScoreDelta
}

// Apply adds a non-zero delta.
func (s *ScoreLedger) Apply(delta int, reason string, at time.Time) bool {
	if delta == 0 {
		return false
	}
	s.value += delta
	s.deltas = append(s.deltas, ScoreDelta{Delta: delta, Reason: reason, Timestamp: at})
	return true
}

// Value is the current score.
func (s *ScoreLedger) Value() int { return s.value }

// Deltas returns a copy of every applied delta.
func (s *ScoreLedger) Deltas() []ScoreDelta { return append([]ScoreDelta(nil), s.deltas...) }

// Conversations holds the nurse and attending channels.
type Conversations struct {
	nurse     chat.Log
	attending chat.Log
}

// Append adds m to its channel.
func (c *Conversations) Append(m chat.Message) {
	if m.Channel == chat.ChannelAttending {
		c.attending = append(c.attending, m)
		return
	}
	c.nurse = append(c.nurse, m)
}

// Log returns the channel's messages.
func (c *Conversations) Log(ch chat.Channel) chat.Log {
	if ch == chat.ChannelAttending {
		return c.attending
	}
	return c.nurse
}

// charge applies an action cost or feedback delta and journals it.
func (e *Engine) charge(at time.Time, delta int, reason string) {
	if e.score.Apply(delta, reason, at) {
		e.record(events.EventTypeScore, actorSystem, "", at, ScoreDelta{Delta: delta, Reason: reason, Timestamp: at})
	}
}

// nurse posts a nurse message. It is the notification channel for advisories and results.
func (e *Engine) nurse(at time.Time, text string) {
	e.appendChat(chat.Message{Sender: chat.SenderNurse, Channel: chat.ChannelNurse, Text: text, Timestamp: at})
}

func (e *Engine) appendChat(m chat.Message) {
	e.chat.Append(m)
	e.record(events.EventTypeMessage, string(m.Sender), "", m.Timestamp, m)
}

// SendMessage appends the player's message immediately, consults the oracle
// in character for the channel and appends the reply. A trailing COMPLIMENT or
// CRITICISM tag moves the score by one; anything else is neutral.
func (e *Engine) SendMessage(ctx context.Context, ch chat.Channel, text string) (*chat.Message, error) {
	const op = "send message"
	text = strings.TrimSpace(text)
	if !ch.Valid() {
		return nil, validationf(op, "unknown channel %q", ch)
	}
	if text == "" {
		return nil, validationf(op, "message is empty")
	}
	var (
		cc    oracle.ConsultContext
		epoch uint64
	)
	err := e.exec(ctx, func() error {
		if e.patient == nil {
			return noSession(op)
		}
		now := e.clock.Now()
		e.appendChat(chat.Message{Sender: chat.SenderUser, Channel: ch, Text: text, Timestamp: now})
		cc = oracle.ConsultContext{
			Patient:             oracle.SummarizePatient(e.patient),
			Channel:             ch,
			Message:             text,
			RecentMessages:      e.chat.Log(ch).Last(oracle.MaxRecentMessages),
			ResolvedResults:     e.results.Recent(oracle.MaxRecentLabs),
			PendingResults:      e.results.PendingNames(),
			ActiveInterventions: e.registry.Summaries(now, isActive),
			CurrentVitals:       e.currentVitals(),
		}
		epoch = e.epoch
		e.begin(op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	reply, callErr := e.oracle.Consult(ctx, cc)

	var out *chat.Message
	err = e.exec(context.WithoutCancel(ctx), func() error {
		if !e.current(epoch, op) {
			return staleErr(op, epoch)
		}
		e.end(op)
		if callErr != nil {
			return e.fail(op, callErr)
		}
		e.succeed(op, reply.Meta)
		now := e.clock.Now()
		e.charge(now, reply.Feedback.Delta(), "feedback: "+string(reply.Feedback))
		sender := chat.SenderNurse
		if ch == chat.ChannelAttending {
			sender = chat.SenderAttending
		}
		m := chat.Message{Sender: sender, Channel: ch, Text: reply.Text, Feedback: reply.Feedback, Timestamp: now}
		e.appendChat(m)
		out = &m
		return nil
	})
	return out, err
}
