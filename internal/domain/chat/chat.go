// Package chat defines the nurse and attending conversation channels and feedback tags.
// This package is PURE and must NOT import any infrastructure packages.
package chat

import "time"

// Channel is a conversation partner.
type Channel string

const (
	ChannelNurse     Channel = "nurse"
	ChannelAttending Channel = "attending"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool { return c == ChannelNurse || c == ChannelAttending }

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderNurse     Sender = "nurse"
	SenderAttending Sender = "attending"
)

// Feedback is the classification carried by an oracle reply.
type Feedback string

const (
	FeedbackCompliment Feedback = "COMPLIMENT"
	FeedbackCriticism  Feedback = "CRITICISM"
	FeedbackNeutral    Feedback = "NEUTRAL"
)

// Delta is the score change for a feedback tag.
func (f Feedback) Delta() int {
	switch f {
	case FeedbackCompliment:
		return 1
	case FeedbackCriticism:
		return -1
	}
	return 0
}

// ParseFeedback maps a tag to Feedback. Anything unknown is not ok.
func ParseFeedback(s string) (Feedback, bool) {
	switch Feedback(s) {
	case FeedbackCompliment, FeedbackCriticism, FeedbackNeutral:
		return Feedback(s), true
	}
	return FeedbackNeutral, false
}

// Message is one chat line.
type Message struct {
	Sender    Sender    `json:"sender"`
	Channel   Channel   `json:"channel"`
	Text      string    `json:"message"`
	Feedback  Feedback  `json:"feedback,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is an append-only conversation for one channel.
type Log []Message

// Last returns up to n trailing messages.
func (l Log) Last(n int) []Message {
	if n <= 0 {
		return nil
	}
	if len(l) <= n {
		return append([]Message(nil), l...)
	}
	return append([]Message(nil), l[len(l)-n:]...)
}
