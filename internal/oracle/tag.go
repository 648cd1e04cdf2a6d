package oracle

import (
	"strings"

	"github.com/robbie-med/rhenal/internal/domain/chat"
)

// TagDelimiter separates the reply text from its classification tag.
const TagDelimiter = "|"

// TaggedReply is a free-text reply with its trailing classification.
type TaggedReply struct {
	Text     string
	Feedback chat.Feedback
	Tagged   bool // false when the tag was absent or malformed
	Meta     Meta
}

// ParseTagged splits "text|TAG". The tag must be the final token and exactly one
// of the known values; anything else yields NEUTRAL with the text left intact.
func ParseTagged(reply string) TaggedReply {
	trimmed := strings.TrimSpace(reply)
	idx := strings.LastIndex(trimmed, TagDelimiter)
	if idx < 0 {
		return TaggedReply{Text: trimmed, Feedback: chat.FeedbackNeutral}
	}
	tag := strings.TrimSpace(trimmed[idx+len(TagDelimiter):])
	fb, ok := chat.ParseFeedback(tag)
	if !ok {
		return TaggedReply{Text: trimmed, Feedback: chat.FeedbackNeutral}
	}
	return TaggedReply{
		Text:     strings.TrimSpace(trimmed[:idx]),
		Feedback: fb,
		Tagged:   true,
	}
}
