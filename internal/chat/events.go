package chat

import "encoding/json"

// Event is one decoded record from the newline-delimited stream. The set of
// concrete types is closed; anything the server sends beyond it decodes to
// UnknownEvent so a newer backend never breaks an older client.
type Event interface {
	isEvent()
}

// SessionIDEvent announces the session the server attached the message to.
// Sent first, before any content, when the server had to create the session.
type SessionIDEvent struct {
	SessionID string
}

// ContentEvent carries one fragment of the assistant reply. Fragments are
// concatenated in arrival order.
type ContentEvent struct {
	Content string
}

// MessageIDEvent carries the canonical id under which the server persisted
// the completed reply.
type MessageIDEvent struct {
	MessageID string
}

// ErrorEvent is a terminal server-reported failure for this stream.
type ErrorEvent struct {
	Error string
}

// UnknownEvent is any well-formed record with an unrecognized type tag.
type UnknownEvent struct {
	Type string
}

func (SessionIDEvent) isEvent() {}
func (ContentEvent) isEvent()   {}
func (MessageIDEvent) isEvent() {}
func (ErrorEvent) isEvent()     {}
func (UnknownEvent) isEvent()   {}

// wireEvent is the superset shape of one stream line.
type wireEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// decodeEvent parses one complete line into an Event. A malformed line is an
// error; an unrecognized type is not.
func decodeEvent(line []byte) (Event, error) {
	var we wireEvent
	if err := json.Unmarshal(line, &we); err != nil {
		return nil, err
	}

	switch we.Type {
	case "session_id":
		return SessionIDEvent{SessionID: we.SessionID}, nil
	case "content":
		return ContentEvent{Content: we.Content}, nil
	case "message_id":
		return MessageIDEvent{MessageID: we.MessageID}, nil
	case "error":
		return ErrorEvent{Error: we.Error}, nil
	default:
		return UnknownEvent{Type: we.Type}, nil
	}
}
