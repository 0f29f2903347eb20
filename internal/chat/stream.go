package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"StreamChat/internal/api"
)

// ErrStreamInProgress is returned when Send is called while a previous
// send's stream is still open. Sends are not queued; the caller retries
// after the current one settles.
var ErrStreamInProgress = errors.New("a message is already being sent")

// Draft is the transient, uncommitted assistant reply for an open stream.
// It never enters history: at a terminal stream state it is either replaced
// by a committed message or discarded.
type Draft struct {
	ID        string
	SessionID string
	Role      string
	Content   string
}

// Engine consumes the chunked event stream for one outbound message and
// reconciles the result into the Store exactly once.
type Engine struct {
	transport Transport
	store     *Store
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter

	// OnDelta, when set, receives each content fragment as it arrives.
	OnDelta func(fragment string)

	mu        sync.Mutex
	streaming bool
	draft     *Draft
}

// NewEngine creates a stream engine bound to a store.
func NewEngine(transport Transport, store *Store, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Engine {
	return &Engine{
		transport: transport,
		store:     store,
		logger:    logger,
		tracer:    tracer,
		meter:     meter,
	}
}

// Draft returns a snapshot of the in-progress assistant reply, or nil when
// no stream is open.
func (e *Engine) Draft() *Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil {
		return nil
	}
	d := *e.draft
	return &d
}

// Send submits one user message and runs the stream to completion. Empty
// input is rejected before any network call. When no session is active one
// is created first; if that fails the whole send aborts with no partial
// state. Stream-level failures are not returned: they surface as a
// synthesized assistant message so one failed send never blocks the
// conversation. An auth rejection is returned so the caller can force
// logout.
func (e *Engine) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return &api.ValidationError{Detail: "message is empty"}
	}

	e.mu.Lock()
	if e.streaming {
		e.mu.Unlock()
		return ErrStreamInProgress
	}
	e.streaming = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.streaming = false
		e.mu.Unlock()
	}()

	ctx, span := e.tracer.Start(ctx, "chat_stream")
	defer span.End()

	// Resolve the target session before touching any local state, so a
	// failed creation leaves nothing behind.
	active := e.store.Active()
	if active == nil {
		created, err := e.store.Create(ctx, deriveTitle(text))
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		active = created
	}
	sessionID := active.ID

	// Optimistic user message: visible immediately, superseded by the
	// server's copy on the next history fetch.
	e.store.Append(sessionID, api.Message{
		ID:        "temp-" + uuid.NewString(),
		Role:      api.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})

	e.mu.Lock()
	e.draft = &Draft{
		ID:        "streaming-" + uuid.NewString(),
		SessionID: sessionID,
		Role:      api.RoleAssistant,
	}
	e.mu.Unlock()

	body, err := e.transport.StreamChat(ctx, text, sessionID)
	if err != nil {
		var authErr *api.AuthError
		if errors.As(err, &authErr) {
			e.clearDraft()
			return err
		}
		e.failStream(sessionID, fmt.Sprintf("Error: %v", err))
		return nil
	}
	defer body.Close()

	result := e.consume(ctx, body, sessionID)

	switch {
	case result.errText != "":
		// Server-reported failure: partial content is preserved in the
		// failure message so nothing already streamed is lost.
		e.failStream(sessionID, appendError(result.content, result.errText))
	case result.readErr != nil:
		e.logger.Error("stream read failed", "session_id", sessionID, "error", result.readErr)
		e.failStream(sessionID, appendError(result.content, result.readErr.Error()))
	case result.messageID == "":
		perr := &api.ProtocolError{Detail: "stream ended without a message id"}
		e.logger.Error("discarding draft", "session_id", sessionID, "error", perr)
		e.clearDraft()
	default:
		appended := e.store.ReplaceOrAppend(sessionID, api.Message{
			ID:        result.messageID,
			Role:      api.RoleAssistant,
			Content:   result.content,
			CreatedAt: time.Now(),
		})
		e.clearDraft()
		e.logger.Info("stream committed",
			"session_id", sessionID,
			"message_id", result.messageID,
			"bytes", len(result.content),
			"appended", appended)
	}

	return nil
}

// streamResult is the terminal state of one consumed stream.
type streamResult struct {
	content   string
	messageID string
	errText   string
	readErr   error
}

// consume reads the response body chunk by chunk, reassembles complete
// lines, and dispatches events in arrival order.
func (e *Engine) consume(ctx context.Context, body io.Reader, sessionID string) streamResult {
	var (
		result   streamResult
		splitter lineSplitter
		buf      = make([]byte, 4096)
	)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range splitter.split(buf[:n]) {
				if done := e.dispatch(ctx, line, sessionID, &result); done {
					return result
				}
			}
		}
		if readErr == io.EOF {
			// The wire format terminates every record with a newline, but
			// tolerate a server that drops the final one.
			if line := splitter.remainder(); len(line) > 0 {
				if done := e.dispatch(ctx, line, sessionID, &result); done {
					return result
				}
			}
			return result
		}
		if readErr != nil {
			result.readErr = readErr
			return result
		}
	}
}

// dispatch handles one decoded event. It reports true when the stream is
// terminally failed and no further events should be processed.
func (e *Engine) dispatch(ctx context.Context, line []byte, sessionID string, result *streamResult) bool {
	event, err := decodeEvent(line)
	if err != nil {
		// Malformed lines are skipped, never fatal: a forward-compatible
		// client survives event types it cannot parse.
		e.logger.Warn("skipping malformed stream line", "error", err, "line", string(line))
		return false
	}

	e.countEvent(ctx)

	switch ev := event.(type) {
	case SessionIDEvent:
		if ev.SessionID != sessionID {
			if err := e.store.Adopt(ctx, ev.SessionID); err != nil {
				e.logger.Warn("failed to adopt server-created session", "session_id", ev.SessionID, "error", err)
			}
		}
	case ContentEvent:
		e.mu.Lock()
		if e.draft != nil {
			e.draft.Content += ev.Content
		}
		e.mu.Unlock()
		result.content += ev.Content
		e.countContent(ctx, len(ev.Content))
		if e.OnDelta != nil {
			e.OnDelta(ev.Content)
		}
	case MessageIDEvent:
		result.messageID = ev.MessageID
	case ErrorEvent:
		e.logger.Error("server reported stream error", "session_id", sessionID, "error", ev.Error)
		result.errText = ev.Error
		return true
	case UnknownEvent:
		e.logger.Warn("skipping unrecognized stream event", "type", ev.Type)
	}
	return false
}

// failStream replaces the draft with a locally-tagged assistant message that
// communicates the failure. No server id exists for it, so it is never
// deduplicated. When the session is no longer active the message has nowhere
// to land and, unlike a committed reply, the server cannot replay it; the
// failure text is logged so it is not lost silently.
func (e *Engine) failStream(sessionID, content string) {
	added := e.store.Append(sessionID, api.Message{
		ID:        "error-" + uuid.NewString(),
		Role:      api.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if !added {
		e.logger.Warn("stream failure for a session that is no longer active", "session_id", sessionID, "content", content)
	}
	e.clearDraft()
}

func (e *Engine) clearDraft() {
	e.mu.Lock()
	e.draft = nil
	e.mu.Unlock()
}

func (e *Engine) countEvent(ctx context.Context) {
	counter, err := e.meter.Int64Counter(
		"chat.stream.events",
		metric.WithDescription("Stream events received"),
	)
	if err == nil {
		counter.Add(ctx, 1)
	}
}

func (e *Engine) countContent(ctx context.Context, n int) {
	counter, err := e.meter.Int64Counter(
		"chat.stream.content.bytes",
		metric.WithDescription("Assistant content bytes received"),
	)
	if err == nil {
		counter.Add(ctx, int64(n))
	}
}

// deriveTitle builds an implicit session title from the first message.
func deriveTitle(text string) string {
	const max = 30
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return string(runes)
}

// appendError attaches an error notice to whatever content already
// streamed, matching how the draft is shown mid-failure.
func appendError(content, errText string) string {
	if content == "" {
		return "Error: " + errText
	}
	return content + "\n\nError: " + errText
}

// lineSplitter reassembles newline-delimited records from arbitrarily split
// chunks. A partial trailing line is carried over and prefixed onto the next
// chunk.
type lineSplitter struct {
	carry []byte
}

// split returns the complete lines ending within chunk, with surrounding
// whitespace trimmed and empty lines dropped.
func (ls *lineSplitter) split(chunk []byte) [][]byte {
	data := append(ls.carry, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(data[:i]); len(line) > 0 {
			lines = append(lines, line)
		}
		data = data[i+1:]
	}

	ls.carry = append([]byte(nil), data...)
	return lines
}

// remainder returns the buffered partial line, if any, and resets the
// splitter.
func (ls *lineSplitter) remainder() []byte {
	line := bytes.TrimSpace(ls.carry)
	ls.carry = nil
	return line
}
