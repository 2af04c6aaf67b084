package agui

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"skillagent/internal/domain"
)

// Encoder maps the agent loop's event sequence onto AG-UI events for a
// single run. It owns the run id, the id of the open text message (if any)
// and a diagnostic sequence counter. An Encoder is not safe for concurrent
// use; the agent loop already serializes its events.
type Encoder struct {
	threadID    string
	runID       string
	parentRunID string

	openMessageID string
	seq           uint64
	started       bool
	closed        bool

	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// NewEncoder creates an encoder. A nil logger discards debug output.
func NewEncoder(logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Encoder{
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// RunID returns the run id, available after Start.
func (e *Encoder) RunID() string { return e.runID }

// Closed reports whether a terminal event has been produced.
func (e *Encoder) Closed() bool { return e.closed }

// Start emits RUN_STARTED echoing in. runID must be the id the agent loop
// runs under; the input's own runId is ignored when runID is set.
func (e *Encoder) Start(in RunAgentInput, runID string) []Event {
	if e.started {
		return nil
	}
	e.started = true
	e.threadID = in.ThreadID
	e.runID = runID
	if e.runID == "" {
		e.runID = in.RunID
	}
	e.parentRunID = in.ParentRunID

	input := in
	return []Event{e.stamp(Event{
		Type:        EventRunStarted,
		ParentRunID: e.parentRunID,
		Input:       &input,
	})}
}

// Encode translates one agent event. It returns nothing once the run has
// been terminated.
func (e *Encoder) Encode(ev domain.AgentEvent) []Event {
	if e.closed {
		return nil
	}

	var out []Event
	if !e.started {
		out = append(out, e.Start(RunAgentInput{}, "")...)
	}

	switch ev.Type {
	case domain.AgentTextChunk:
		if ev.Text == "" {
			break
		}
		if e.openMessageID == "" {
			e.openMessageID = e.newID()
			out = append(out, e.stamp(Event{
				Type:      EventTextMessageStart,
				MessageID: e.openMessageID,
				Role:      RoleAssistant,
			}))
		}
		out = append(out, e.stamp(Event{
			Type:      EventTextMessageContent,
			MessageID: e.openMessageID,
			Delta:     ev.Text,
		}))

	case domain.AgentTurnCompleted:
		out = append(out, e.closeSpan()...)

	case domain.AgentToolCallStarted:
		out = append(out, e.closeSpan()...)
		out = append(out, e.stamp(Event{
			Type:         EventToolCallStarted,
			ToolCallID:   ev.CallID,
			ToolCallName: ev.ToolName,
			Arguments:    ev.Arguments,
		}))

	case domain.AgentToolCallFinished:
		out = append(out, e.closeSpan()...)
		var content string
		if ev.Result != nil {
			content = ev.Result.Content
		}
		out = append(out, e.stamp(Event{
			Type:         EventToolCallResult,
			MessageID:    e.newID(),
			Role:         RoleTool,
			ToolCallID:   ev.CallID,
			ToolCallName: ev.ToolName,
			Content:      &content,
		}))

	case domain.AgentLoopFinished:
		out = append(out, e.closeSpan()...)
		out = append(out, e.stamp(Event{Type: EventRunFinished}))
		e.closed = true

	case domain.AgentLoopError:
		out = append(out, e.closeSpan()...)
		out = append(out, e.stamp(Event{
			Type:    EventRunError,
			Code:    string(ev.ErrKind),
			Message: ev.Detail,
		}))
		e.closed = true

	default:
		e.logger.Warn("agui: unknown agent event", "type", ev.Type, "run_id", e.runID)
	}
	return out
}

// Abort terminates the run with RUN_ERROR if it is still open. Transports
// use it when the loop ends without emitting a terminal event.
func (e *Encoder) Abort(kind domain.ErrorKind, detail string) []Event {
	return e.Encode(domain.AgentEvent{Type: domain.AgentLoopError, ErrKind: kind, Detail: detail})
}

func (e *Encoder) closeSpan() []Event {
	if e.openMessageID == "" {
		return nil
	}
	ev := e.stamp(Event{Type: EventTextMessageEnd, MessageID: e.openMessageID})
	e.openMessageID = ""
	return []Event{ev}
}

// stamp fills the run-scoped fields and advances the sequence counter.
func (e *Encoder) stamp(ev Event) Event {
	e.seq++
	ev.ThreadID = e.threadID
	ev.RunID = e.runID
	ev.Timestamp = e.now().UnixMilli()
	e.logger.Debug("agui event", "seq", e.seq, "type", ev.Type, "run_id", e.runID)
	return ev
}
