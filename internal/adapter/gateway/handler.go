package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"skillagent/internal/adapter/agui"
	"skillagent/internal/domain"
	"skillagent/internal/infra/middleware"
	"skillagent/internal/usecase"
)

// DefaultMaxBodyBytes caps request bodies when HandlerDeps leaves it unset.
const DefaultMaxBodyBytes int64 = 1 << 20

// Runner runs one agent loop. *usecase.Agent satisfies it.
type Runner interface {
	Run(ctx context.Context, in usecase.RunInput, sink domain.AgentEventSink) (*usecase.RunResult, error)
}

// HandlerDeps holds dependencies needed by the HTTP handlers.
type HandlerDeps struct {
	Agent        Runner
	Tools        domain.ToolCatalog        // reported by /status, can be nil
	ToolServers  func() []ToolServerStatus // MCP servers for /status, can be nil
	Researcher   Researcher                // serves POST /research, can be nil
	Metrics      *Metrics                  // can be nil
	Threads      *usecase.ThreadLocker
	Logger       *slog.Logger
	MaxBodyBytes int64

	Name     string
	Version  string
	Provider string
}

// NewHandler builds the gateway routes wrapped in the shared middleware chain.
func NewHandler(deps HandlerDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Metrics == nil {
		deps.Metrics = &Metrics{}
	}
	if deps.Threads == nil {
		deps.Threads = usecase.NewThreadLocker()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if deps.Name == "" {
		deps.Name = "skillagent"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ag-ui", aguiHandler(deps))
	mux.HandleFunc("POST /stream", streamHandler(deps))
	mux.HandleFunc("POST /{$}", answerHandler(deps))
	if deps.Researcher != nil {
		mux.HandleFunc("POST /research", researchHandler(deps))
	}
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /status", statusHandler(deps, time.Now()))

	return middleware.Chain(mux,
		middleware.Recover(deps.Logger),
		middleware.RequestLogger(deps.Logger),
		middleware.SecurityHeaders,
	)
}

// ChatRequest is the body of POST / and POST /stream.
type ChatRequest struct {
	Question    string        `json:"question"`
	ChatHistory []ChatMessage `json:"chat_history,omitempty"`
}

// ChatMessage is one prior turn in ChatRequest.ChatHistory.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the body returned by POST /.
type ChatResponse struct {
	Answer string `json:"answer"`
}

// ErrorResponse is returned for rejected requests and failed runs.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// toMessages appends the question to the history as a user message.
func (r ChatRequest) toMessages() ([]domain.Message, error) {
	if strings.TrimSpace(r.Question) == "" {
		return nil, errors.New("question is required")
	}
	msgs := make([]domain.Message, 0, len(r.ChatHistory)+1)
	for i, m := range r.ChatHistory {
		switch m.Role {
		case domain.RoleSystem, domain.RoleUser, domain.RoleAssistant:
		default:
			return nil, fmt.Errorf("chat_history[%d]: unsupported role %q", i, m.Role)
		}
		msgs = append(msgs, domain.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, domain.Message{Role: domain.RoleUser, Content: r.Question}), nil
}

// answerHandler runs the loop to completion and returns only the text
// produced after the last tool activity.
func answerHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, deps.MaxBodyBytes, &req) {
			return
		}
		msgs, err := req.toMessages()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}

		var answer finalAnswer
		res, err := deps.Agent.Run(r.Context(), usecase.RunInput{Messages: msgs}, answer.observe)
		if err != nil {
			kind := domain.ErrorKindOf(err)
			logRunFailure(deps.Logger, res, kind, err)
			writeJSON(w, statusForKind(kind), ErrorResponse{Error: err.Error(), Code: string(kind)})
			return
		}

		writeJSON(w, http.StatusOK, ChatResponse{Answer: answer.String()})
	}
}

// streamHandler streams each text chunk as data: {"answer": "..."}.
func streamHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, deps.MaxBodyBytes, &req) {
			return
		}
		msgs, err := req.toMessages()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sse, err := agui.NewSSEWriter(w)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		out := &sseSink{w: sse, cancel: cancel, logger: deps.Logger}

		res, err := deps.Agent.Run(ctx, usecase.RunInput{Messages: msgs}, func(ev domain.AgentEvent) {
			switch ev.Type {
			case domain.AgentTextChunk:
				if ev.Text != "" {
					out.write(ChatResponse{Answer: ev.Text})
				}
			case domain.AgentLoopError:
				out.write(ErrorResponse{Error: ev.Detail, Code: string(ev.ErrKind)})
			}
		})
		if err != nil {
			logRunFailure(deps.Logger, res, domain.ErrorKindOf(err), err)
		}
	}
}

// finalAnswer accumulates assistant text, discarding everything up to and
// including the last tool call.
type finalAnswer struct {
	b strings.Builder
}

func (a *finalAnswer) observe(ev domain.AgentEvent) {
	switch ev.Type {
	case domain.AgentTextChunk:
		a.b.WriteString(ev.Text)
	case domain.AgentToolCallStarted, domain.AgentToolCallFinished:
		a.b.Reset()
	}
}

func (a *finalAnswer) String() string { return a.b.String() }

// sseSink writes server-sent events until the first write error, which
// cancels the run.
type sseSink struct {
	mu     sync.Mutex
	w      *agui.SSEWriter
	cancel context.CancelFunc
	logger *slog.Logger
	err    error
}

func (s *sseSink) write(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if err := s.w.Write(v); err != nil {
		s.err = err
		s.cancel()
		s.logger.Debug("sse client gone, cancelling run", "error", err)
	}
}

// decodeBody reads a size-capped JSON body into v. It writes the error
// response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				ErrorResponse{Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodePayload(e domain.Event, v any) bool {
	return len(e.Payload) > 0 && json.Unmarshal(e.Payload, v) == nil
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindStreamInterrupted:
		return http.StatusBadGateway
	case domain.KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func logRunFailure(logger *slog.Logger, res *usecase.RunResult, kind domain.ErrorKind, err error) {
	var runID string
	if res != nil {
		runID = res.RunID
	}
	if kind == domain.KindCancelled {
		logger.Info("run cancelled", "run_id", runID)
		return
	}
	logger.Warn("run failed", "run_id", runID, "kind", kind, "error", err)
}
