package gateway

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"skillagent/internal/domain"
)

// Metrics counts run and tool lifecycle events for the status endpoint.
type Metrics struct {
	RunsStarted     atomic.Int64
	RunsFinished    atomic.Int64
	RunsFailed      atomic.Int64
	ToolCallsTotal  atomic.Int64
	ToolErrorsTotal atomic.Int64
}

// Subscribe wires the counters to bus. Returns the unsubscribe function.
func (m *Metrics) Subscribe(bus domain.EventBus) func() {
	return bus.Subscribe(func(_ context.Context, e domain.Event) {
		switch e.Type {
		case domain.EventRunStarted:
			m.RunsStarted.Add(1)
		case domain.EventRunFinished:
			m.RunsFinished.Add(1)
		case domain.EventRunFailed:
			m.RunsFailed.Add(1)
		case domain.EventToolCallFinished:
			m.ToolCallsTotal.Add(1)
			var p domain.ToolCallFinishedPayload
			if decodePayload(e, &p) && p.IsError {
				m.ToolErrorsTotal.Add(1)
			}
		}
	},
		domain.EventRunStarted,
		domain.EventRunFinished,
		domain.EventRunFailed,
		domain.EventToolCallFinished,
	)
}

// StatusResponse is the JSON body returned by GET /status.
type StatusResponse struct {
	Agent AgentStatus `json:"agent"`
	Runs  RunStatus   `json:"runs"`
	Tools ToolStatus  `json:"tools"`
}

// AgentStatus holds agent overview info.
type AgentStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Provider      string `json:"provider,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// RunStatus holds run counters.
type RunStatus struct {
	Started  int64 `json:"started"`
	Finished int64 `json:"finished"`
	Failed   int64 `json:"failed"`
	Active   int64 `json:"active"`
}

// ToolStatus holds tool usage stats.
type ToolStatus struct {
	Registered  int                `json:"registered"`
	Names       []string           `json:"names"`
	CallsTotal  int64              `json:"calls_total"`
	ErrorsTotal int64              `json:"errors_total"`
	Servers     []ToolServerStatus `json:"servers,omitempty"`
}

// ToolServerStatus describes one external tool server.
type ToolServerStatus struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"`
	Tools     []string `json:"tools,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func statusHandler(deps HandlerDeps, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m := deps.Metrics
		started, finished, failed := m.RunsStarted.Load(), m.RunsFinished.Load(), m.RunsFailed.Load()

		resp := StatusResponse{
			Agent: AgentStatus{
				Name:          deps.Name,
				Version:       deps.Version,
				Provider:      deps.Provider,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Runs: RunStatus{
				Started:  started,
				Finished: finished,
				Failed:   failed,
				Active:   max(started-finished-failed, 0),
			},
			Tools: ToolStatus{
				Names:       []string{},
				CallsTotal:  m.ToolCallsTotal.Load(),
				ErrorsTotal: m.ToolErrorsTotal.Load(),
			},
		}
		if deps.Tools != nil {
			for _, s := range deps.Tools.Schemas() {
				resp.Tools.Names = append(resp.Tools.Names, s.Name)
			}
			resp.Tools.Registered = len(resp.Tools.Names)
		}
		if deps.ToolServers != nil {
			resp.Tools.Servers = deps.ToolServers()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
