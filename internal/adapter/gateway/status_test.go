package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillagent/internal/adapter/tool"
	"skillagent/internal/domain"
	"skillagent/internal/usecase/eventbus"
)

func publish(bus domain.EventBus, typ domain.EventType, payload any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	bus.Publish(context.Background(), domain.Event{Type: typ, Timestamp: time.Now(), RunID: "r", Payload: raw})
}

func TestMetricsSubscribe(t *testing.T) {
	bus := eventbus.New(nopLogger())
	m := &Metrics{}
	m.Subscribe(bus)

	publish(bus, domain.EventRunStarted, nil)
	publish(bus, domain.EventRunStarted, nil)
	publish(bus, domain.EventRunStarted, nil)
	publish(bus, domain.EventRunFinished, nil)
	publish(bus, domain.EventRunFailed, domain.RunFailedPayload{Kind: domain.KindStreamInterrupted})
	publish(bus, domain.EventToolCallFinished, domain.ToolCallFinishedPayload{CallID: "a", Tool: "get_weather"})
	publish(bus, domain.EventToolCallFinished, domain.ToolCallFinishedPayload{CallID: "b", Tool: "web_search", IsError: true})
	bus.Close()

	assert.Equal(t, int64(3), m.RunsStarted.Load())
	assert.Equal(t, int64(1), m.RunsFinished.Load())
	assert.Equal(t, int64(1), m.RunsFailed.Load())
	assert.Equal(t, int64(2), m.ToolCallsTotal.Load())
	assert.Equal(t, int64(1), m.ToolErrorsTotal.Load())
}

func TestMetricsUnsubscribe(t *testing.T) {
	bus := eventbus.New(nopLogger())
	m := &Metrics{}
	unsub := m.Subscribe(bus)
	unsub()

	publish(bus, domain.EventRunStarted, nil)
	bus.Close()
	assert.Zero(t, m.RunsStarted.Load())
}

func TestStatusEndpoint(t *testing.T) {
	m := &Metrics{}
	m.RunsStarted.Store(5)
	m.RunsFinished.Store(3)
	m.RunsFailed.Store(1)
	m.ToolCallsTotal.Store(7)
	m.ToolErrorsTotal.Store(2)

	catalog := tool.NewCatalog(tool.NewWeatherTool(nil))
	h := NewHandler(HandlerDeps{
		Agent:    &fakeRunner{},
		Tools:    catalog,
		Metrics:  m,
		Version:  "test",
		Provider: "openai",
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "skillagent", resp.Agent.Name)
	assert.Equal(t, "test", resp.Agent.Version)
	assert.Equal(t, "openai", resp.Agent.Provider)
	assert.Equal(t, RunStatus{Started: 5, Finished: 3, Failed: 1, Active: 1}, resp.Runs)
	assert.Equal(t, 1, resp.Tools.Registered)
	assert.Equal(t, []string{"get_weather"}, resp.Tools.Names)
	assert.Equal(t, int64(7), resp.Tools.CallsTotal)
	assert.Equal(t, int64(2), resp.Tools.ErrorsTotal)
}

func TestStatusEndpointReportsToolServers(t *testing.T) {
	h := NewHandler(HandlerDeps{
		Agent: &fakeRunner{},
		ToolServers: func() []ToolServerStatus {
			return []ToolServerStatus{
				{Name: "docs", Transport: "stdio", Tools: []string{"mcp_docs_search"}},
				{Name: "db", Transport: "http", Error: "connection refused"},
			}
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tools.Servers, 2)
	assert.Equal(t, []string{"mcp_docs_search"}, resp.Tools.Servers[0].Tools)
	assert.Equal(t, "connection refused", resp.Tools.Servers[1].Error)
}

func TestStatusEndpointWithoutTools(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	newTestHandler(&fakeRunner{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"names":[]`)
	assert.NotContains(t, rec.Body.String(), `"servers"`)
}
