package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillagent/internal/adapter/agui"
	"skillagent/internal/domain"
	"skillagent/internal/usecase"
)

const aguiBody = `{
	"threadId": "thread-1",
	"runId": "run-1",
	"messages": [{"id": "m1", "role": "user", "content": "Weather in Beijing?"}],
	"tools": [],
	"context": []
}`

func decodeAGUI(t *testing.T, rec *httptest.ResponseRecorder) []agui.Event {
	t.Helper()
	var events []agui.Event
	for _, line := range dataLines(t, rec.Body) {
		var ev agui.Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		events = append(events, ev)
	}
	return events
}

func aguiTypes(events []agui.Event) []agui.EventType {
	out := make([]agui.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestAGUIToolRun(t *testing.T) {
	events := append(toolRoundTrip("call_1", "get_weather"), textEv("Sunny."),
		domain.AgentEvent{Type: domain.AgentTurnCompleted, Iteration: 2}, finished)
	runner := &fakeRunner{events: events}

	rec := post(t, newTestHandler(runner), "/ag-ui", aguiBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	got := decodeAGUI(t, rec)
	assert.Equal(t, []agui.EventType{
		agui.EventRunStarted,
		agui.EventToolCallStarted,
		agui.EventToolCallResult,
		agui.EventTextMessageStart,
		agui.EventTextMessageContent,
		agui.EventTextMessageEnd,
		agui.EventRunFinished,
	}, aguiTypes(got))

	for _, ev := range got {
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, "thread-1", ev.ThreadID)
	}
	require.NotNil(t, got[0].Input)
	assert.Equal(t, "thread-1", got[0].Input.ThreadID)

	result := got[2]
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "get_weather", result.ToolCallName)
	assert.Equal(t, agui.RoleTool, result.Role)
	require.NotNil(t, result.Content)
	assert.Equal(t, "The weather of Beijing is sunny.", *result.Content)

	in := runner.lastInput(t)
	assert.Equal(t, "run-1", in.RunID)
	require.Len(t, in.Messages, 1)
	assert.Equal(t, domain.RoleUser, in.Messages[0].Role)
}

func TestAGUIGeneratesRunID(t *testing.T) {
	runner := &fakeRunner{events: []domain.AgentEvent{finished}}
	rec := post(t, newTestHandler(runner), "/ag-ui", `{"threadId": "t", "messages": [{"role": "user", "content": "hi"}]}`)

	got := decodeAGUI(t, rec)
	require.Len(t, got, 2)
	generated := runner.lastInput(t).RunID
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, got[0].RunID)
	assert.Equal(t, generated, got[1].RunID)
}

func TestAGUIRunError(t *testing.T) {
	runner := &fakeRunner{
		events: []domain.AgentEvent{
			textEv("thinking"),
			{Type: domain.AgentLoopError, ErrKind: domain.KindIterationLimitExceeded, Detail: "reached 10 iterations"},
		},
		err: domain.ErrMaxIterations,
	}
	got := decodeAGUI(t, post(t, newTestHandler(runner), "/ag-ui", aguiBody))

	assert.Equal(t, []agui.EventType{
		agui.EventRunStarted,
		agui.EventTextMessageStart,
		agui.EventTextMessageContent,
		agui.EventTextMessageEnd,
		agui.EventRunError,
	}, aguiTypes(got))
	last := got[len(got)-1]
	assert.Equal(t, "IterationLimitExceeded", last.Code)
	assert.Equal(t, "reached 10 iterations", last.Message)
}

func TestAGUIAbortsWithoutTerminalEvent(t *testing.T) {
	runner := &fakeRunner{
		events: []domain.AgentEvent{textEv("half")},
		err:    domain.ErrStreamInterrupted,
	}
	got := decodeAGUI(t, post(t, newTestHandler(runner), "/ag-ui", aguiBody))

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, agui.EventRunError, last.Type)
	assert.Equal(t, string(domain.KindStreamInterrupted), last.Code)
	assert.Equal(t, agui.EventTextMessageEnd, got[len(got)-2].Type)
}

func TestAGUIRejectsBadHistory(t *testing.T) {
	runner := &fakeRunner{}
	rec := post(t, newTestHandler(runner), "/ag-ui", `{"messages": [{"role": "robot", "content": "x"}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported role")
	assert.Empty(t, runner.got)
}

func TestAGUIClientDisconnectCancelsRun(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	runner := &fakeRunner{
		run: func(ctx context.Context, in usecase.RunInput, sink domain.AgentEventSink) (*usecase.RunResult, error) {
			sink(textEv("working"))
			close(started)
			<-ctx.Done()
			close(cancelled)
			sink(domain.AgentEvent{Type: domain.AgentLoopError, ErrKind: domain.KindCancelled, Detail: "run cancelled"})
			return &usecase.RunResult{RunID: in.RunID}, ctx.Err()
		},
	}
	srv := httptest.NewServer(newTestHandler(runner))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/ag-ui", strings.NewReader(aguiBody))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}
	cancel()
	resp.Body.Close()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled after client disconnect")
	}
}

func TestAGUISerializesRunsOnSameThread(t *testing.T) {
	var active, peak atomic.Int32
	runner := &fakeRunner{
		run: func(_ context.Context, in usecase.RunInput, sink domain.AgentEventSink) (*usecase.RunResult, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			active.Add(-1)
			sink(finished)
			return &usecase.RunResult{RunID: in.RunID}, nil
		},
	}
	h := newTestHandler(runner)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := post(t, h, "/ag-ui", aguiBody)
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.got, 3)
}
