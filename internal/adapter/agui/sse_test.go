package agui

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriter_Framing(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	content := "<b>42</b>"
	require.NoError(t, w.WriteEvents([]Event{
		{Type: EventRunStarted, RunID: "r1"},
		{Type: EventToolCallResult, RunID: "r1", ToolCallID: "c1", Content: &content},
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t,
		`data: {"type":"RUN_STARTED","runId":"r1"}`+"\n\n"+
			`data: {"type":"TOOL_CALL_RESULT","runId":"r1","toolCallId":"c1","content":"<b>42</b>"}`+"\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestSSEWriter_EmptyContentIsKept(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	empty := ""
	require.NoError(t, w.Write(Event{Type: EventToolCallResult, Content: &empty}))
	assert.Equal(t, `data: {"type":"TOOL_CALL_RESULT","content":""}`+"\n\n", rec.Body.String())
}

func TestSSEWriter_ArbitraryPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Write(map[string]string{"answer": "北京"}))
	assert.Equal(t, `data: {"answer":"北京"}`+"\n\n", rec.Body.String())
}

type noFlushWriter struct{ http.ResponseWriter }

func TestSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(noFlushWriter{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}
