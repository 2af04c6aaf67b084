package gateway

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"skillagent/internal/domain"
	"skillagent/internal/usecase/research"
)

type fakeResearcher struct {
	answer string
	err    error
	got    string
}

func (f *fakeResearcher) Solve(_ context.Context, question string) (*research.Result, error) {
	f.got = question
	if f.err != nil {
		return nil, f.err
	}
	return &research.Result{Answer: f.answer, TraceID: "01TRACE"}, nil
}

func newResearchHandler(r Researcher) http.Handler {
	return NewHandler(HandlerDeps{Agent: &fakeRunner{}, Researcher: r, Logger: nopLogger()})
}

func TestResearchReturnsAnswerAndTrace(t *testing.T) {
	r := &fakeResearcher{answer: "1420"}
	rec := post(t, newResearchHandler(r), "/research", `{"question":"故宫是哪一年建成的？"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"1420","trace_id":"01TRACE"}`, rec.Body.String())
	assert.Equal(t, "故宫是哪一年建成的？", r.got)
}

func TestResearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
	}{
		{"empty question", domain.NewDomainError("Solver.Solve", domain.ErrEmptyQuestion, ""), `{"question":" "}`, http.StatusBadRequest},
		{"provider failure", domain.WrapOp("research solve", domain.ErrStreamInterrupted), `{"question":"q"}`, http.StatusBadGateway},
		{"cancelled", context.Canceled, `{"question":"q"}`, 499},
		{"bad body", nil, `{"question":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newResearchHandler(&fakeResearcher{err: tt.err}), "/research", tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestResearchRouteOnlyWhenConfigured(t *testing.T) {
	rec := post(t, newTestHandler(&fakeRunner{}), "/research", `{"question":"q"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
