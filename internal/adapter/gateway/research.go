package gateway

import (
	"context"
	"errors"
	"net/http"

	"skillagent/internal/domain"
	"skillagent/internal/usecase/research"
)

// Researcher answers a question with the plan, search, verify and solve
// pipeline. *research.Solver satisfies it.
type Researcher interface {
	Solve(ctx context.Context, question string) (*research.Result, error)
}

// ResearchRequest is the body of POST /research.
type ResearchRequest struct {
	Question string `json:"question"`
}

// ResearchResponse is returned by POST /research.
type ResearchResponse struct {
	Answer  string `json:"answer"`
	TraceID string `json:"trace_id"`
}

func researchHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResearchRequest
		if !decodeBody(w, r, deps.MaxBodyBytes, &req) {
			return
		}

		res, err := deps.Researcher.Solve(r.Context(), req.Question)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyQuestion) {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "question is required"})
				return
			}
			kind := domain.ErrorKindOf(err)
			if kind == domain.KindCancelled {
				deps.Logger.Info("research cancelled")
			} else {
				deps.Logger.Warn("research failed", "error", err)
			}
			writeJSON(w, statusForKind(kind), ErrorResponse{Error: err.Error(), Code: string(kind)})
			return
		}

		writeJSON(w, http.StatusOK, ResearchResponse{Answer: res.Answer, TraceID: res.TraceID})
	}
}
