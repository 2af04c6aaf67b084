package gateway

import (
	"context"
	"net/http"

	"skillagent/internal/adapter/agui"
	"skillagent/internal/domain"
	"skillagent/internal/usecase"
)

// aguiHandler serves POST /ag-ui: the run's events are streamed as AG-UI
// server-sent events. A client disconnect cancels the run. Runs that share a
// threadId are served one at a time.
func aguiHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in agui.RunAgentInput
		if !decodeBody(w, r, deps.MaxBodyBytes, &in) {
			return
		}
		msgs, err := in.ToMessages()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}

		runID := in.RunID
		if runID == "" {
			runID = usecase.NewRunID()
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if in.ThreadID != "" {
			unlock, err := deps.Threads.Lock(ctx, in.ThreadID)
			if err != nil {
				deps.Logger.Debug("ag-ui run abandoned while waiting for thread", "thread_id", in.ThreadID, "error", err)
				return
			}
			defer unlock()
		}

		sse, err := agui.NewSSEWriter(w)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		out := &sseSink{w: sse, cancel: cancel, logger: deps.Logger}
		logger := deps.Logger.With("run_id", runID, "thread_id", in.ThreadID)

		enc := agui.NewEncoder(logger)
		writeAll(out, enc.Start(in, runID))

		res, err := deps.Agent.Run(ctx, usecase.RunInput{RunID: runID, Messages: msgs}, func(ev domain.AgentEvent) {
			writeAll(out, enc.Encode(ev))
		})
		if err != nil {
			logRunFailure(logger, res, domain.ErrorKindOf(err), err)
		}

		if !enc.Closed() {
			kind, detail := domain.KindExecutionFailed, "run ended without a terminal event"
			if err != nil {
				kind, detail = domain.ErrorKindOf(err), err.Error()
			}
			writeAll(out, enc.Abort(kind, detail))
		}
	}
}

func writeAll(out *sseSink, events []agui.Event) {
	for _, ev := range events {
		out.write(ev)
	}
}
