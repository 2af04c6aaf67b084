package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"

	"skillagent/internal/domain"
)

// FinalizedTurn is the reduced result of one streamed model turn.
type FinalizedTurn struct {
	Text      string
	ToolCalls []domain.ToolCall
	Usage     domain.Usage
}

// Message returns the assistant message recording this turn.
func (t FinalizedTurn) Message() domain.Message {
	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   t.Text,
		ToolCalls: t.ToolCalls,
	}
}

// pendingCall is the per-index buffer of one in-progress tool call.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// turnAccumulator collects the fragments of a single turn. It is created per
// turn and discarded after build.
type turnAccumulator struct {
	text  strings.Builder
	calls map[int]*pendingCall
	usage domain.Usage
}

func newTurnAccumulator() *turnAccumulator {
	return &turnAccumulator{calls: make(map[int]*pendingCall)}
}

// add merges one data fragment. The first fragment for an index supplies the
// call id and name; later fragments for that index only extend its arguments.
func (acc *turnAccumulator) add(f domain.StreamFragment) {
	acc.text.WriteString(f.Text)

	if d := f.ToolCall; d != nil {
		pc, ok := acc.calls[d.Index]
		if !ok {
			pc = &pendingCall{}
			acc.calls[d.Index] = pc
		}
		if pc.id == "" {
			pc.id = d.ID
		}
		if pc.name == "" {
			pc.name = d.Name
		}
		pc.args.WriteString(d.Arguments)
	}

	if f.Usage != nil {
		acc.usage = *f.Usage
	}
}

// build returns the finalized turn with tool calls in ascending index order.
func (acc *turnAccumulator) build() FinalizedTurn {
	indices := make([]int, 0, len(acc.calls))
	for idx := range acc.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]domain.ToolCall, 0, len(indices))
	for _, idx := range indices {
		pc := acc.calls[idx]
		calls = append(calls, domain.ToolCall{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: pc.args.String(),
		})
	}

	return FinalizedTurn{
		Text:      acc.text.String(),
		ToolCalls: calls,
		Usage:     acc.usage,
	}
}

// ReduceFragments reduces a complete fragment sequence into a FinalizedTurn.
// It is a pure function of its input. A fragment carrying a transport error
// yields ErrStreamInterrupted and no partial turn.
func ReduceFragments(fragments []domain.StreamFragment) (FinalizedTurn, error) {
	acc := newTurnAccumulator()
	for _, f := range fragments {
		if f.Err != nil {
			return FinalizedTurn{}, streamInterrupted(f.Err)
		}
		acc.add(f)
	}
	return acc.build(), nil
}

// StreamReducer consumes the live fragment channel of one model turn.
type StreamReducer struct{}

// Reduce drains ch until it is closed and returns the finalized turn. onText,
// when non-nil, is called for every text delta as it arrives. Context
// cancellation is returned as the context's error; transport failures as
// ErrStreamInterrupted. Partial text is discarded in both cases.
func (StreamReducer) Reduce(ctx context.Context, ch <-chan domain.StreamFragment, onText func(string)) (FinalizedTurn, error) {
	acc := newTurnAccumulator()
	for {
		select {
		case <-ctx.Done():
			return FinalizedTurn{}, ctx.Err()
		case f, ok := <-ch:
			if !ok {
				return acc.build(), nil
			}
			if f.Err != nil {
				return FinalizedTurn{}, streamInterrupted(f.Err)
			}
			acc.add(f)
			if f.Text != "" && onText != nil {
				onText(f.Text)
			}
		}
	}
}

func streamInterrupted(err error) error {
	if errors.Is(err, domain.ErrStreamInterrupted) {
		return err
	}
	return domain.NewDomainError("StreamReducer.Reduce", domain.ErrStreamInterrupted, err.Error())
}
