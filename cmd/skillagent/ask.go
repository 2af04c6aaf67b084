package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"skillagent/internal/domain"
	"skillagent/internal/usecase"
)

const answerWidth = 100

func runAsk(args []string, stdout io.Writer) error {
	configPath, rest, err := commandFlags("ask", args)
	if err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(rest, " "))
	if question == "" {
		return errors.New("ask: a question is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, cleanup, err := loadRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := ask(ctx, a.agent, question, stdout)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, renderMarkdown(answer, answerWidth))
	return nil
}

type runner interface {
	Run(ctx context.Context, in usecase.RunInput, sink domain.AgentEventSink) (*usecase.RunResult, error)
}

// ask runs one loop, printing tool activity as it happens, and returns the
// text produced after the last tool call.
func ask(ctx context.Context, agent runner, question string, out io.Writer) (string, error) {
	var answer strings.Builder
	in := usecase.RunInput{Messages: []domain.Message{{Role: domain.RoleUser, Content: question}}}

	_, err := agent.Run(ctx, in, func(ev domain.AgentEvent) {
		switch ev.Type {
		case domain.AgentTextChunk:
			answer.WriteString(ev.Text)
		case domain.AgentToolCallStarted, domain.AgentToolCallFinished:
			answer.Reset()
			fmt.Fprintln(out, toolLine(ev))
		case domain.AgentLoopError:
			fmt.Fprintln(out, styleError.Render("run failed: "+string(ev.ErrKind))+" "+ev.Detail)
		}
	})
	if err != nil {
		return "", fmt.Errorf("ask: %w", err)
	}
	return answer.String(), nil
}
