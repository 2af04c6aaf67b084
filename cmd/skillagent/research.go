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

	"skillagent/internal/adapter/gateway"
	"skillagent/internal/infra/config"
)

func runResearch(args []string, stdout io.Writer) error {
	configPath, rest, err := commandFlags("research", args)
	if err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(rest, " "))
	if question == "" {
		return errors.New("research: a question is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, cleanup, err := loadRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	// The command itself opts in; the search backend must still be configured.
	cfg.Research.Enabled = true
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("research: %w", err)
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return printResearch(ctx, a.researcher, question, stdout)
}

// printResearch prints the answer of one research run and its trace id.
func printResearch(ctx context.Context, r gateway.Researcher, question string, out io.Writer) error {
	res, err := r.Solve(ctx, question)
	if err != nil {
		return fmt.Errorf("research: %w", err)
	}
	fmt.Fprintln(out, styleBold.Render(res.Answer))
	fmt.Fprintln(out, styleMuted.Render("trace "+res.TraceID))
	return nil
}
