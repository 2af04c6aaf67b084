package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"skillagent/internal/adapter/gateway"
)

func runServe(args []string) error {
	configPath, _, err := commandFlags("serve", args)
	if err != nil {
		return err
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

	metrics := &gateway.Metrics{}
	unsubscribe := metrics.Subscribe(a.bus)
	defer unsubscribe()

	handler := gateway.NewHandler(gateway.HandlerDeps{
		Agent:        a.agent,
		Tools:        a.catalog,
		ToolServers:  a.toolServers,
		Researcher:   a.researcherFor(),
		Metrics:      metrics,
		Logger:       log,
		MaxBodyBytes: cfg.Gateway.MaxBodyBytes,
		Version:      version,
		Provider:     a.provider.Name(),
	})

	srv := gateway.NewServer(cfg.Gateway, handler, log)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("shutting down")
	return nil
}
