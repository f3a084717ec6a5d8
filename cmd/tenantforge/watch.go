package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tfnats "github.com/Strob0t/TenantForge/internal/adapter/nats"
	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/domain/event"
	"github.com/Strob0t/TenantForge/internal/port/messagequeue"
)

func runAdminWatchEvents(args []string) error {
	fs := flag.NewFlagSet("watch-events", flag.ContinueOnError)
	action := fs.String("action", "", "only watch one action, e.g. provisioned or failed")
	asJSON := fs.Bool("json", false, "print raw JSON events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.NATS.URL == "" {
		return fmt.Errorf("nats is not configured (NATS_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := tfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	raw := jsonOutput(*asJSON)
	cancel, err := queue.Subscribe(ctx, eventSubject(*action), func(_ context.Context, _ string, data []byte) error {
		return printEvent(os.Stdout, data, raw)
	})
	if err != nil {
		return err
	}
	defer cancel()

	<-ctx.Done()
	return nil
}

// eventSubject maps an action filter onto a lifecycle subject.
func eventSubject(action string) string {
	if action == "" {
		return messagequeue.SubjectTenantAll
	}
	return messagequeue.SubjectTenantPrefix + action
}

func printEvent(w io.Writer, data []byte, raw bool) error {
	if raw {
		_, err := fmt.Fprintln(w, string(data))
		return err
	}
	var ev event.TenantEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	line := fmt.Sprintf("%s  %-22s %-16s %s", ev.CreatedAt.Format("15:04:05"), ev.Type, ev.Username, ev.Status)
	if ev.Error != "" {
		line += "  " + ev.Error
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
