package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/TenantForge/internal/adapter/postgres"
	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "list-tenants":
		return runAdminListTenants(args[1:])
	case "show-tenant":
		return runAdminShowTenant(args[1:])
	case "reconcile":
		return runAdminReconcile(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	case "watch-events":
		return runAdminWatchEvents(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: tenantforge admin <command> [options]

Commands:
  list-tenants   List all tenants in the registry
  show-tenant    Show one tenant's record
  reconcile      Deprovision every tenant in the failed state. Run it with
                 the server stopped: it refuses while a server answers on
                 --server unless --force is given
  migrate        Apply, roll back or inspect registry migrations
  watch-events   Print lifecycle events from NATS until interrupted
  help           Show this help message

Output is a table on a terminal and JSON otherwise; --json forces JSON.

Examples:
  tenantforge admin list-tenants --status failed
  tenantforge admin show-tenant --username alice
  tenantforge admin reconcile --dry-run
  tenantforge admin migrate --down 1
  tenantforge admin watch-events --action failed
`)
}

// loadAdminDeps connects to the registry and the configured backend without
// applying migrations.
func loadAdminDeps(ctx context.Context) (*service.LifecycleService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	driver, err := newDriver(cfg)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	vault, err := loadVault()
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("secrets: %w", err)
	}

	svc := service.NewLifecycleService(cfg, postgres.NewStore(pool), driver)
	svc.SetVault(vault)
	return svc, pool.Close, nil
}

// jsonOutput reports whether results should be printed as JSON.
func jsonOutput(forced bool) bool {
	return forced || !term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAdminListTenants(args []string) error {
	fs := flag.NewFlagSet("list-tenants", flag.ContinueOnError)
	status := fs.String("status", "", "only list tenants in this status")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *status != "" && !tenant.Status(*status).Valid() {
		return fmt.Errorf("unknown status %q", *status)
	}

	ctx := context.Background()
	svc, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	all, err := svc.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	tenants := filterTenants(all, tenant.Status(*status))

	if jsonOutput(*asJSON) {
		return printJSON(os.Stdout, tenants)
	}
	if len(tenants) == 0 {
		fmt.Println("No tenants found.")
		return nil
	}
	return writeTenantTable(os.Stdout, tenants)
}

func filterTenants(all []tenant.Tenant, status tenant.Status) []tenant.Tenant {
	out := make([]tenant.Tenant, 0, len(all))
	for i := range all {
		if status == "" || all[i].Status == status {
			out = append(out, all[i])
		}
	}
	return out
}

func writeTenantTable(out io.Writer, tenants []tenant.Tenant) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "USERNAME\tSTATUS\tBACKEND\tSUBDOMAIN\tENDPOINT\tCREATED")
	for i := range tenants {
		t := &tenants[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Username, t.Status, t.Backend, t.Subdomain, endpointString(t.Endpoint),
			t.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func endpointString(e tenant.Endpoint) string {
	if e.Port != 0 {
		return fmt.Sprintf(":%d", e.Port)
	}
	if e.Namespace != "" {
		return e.Namespace + "/" + e.Service
	}
	return "-"
}

func runAdminShowTenant(args []string) error {
	fs := flag.NewFlagSet("show-tenant", flag.ContinueOnError)
	username := fs.String("username", "", "tenant username (required)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("--username is required")
	}

	ctx := context.Background()
	svc, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := svc.Get(ctx, *username)
	if err != nil {
		return fmt.Errorf("show tenant: %w", err)
	}
	if jsonOutput(*asJSON) {
		return printJSON(os.Stdout, t)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Username:\t%s\n", t.Username)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", t.Status)
	_, _ = fmt.Fprintf(w, "Backend:\t%s\n", t.Backend)
	_, _ = fmt.Fprintf(w, "Subdomain:\t%s\n", t.Subdomain)
	_, _ = fmt.Fprintf(w, "Endpoint:\t%s\n", endpointString(t.Endpoint))
	_, _ = fmt.Fprintf(w, "Workload:\t%s\n", t.Handles.Workload)
	_, _ = fmt.Fprintf(w, "Storage:\t%s\n", t.Handles.Storage)
	if t.LastError != "" {
		_, _ = fmt.Fprintf(w, "Last error:\t%s\n", t.LastError)
	}
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(w, "Updated:\t%s\n", t.UpdatedAt.Format("2006-01-02 15:04:05"))
	return w.Flush()
}

// errServerRunning is returned when reconcile would race a live server.
var errServerRunning = errors.New("a tenantforge server is running; stop it before reconciling or pass --force")

// checkServerStopped fails when serverURL answers its health endpoint. The
// server serializes lifecycle operations per username in memory, which the
// admin process cannot share.
func checkServerStopped(ctx context.Context, serverURL string, force bool) error {
	if force {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	_ = resp.Body.Close()
	return errServerRunning
}

func runAdminReconcile(args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "only list the tenants that would be removed")
	server := fs.String("server", "", "server base URL to check (default http://127.0.0.1:<server.port>)")
	force := fs.Bool("force", false, "reconcile even if a server is running")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	if !*dryRun {
		url := *server
		if url == "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			url = "http://127.0.0.1:" + cfg.Server.Port
		}
		if err := checkServerStopped(ctx, url, *force); err != nil {
			return err
		}
	}

	svc, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if *dryRun {
		all, err := svc.List(ctx)
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
		failed := filterTenants(all, tenant.StatusFailed)
		for i := range failed {
			fmt.Fprintf(os.Stderr, "would deprovision %s (%s)\n", failed[i].Username, failed[i].LastError)
		}
		fmt.Fprintf(os.Stderr, "%d failed tenant(s)\n", len(failed))
		return nil
	}

	n, err := svc.ReconcileFailed(ctx)
	fmt.Fprintf(os.Stderr, "Deprovisioned %d failed tenant(s)\n", n)
	return err
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back this many migrations")
	status := fs.Bool("status", false, "print the current schema version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch {
	case *status:
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("migration version: %w", err)
		}
		fmt.Printf("schema version %d\n", v)
		return nil
	case *down > 0:
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *down); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *down)
		return nil
	default:
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Migrations applied")
		return nil
	}
}
