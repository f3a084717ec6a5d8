// Package compose implements the backend driver for a single-host container
// engine by shelling out to "docker compose".
package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/descriptor"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/port/backend"
	"github.com/Strob0t/TenantForge/internal/process"
)

func init() {
	backend.Register(tenant.BackendCompose, func(cfg *config.Config) (backend.Driver, error) {
		return New(cfg.Compose, process.NewExecRunner(cfg.Backend.CommandTimeout)), nil
	})
}

// Driver runs compose projects, one per tenant.
type Driver struct {
	binary  string
	tempDir string
	runner  process.Runner
}

// New creates a compose Driver.
func New(cfg config.Compose, runner process.Runner) *Driver {
	binary := cfg.Binary
	if binary == "" {
		binary = "docker"
	}
	return &Driver{binary: binary, tempDir: cfg.TempDir, runner: runner}
}

// Kind returns "compose".
func (d *Driver) Kind() tenant.BackendKind { return tenant.BackendCompose }

// Apply writes the compose file to a temporary location, brings the project
// up and removes the file again. The project name makes re-application
// converge on the same containers.
func (d *Driver) Apply(ctx context.Context, desc *descriptor.Descriptor) (tenant.Handles, error) {
	if desc.Compose == nil {
		return tenant.Handles{}, fmt.Errorf("%w: descriptor for %s has no compose file", domain.ErrValidation, desc.Username)
	}
	data, err := desc.Compose.Marshal()
	if err != nil {
		return tenant.Handles{}, fmt.Errorf("%w: %w", domain.ErrBackend, err)
	}

	f, err := os.CreateTemp(d.tempDir, "docker-compose-"+desc.Handles.Workload+"-*.yml")
	if err != nil {
		return tenant.Handles{}, fmt.Errorf("%w: create compose file: %w", domain.ErrBackend, err)
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return tenant.Handles{}, fmt.Errorf("%w: write compose file: %w", domain.ErrBackend, err)
	}
	if err := f.Close(); err != nil {
		return tenant.Handles{}, fmt.Errorf("%w: close compose file: %w", domain.ErrBackend, err)
	}

	if _, err := d.compose(ctx, "-f", path, "-p", desc.Handles.Workload, "up", "-d", "--remove-orphans"); err != nil {
		return tenant.Handles{}, fmt.Errorf("%w: compose up %s: %w", domain.ErrBackend, desc.Handles.Workload, err)
	}
	return desc.Handles, nil
}

// Stop stops the project's containers. A project that does not exist is
// already stopped.
func (d *Driver) Stop(ctx context.Context, h tenant.Handles) error {
	if _, err := d.compose(ctx, "-p", h.Workload, "stop"); err != nil {
		if isAbsent(err) {
			return nil
		}
		return fmt.Errorf("%w: compose stop %s: %w", domain.ErrBackend, h.Workload, err)
	}
	return nil
}

// Start starts the project's stopped containers.
func (d *Driver) Start(ctx context.Context, h tenant.Handles) error {
	if _, err := d.compose(ctx, "-p", h.Workload, "start"); err != nil {
		if isAbsent(err) {
			return fmt.Errorf("%w: compose project %s", domain.ErrNotFound, h.Workload)
		}
		return fmt.Errorf("%w: compose start %s: %w", domain.ErrBackend, h.Workload, err)
	}
	return nil
}

// Remove tears the project down. The named volume is deleted only when
// keepStorage is false.
func (d *Driver) Remove(ctx context.Context, h tenant.Handles, keepStorage bool) error {
	if _, err := d.compose(ctx, "-p", h.Workload, "down", "--remove-orphans"); err != nil && !isAbsent(err) {
		return fmt.Errorf("%w: compose down %s: %w", domain.ErrBackend, h.Workload, err)
	}
	if keepStorage || h.Storage == "" {
		return nil
	}
	if _, err := d.runner.Run(ctx, d.binary, "volume", "rm", h.Storage); err != nil && !isAbsent(err) {
		return fmt.Errorf("%w: remove volume %s: %w", domain.ErrBackend, h.Storage, err)
	}
	return nil
}

// Recreate tears the containers down, keeping the volume, and applies desc.
func (d *Driver) Recreate(ctx context.Context, h tenant.Handles, desc *descriptor.Descriptor) (tenant.Handles, error) {
	if err := d.Remove(ctx, h, true); err != nil {
		return tenant.Handles{}, err
	}
	return d.Apply(ctx, desc)
}

// Ping checks that the engine daemon answers.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.runner.Run(ctx, d.binary, "version", "--format", "{{.Server.Version}}"); err != nil {
		return fmt.Errorf("%w: docker version: %w", domain.ErrBackend, err)
	}
	return nil
}

func (d *Driver) compose(ctx context.Context, args ...string) (*process.Output, error) {
	return d.runner.Run(ctx, d.binary, append([]string{"compose"}, args...)...)
}

// isAbsent reports whether a failed command complained about a missing
// project, container or volume.
func isAbsent(err error) bool {
	var exitErr *process.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	msg := strings.ToLower(exitErr.Stderr)
	for _, marker := range []string{"no such", "not found", "no containers", "no resource found"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
