package service

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Dependency status values.
const (
	HealthOK          = "ok"
	HealthUnavailable = "unavailable"
)

// HealthCheck probes one dependency. A nil error means available.
type HealthCheck func(ctx context.Context) error

// HealthReport is the result of probing the registry, the backend and any
// extra dependencies added with AddHealthCheck.
type HealthReport struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Healthy reports whether every dependency answered.
func (h *HealthReport) Healthy() bool {
	return h.Status == HealthOK
}

// AddHealthCheck registers an extra dependency probe reported under name.
// It must be called before the service starts serving.
func (s *LifecycleService) AddHealthCheck(name string, check HealthCheck) {
	if s.checks == nil {
		s.checks = make(map[string]HealthCheck)
	}
	s.checks[name] = check
}

// Health probes every dependency concurrently.
func (s *LifecycleService) Health(ctx context.Context) *HealthReport {
	checks := map[string]HealthCheck{
		"registry": s.registry.Ping,
		"backend":  s.driver.Ping,
	}
	for name, c := range s.checks {
		checks[name] = c
	}

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			errs[i] = checks[name](gctx)
			return nil
		})
	}
	_ = g.Wait()

	report := &HealthReport{
		Status:    HealthOK,
		Timestamp: s.now().UTC(),
		Services:  make(map[string]string, len(names)),
	}
	for i, name := range names {
		report.Services[name] = HealthOK
		if errs[i] != nil {
			report.Status = HealthUnavailable
			report.Services[name] = HealthUnavailable
		}
	}
	return report
}
