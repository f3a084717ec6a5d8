package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/TenantForge/internal/domain"
)

const meterName = "tenantforge"

// Metrics holds all TenantForge metric instruments.
type Metrics struct {
	Operations        metric.Int64Counter
	OperationDuration metric.Float64Histogram
	Compensations     metric.Int64Counter
	PortsAllocated    metric.Int64Counter
	InFlight          metric.Int64UpDownCounter

	meter metric.Meter
}

// NewMetrics creates all metric instruments on mp. A nil mp uses the global
// provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{meter: meter}
	var err error

	m.Operations, err = meter.Int64Counter("tenantforge.operations",
		metric.WithDescription("Lifecycle operations by name and outcome"))
	if err != nil {
		return nil, err
	}

	m.OperationDuration, err = meter.Float64Histogram("tenantforge.operation.duration_seconds",
		metric.WithDescription("Lifecycle operation duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.Compensations, err = meter.Int64Counter("tenantforge.compensations",
		metric.WithDescription("Backend rollbacks after a failed registry write"))
	if err != nil {
		return nil, err
	}

	m.PortsAllocated, err = meter.Int64Counter("tenantforge.ports.allocated",
		metric.WithDescription("Host ports reserved for new tenants"))
	if err != nil {
		return nil, err
	}

	m.InFlight, err = meter.Int64UpDownCounter("tenantforge.operations.in_flight",
		metric.WithDescription("Lifecycle operations currently running"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordOperation counts one finished operation. outcome is "ok" or the
// error kind name.
func (m *Metrics) RecordOperation(ctx context.Context, op, backend string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = domain.Kind(err)
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	)
	m.Operations.Add(ctx, 1, attrs)
	m.OperationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// Track marks an operation as in flight and returns the function that ends it.
func (m *Metrics) Track(ctx context.Context, op string) func() {
	if m == nil {
		return func() {}
	}
	attrs := metric.WithAttributes(attribute.String("operation", op))
	m.InFlight.Add(ctx, 1, attrs)
	return func() { m.InFlight.Add(ctx, -1, attrs) }
}

// RecordCompensation counts a rollback of backend state.
func (m *Metrics) RecordCompensation(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.Compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// RecordPortAllocated counts a reserved host port.
func (m *Metrics) RecordPortAllocated(ctx context.Context) {
	if m == nil {
		return
	}
	m.PortsAllocated.Add(ctx, 1)
}

// ObserveCacheHitRatio reports ratio() as the tenant cache hit ratio gauge on
// every collection.
func (m *Metrics) ObserveCacheHitRatio(ratio func() float64) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Float64ObservableGauge("tenantforge.cache.hit_ratio",
		metric.WithDescription("Tenant read cache hit ratio"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(ratio())
			return nil
		}))
	return err
}
