package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/tenancy"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Discovery metrics
	ResolveTotal         metric.Int64Counter
	ResolvedTenants      metric.Int64Histogram
	DiscoveryErrorsTotal metric.Int64Counter
	BootstrapTotal       metric.Int64Counter

	// Access metrics
	AccessDeniedTotal metric.Int64Counter
	SelfHealTotal     metric.Int64Counter
	SwitchTotal       metric.Int64Counter
	TenantDeleteTotal metric.Int64Counter

	// Migration metrics
	MigrationRunsTotal      metric.Int64Counter
	MigrationRecordsTotal   metric.Int64Counter
	MigrationErrorsTotal    metric.Int64Counter
	MigrationRepairsTotal   metric.Int64Counter
	ConsistencyRetriesTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ResolveTotal, _ = meter.Int64Counter(
		"tenancy.resolve.total",
		metric.WithDescription("Total number of tenant resolutions"),
		metric.WithUnit("{resolve}"),
	)

	m.ResolvedTenants, _ = meter.Int64Histogram(
		"tenancy.resolve.tenants",
		metric.WithDescription("Number of tenants found per resolution"),
		metric.WithUnit("{tenant}"),
	)

	m.DiscoveryErrorsTotal, _ = meter.Int64Counter(
		"tenancy.discovery.errors.total",
		metric.WithDescription("Store errors swallowed during tenant discovery"),
		metric.WithUnit("{error}"),
	)

	m.BootstrapTotal, _ = meter.Int64Counter(
		"tenancy.bootstrap.total",
		metric.WithDescription("Total number of default tenants bootstrapped"),
		metric.WithUnit("{tenant}"),
	)

	m.AccessDeniedTotal, _ = meter.Int64Counter(
		"tenancy.access.denied.total",
		metric.WithDescription("Total number of denied access checks"),
		metric.WithUnit("{check}"),
	)

	m.SelfHealTotal, _ = meter.Int64Counter(
		"tenancy.access.self_heal.total",
		metric.WithDescription("Total number of synthesized owner memberships"),
		metric.WithUnit("{membership}"),
	)

	m.SwitchTotal, _ = meter.Int64Counter(
		"tenancy.switch.total",
		metric.WithDescription("Total number of tenant switches"),
		metric.WithUnit("{switch}"),
	)

	m.TenantDeleteTotal, _ = meter.Int64Counter(
		"tenancy.tenants.deleted.total",
		metric.WithDescription("Total number of tenants deleted"),
		metric.WithUnit("{tenant}"),
	)

	m.MigrationRunsTotal, _ = meter.Int64Counter(
		"tenancy.migration.runs.total",
		metric.WithDescription("Total number of legacy migration runs"),
		metric.WithUnit("{run}"),
	)

	m.MigrationRecordsTotal, _ = meter.Int64Counter(
		"tenancy.migration.records.total",
		metric.WithDescription("Total number of legacy records migrated"),
		metric.WithUnit("{record}"),
	)

	m.MigrationErrorsTotal, _ = meter.Int64Counter(
		"tenancy.migration.errors.total",
		metric.WithDescription("Total number of legacy records that failed to migrate"),
		metric.WithUnit("{record}"),
	)

	m.MigrationRepairsTotal, _ = meter.Int64Counter(
		"tenancy.migration.repairs.total",
		metric.WithDescription("Migration flags cleared because no migrated records were found"),
		metric.WithUnit("{repair}"),
	)

	m.ConsistencyRetriesTotal, _ = meter.Int64Counter(
		"tenancy.consistency.retries.total",
		metric.WithDescription("Read-after-write retries while waiting for a document to become visible"),
		metric.WithUnit("{retry}"),
	)

	return m
}
