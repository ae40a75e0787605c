package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fitpulse/session-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "fitpulse-session-service"

type AppMetrics struct {
	sessionOpCounter       metric.Int64Counter
	providerRefreshCounter metric.Int64Counter
	adminGateCounter       metric.Int64Counter
	cleanupDeletedCounter  metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	sessionOpCounter, err := meter.Int64Counter("session.operations")
	if err != nil {
		return nil, err
	}
	providerRefreshCounter, err := meter.Int64Counter("provider.refresh.attempts")
	if err != nil {
		return nil, err
	}
	adminGateCounter, err := meter.Int64Counter("admin.gate.decisions")
	if err != nil {
		return nil, err
	}
	cleanupDeletedCounter, err := meter.Int64Counter("session.cleanup.deleted")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		sessionOpCounter:       sessionOpCounter,
		providerRefreshCounter: providerRefreshCounter,
		adminGateCounter:       adminGateCounter,
		cleanupDeletedCounter:  cleanupDeletedCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// RecordSessionOperation counts one protocol-level session operation
// (store_refresh, refresh, clear_refresh, revoke_session,
// revoke_user_sessions, cleanup_refresh_tokens) with its outcome.
func RecordSessionOperation(ctx context.Context, op, status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.sessionOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	))
}

func RecordProviderRefresh(ctx context.Context, status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.providerRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAdminGateDecision(ctx context.Context, method string, allowed bool) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.adminGateCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

func RecordCleanupDeleted(ctx context.Context, count int64) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil || count <= 0 {
		return
	}
	m.cleanupDeletedCounter.Add(ctx, count)
}

var (
	repoMetricsOnce sync.Once
	repoCounter     metric.Int64Counter

	rateLimitMetricsOnce sync.Once
	rateLimitCounter     metric.Int64Counter
)

// RecordRepositoryOperation counts a storage-layer operation. The
// counter is created lazily so repositories work before InitMetrics.
func RecordRepositoryOperation(ctx context.Context, entity, op, outcome string) {
	repoMetricsOnce.Do(func() {
		counter, err := otel.Meter(meterName).Int64Counter("repository.operations")
		if err == nil {
			repoCounter = counter
		}
	})
	if repoCounter == nil {
		return
	}
	repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	rateLimitMetricsOnce.Do(func() {
		counter, err := otel.Meter(meterName).Int64Counter("ratelimit.decisions")
		if err == nil {
			rateLimitCounter = counter
		}
	})
	if rateLimitCounter == nil {
		return
	}
	rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}
