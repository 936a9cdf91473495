package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "digest-link-service"

var (
	metricsOnce        sync.Once
	repositoryOps      metric.Int64Counter
	validationOutcomes metric.Int64Counter
	tokensIssued       metric.Int64Counter
	tokensRevoked      metric.Int64Counter
	securityEvents     metric.Int64Counter
)

func initCounters() {
	meter := otel.Meter(meterName)
	repositoryOps, _ = meter.Int64Counter("repository_operations_total",
		metric.WithDescription("Repository operations by entity, operation and outcome"))
	validationOutcomes, _ = meter.Int64Counter("token_validations_total",
		metric.WithDescription("Token validation outcomes by purpose and code"))
	tokensIssued, _ = meter.Int64Counter("tokens_issued_total",
		metric.WithDescription("Tokens issued by purpose"))
	tokensRevoked, _ = meter.Int64Counter("tokens_revoked_total",
		metric.WithDescription("Token records revoked by scope"))
	securityEvents, _ = meter.Int64Counter("security_events_total",
		metric.WithDescription("Security events appended by type"))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	metricsOnce.Do(initCounters)
	if repositoryOps == nil {
		return
	}
	repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordValidationOutcome(ctx context.Context, purpose, code string) {
	metricsOnce.Do(initCounters)
	if validationOutcomes == nil {
		return
	}
	validationOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.String("code", code),
	))
}

func RecordTokenIssued(ctx context.Context, purpose string) {
	metricsOnce.Do(initCounters)
	if tokensIssued == nil {
		return
	}
	tokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("purpose", purpose)))
}

func RecordRevocation(ctx context.Context, scope string, count int64) {
	metricsOnce.Do(initCounters)
	if tokensRevoked == nil || count <= 0 {
		return
	}
	tokensRevoked.Add(ctx, count, metric.WithAttributes(attribute.String("scope", scope)))
}

func RecordSecurityEvent(ctx context.Context, eventType string) {
	metricsOnce.Do(initCounters)
	if securityEvents == nil {
		return
	}
	securityEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
