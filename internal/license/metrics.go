package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the license-specific OpenTelemetry metrics. All record
// helpers are nil-safe so the subsystem works without a metrics
// pipeline attached.
type Metrics struct {
	VerificationAttempts metric.Int64Counter
	VerificationSuccess  metric.Int64Counter
	VerificationFailures metric.Int64Counter
	VerificationDuration metric.Float64Histogram

	OfflineFallbacks    metric.Int64Counter
	CacheHits           metric.Int64Counter
	CacheMisses         metric.Int64Counter
	CandidatePromotions metric.Int64Counter
}

// InitializeMetrics creates the license metrics on the given meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.VerificationAttempts, err = meter.Int64Counter(
		"license_verification_attempts_total",
		metric.WithDescription("Total number of license verification attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification attempts counter: %w", err)
	}

	m.VerificationSuccess, err = meter.Int64Counter(
		"license_verification_success_total",
		metric.WithDescription("Total number of successful license verifications"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification success counter: %w", err)
	}

	m.VerificationFailures, err = meter.Int64Counter(
		"license_verification_failures_total",
		metric.WithDescription("Total number of failed license verifications by error code"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification failures counter: %w", err)
	}

	m.VerificationDuration, err = meter.Float64Histogram(
		"license_verification_duration_seconds",
		metric.WithDescription("License verification round-trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification duration histogram: %w", err)
	}

	m.OfflineFallbacks, err = meter.Int64Counter(
		"license_offline_fallbacks_total",
		metric.WithDescription("Total number of activations accepted from cache in offline mode"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create offline fallbacks counter: %w", err)
	}

	m.CacheHits, err = meter.Int64Counter(
		"license_cache_hits_total",
		metric.WithDescription("Total number of trustworthy cache loads"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.CacheMisses, err = meter.Int64Counter(
		"license_cache_misses_total",
		metric.WithDescription("Total number of cache loads that found no trustworthy entry"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.CandidatePromotions, err = meter.Int64Counter(
		"license_candidate_promotions_total",
		metric.WithDescription("Total number of candidate server promotions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create candidate promotions counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.VerificationAttempts.Add(ctx, 1)
}

func (m *Metrics) recordOutcome(ctx context.Context, start time.Time, code Code, ok bool) {
	if m == nil {
		return
	}
	m.VerificationDuration.Record(ctx, time.Since(start).Seconds())
	if ok {
		m.VerificationSuccess.Add(ctx, 1)
		return
	}
	m.VerificationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error_code", string(code)),
	))
}

func (m *Metrics) recordOfflineFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.OfflineFallbacks.Add(ctx, 1)
}

func (m *Metrics) recordCacheLoad(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Add(ctx, 1)
	} else {
		m.CacheMisses.Add(ctx, 1)
	}
}

func (m *Metrics) recordPromotion(ctx context.Context) {
	if m == nil {
		return
	}
	m.CandidatePromotions.Add(ctx, 1)
}
