package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(newResource(serviceName, serviceVersion)),
	)

	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}

// PipelineMetrics holds the counters for webhook admission and fulfillment.
// The zero value is not usable; use NewPipelineMetrics.
type PipelineMetrics struct {
	rejections  otelmetric.Int64Counter
	outcomes    otelmetric.Int64Counter
	rateLimited otelmetric.Int64Counter
}

// NewPipelineMetrics registers the instruments on the global MeterProvider,
// which is a no-op until InitMeterProvider has run.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter("github.com/joao-fontenele/storefront-payments")

	rejections, err := meter.Int64Counter("storefront_webhook_rejections_total",
		otelmetric.WithDescription("Webhook notifications rejected before fulfillment, by reason."))
	if err != nil {
		return nil, err
	}

	outcomes, err := meter.Int64Counter("storefront_fulfillment_outcomes_total",
		otelmetric.WithDescription("Fulfillment results, by outcome."))
	if err != nil {
		return nil, err
	}

	rateLimited, err := meter.Int64Counter("storefront_rate_limited_total",
		otelmetric.WithDescription("Requests refused by the rate limiter, by route."))
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		rejections:  rejections,
		outcomes:    outcomes,
		rateLimited: rateLimited,
	}, nil
}

func (m *PipelineMetrics) RecordRejection(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
}

func (m *PipelineMetrics) RecordOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *PipelineMetrics) RecordRateLimited(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("route", route)))
}
