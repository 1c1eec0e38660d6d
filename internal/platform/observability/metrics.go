package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// CheckoutMetrics records register activity as OpenTelemetry instruments. Instruments that fail to
// register are skipped so a misconfigured meter provider never blocks a sale.
type CheckoutMetrics struct {
	recalcs         metric.Int64Counter
	recalcsEnabled  bool
	dropped         metric.Int64Counter
	droppedEnabled  bool
	lookup          metric.Float64Histogram
	lookupEnabled   bool
	tenders         metric.Float64Counter
	tendersEnabled  bool
	variance        metric.Float64Histogram
	varianceEnabled bool
}

// MetricsOption customises CheckoutMetrics construction.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	meter  metric.Meter
	logger *zap.Logger
}

// WithMeter overrides the meter used to register instruments.
func WithMeter(m metric.Meter) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.meter = m
	}
}

// WithMetricsLogger reports instrument registration failures.
func WithMetricsLogger(logger *zap.Logger) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.logger = logger
	}
}

// NewCheckoutMetrics registers the register instruments on the global meter provider unless a meter is supplied.
func NewCheckoutMetrics(opts ...MetricsOption) *CheckoutMetrics {
	cfg := metricsConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	m := &CheckoutMetrics{}
	var err error

	m.recalcs, err = cfg.meter.Int64Counter("register.pricing.recalculations",
		metric.WithDescription("Totals recalculated after a cart mutation"))
	m.recalcsEnabled = m.reportErr(cfg.logger, "register.pricing.recalculations", err)

	m.dropped, err = cfg.meter.Int64Counter("register.promotions.dropped",
		metric.WithDescription("Promotion results discarded because the cart changed"))
	m.droppedEnabled = m.reportErr(cfg.logger, "register.promotions.dropped", err)

	m.lookup, err = cfg.meter.Float64Histogram("register.promotions.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of promotion evaluation calls"))
	m.lookupEnabled = m.reportErr(cfg.logger, "register.promotions.latency", err)

	m.tenders, err = cfg.meter.Float64Counter("register.tender.amount",
		metric.WithDescription("Amount tendered per completed sale"))
	m.tendersEnabled = m.reportErr(cfg.logger, "register.tender.amount", err)

	m.variance, err = cfg.meter.Float64Histogram("register.shift.variance",
		metric.WithDescription("Counted minus expected cash at shift close"))
	m.varianceEnabled = m.reportErr(cfg.logger, "register.shift.variance", err)

	return m
}

func (m *CheckoutMetrics) reportErr(logger *zap.Logger, name string, err error) bool {
	if err != nil {
		logger.Warn("metrics: instrument registration failed", zap.String("instrument", name), zap.Error(err))
		return false
	}
	return true
}

// PricingRecalculated counts a totals recalculation for the station.
func (m *CheckoutMetrics) PricingRecalculated(ctx context.Context, stationID string) {
	if m == nil || !m.recalcsEnabled {
		return
	}
	m.recalcs.Add(ctx, 1, metric.WithAttributes(attribute.String("station", stationID)))
}

// PromotionDropped counts a promotion result that arrived after the cart moved on.
func (m *CheckoutMetrics) PromotionDropped(ctx context.Context, stationID, reason string) {
	if m == nil || !m.droppedEnabled {
		return
	}
	m.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("station", stationID),
		attribute.String("reason", reason),
	))
}

// PromotionLookup records how long promotion evaluation took.
func (m *CheckoutMetrics) PromotionLookup(ctx context.Context, latency time.Duration, ok bool) {
	if m == nil || !m.lookupEnabled {
		return
	}
	m.lookup.Record(ctx, float64(latency)/float64(time.Millisecond), metric.WithAttributes(attribute.Bool("ok", ok)))
}

// TenderCompleted adds the settled amount under the tender method.
func (m *CheckoutMetrics) TenderCompleted(ctx context.Context, method string, amount float64) {
	if m == nil || !m.tendersEnabled {
		return
	}
	m.tenders.Add(ctx, amount, metric.WithAttributes(attribute.String("method", method)))
}

// ShiftClosed records the drawer variance of a closed shift.
func (m *CheckoutMetrics) ShiftClosed(ctx context.Context, stationID string, variance float64) {
	if m == nil || !m.varianceEnabled {
		return
	}
	m.variance.Record(ctx, variance, metric.WithAttributes(attribute.String("station", stationID)))
}
