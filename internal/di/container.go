package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/config"
	"github.com/tillpoint/api/internal/platform/observability"
	"github.com/tillpoint/api/internal/repositories"
	"github.com/tillpoint/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout services.CheckoutService
	Shifts   services.ShiftService
	System   services.SystemService
}

// Infrastructure carries the external adapters built by the entrypoint. Every field is optional:
// without promotions the cart is never discounted by the promotion service, without a card
// authorizer card legs are recorded unauthorized, without an exporter shift reports are skipped.
type Infrastructure struct {
	Promotions services.PromotionEvaluator
	Cards      services.CardAuthorizer
	Publisher  services.TransactionEventPublisher
	Exporter   services.ShiftReportExporter
	Metrics    services.CheckoutMetrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Stations     *services.StationRegistry
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := observability.EventLogger(logger)

	pricing := PricingConfig(cfg.Pricing)
	engine := services.NewPricingEngine(services.PricingEngineDeps{Logger: events})
	now := func() time.Time { return clock().UTC() }
	stations := services.NewStationRegistry(func(stationID string) *services.CheckoutSession {
		return services.NewCheckoutSession(services.CheckoutSessionDeps{
			StationID: stationID,
			Config:    pricing,
			Engine:    engine,
			Now:       now,
		})
	})

	svc, err := buildServices(ctx, cfg, reg, infra, stations, clock, events)
	if err != nil {
		return nil, err
	}

	logger.Info("register services ready",
		zap.String("pricingModel", string(pricing.Model)),
		zap.Bool("dualPricing", pricing.DualPricingActive()),
		zap.Bool("promotions", infra.Promotions != nil),
		zap.Bool("cardAuthorizer", infra.Cards != nil),
		zap.Bool("reportExporter", infra.Exporter != nil),
	)

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Stations:     stations,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure, stations *services.StationRegistry, clock func() time.Time, events func(context.Context, string, map[string]any)) (Services, error) {
	var svc Services

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Pricing:          PricingConfig(cfg.Pricing),
		Stations:         stations,
		Products:         reg.Products(),
		Transactions:     reg.Transactions(),
		Shifts:           reg.Shifts(),
		Held:             reg.HeldTransactions(),
		Promotions:       infra.Promotions,
		Cards:            infra.Cards,
		Publisher:        infra.Publisher,
		Metrics:          infra.Metrics,
		Clock:            clock,
		Logger:           events,
		PromotionTimeout: cfg.Promotions.Timeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	shifts, err := services.NewShiftService(services.ShiftServiceDeps{
		Stations:              stations,
		Shifts:                reg.Shifts(),
		Transactions:          reg.Transactions(),
		Exporter:              infra.Exporter,
		Publisher:             infra.Publisher,
		Metrics:               infra.Metrics,
		VarianceNoteThreshold: cfg.Shift.VarianceNoteThreshold,
		Clock:                 clock,
		Logger:                events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shift service: %w", err)
	}
	svc.Shifts = shifts

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build: services.BuildInfo{
				Version:   cfg.Build.Version,
				CommitSHA: cfg.Build.CommitSHA,
				StartedAt: clock().UTC(),
			},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// PricingConfig converts the loaded pricing section into the engine's configuration.
func PricingConfig(cfg config.PricingConfig) domain.PricingConfig {
	model := domain.PricingModelStandard
	if strings.EqualFold(cfg.Model, string(domain.PricingModelDual)) {
		model = domain.PricingModelDual
	}
	surcharge := domain.SurchargePercentage
	if strings.EqualFold(cfg.SurchargeType, string(domain.SurchargeFlatAmount)) {
		surcharge = domain.SurchargeFlatAmount
	}
	return domain.PricingConfig{
		Model:           model,
		SurchargeType:   surcharge,
		Surcharge:       cfg.Surcharge,
		DefaultTaxRate:  cfg.DefaultTaxRate,
		ShowDualPricing: cfg.ShowDualPricing,
	}
}
