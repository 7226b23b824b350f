package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/payments"
	"github.com/conceptdash/api/internal/platform/config"
	"github.com/conceptdash/api/internal/repositories"
	"github.com/conceptdash/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout       services.CheckoutService
	Reconciliation services.ReconciliationService
	Orders         services.OrderService
	Catalog        services.CatalogService
	System         services.SystemService
}

// Deps carries collaborators the container cannot derive from the repository
// registry: payment rails, the event publisher, and build metadata.
type Deps struct {
	Rails  *payments.Registry
	Events services.OrderEventPublisher
	Build  services.BuildInfo
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, nil
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	ordersRepo := reg.Orders()
	catalogRepo := reg.Catalog()

	if catalogRepo != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Catalog: catalogRepo,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	if ordersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders: ordersRepo,
			Events: deps.Events,
			Clock:  clock,
			Logger: deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc

		reconcileSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
			Orders: ordersRepo,
			Rails:  deps.Rails,
			Events: deps.Events,
			Clock:  clock,
			Logger: deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build reconciliation service: %w", err)
		}
		svc.Reconciliation = reconcileSvc
	}

	if ordersRepo != nil && deps.Rails != nil {
		var discount domain.DiscountRule
		if cfg.Features.EnableBulkDiscount {
			discount = domain.DefaultBulkDiscount
		}
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:   ordersRepo,
			Catalog:  catalogRepo,
			Rails:    deps.Rails,
			Events:   deps.Events,
			Discount: discount,
			Currency: cfg.Checkout.Currency,
			Clock:    clock,
			Logger:   deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
