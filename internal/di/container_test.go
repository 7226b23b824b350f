package di

import (
	"context"
	"testing"
	"time"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/payments"
	"github.com/conceptdash/api/internal/platform/config"
	"github.com/conceptdash/api/internal/repositories"
	"github.com/conceptdash/api/internal/services"
)

type stubRegistry struct {
	orders  repositories.OrderRepository
	catalog repositories.CatalogRepository
	health  repositories.HealthRepository
	closed  bool
}

func (s *stubRegistry) Close(context.Context) error {
	s.closed = true
	return nil
}

func (s *stubRegistry) Orders() repositories.OrderRepository    { return s.orders }
func (s *stubRegistry) Catalog() repositories.CatalogRepository { return s.catalog }
func (s *stubRegistry) Health() repositories.HealthRepository   { return s.health }

func (s *stubRegistry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type stubOrderRepo struct{}

func (stubOrderRepo) Insert(context.Context, domain.Order) error { return nil }

func (stubOrderRepo) FindByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, nil
}

func (stubOrderRepo) FindByNumber(context.Context, string) (domain.Order, error) {
	return domain.Order{}, nil
}

func (stubOrderRepo) FindByCorrelationHandle(context.Context, string) (domain.Order, error) {
	return domain.Order{}, nil
}

func (stubOrderRepo) ListByUser(context.Context, string, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return domain.CursorPage[domain.Order]{}, nil
}

func (stubOrderRepo) Transition(context.Context, string, repositories.OrderTransition) (domain.Order, error) {
	return domain.Order{}, nil
}

type stubCatalogRepo struct{}

func (stubCatalogRepo) ListProducts(context.Context, repositories.ProductFilter) (domain.CursorPage[domain.Product], error) {
	return domain.CursorPage[domain.Product]{}, nil
}

func (stubCatalogRepo) GetProduct(context.Context, string) (domain.Product, error) {
	return domain.Product{}, nil
}

type stubHealthRepo struct{}

func (stubHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{Status: domain.HealthStatusOK}, nil
}

type stubRail struct{}

func (stubRail) Start(context.Context, payments.StartRequest) (payments.StartResult, error) {
	return payments.StartResult{CorrelationHandle: "ws_CO_1"}, nil
}

func (stubRail) Describe() payments.RailInfo {
	return payments.RailInfo{ID: domain.RailMpesa, DisplayName: "M-Pesa"}
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	registry, err := payments.NewRegistry(map[domain.PaymentRail]payments.Rail{
		domain.RailMpesa: stubRail{},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return Deps{
		Rails: registry,
		Build: services.BuildInfo{Version: "test", Environment: "local", StartedAt: time.Now()},
	}
}

func TestNewContainerWiresServices(t *testing.T) {
	reg := &stubRegistry{
		orders:  stubOrderRepo{},
		catalog: stubCatalogRepo{},
		health:  stubHealthRepo{},
	}

	container, err := NewContainer(context.Background(), config.Config{}, reg, testDeps(t))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	if container.Services.Checkout == nil {
		t.Error("expected checkout service")
	}
	if container.Services.Reconciliation == nil {
		t.Error("expected reconciliation service")
	}
	if container.Services.Orders == nil {
		t.Error("expected order service")
	}
	if container.Services.Catalog == nil {
		t.Error("expected catalog service")
	}
	if container.Services.System == nil {
		t.Error("expected system service")
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !reg.closed {
		t.Error("expected registry to be closed")
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil, testDeps(t)); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestNewContainerPartialRegistry(t *testing.T) {
	reg := &stubRegistry{catalog: stubCatalogRepo{}}

	container, err := NewContainer(context.Background(), config.Config{}, reg, testDeps(t))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	if container.Services.Catalog == nil {
		t.Error("expected catalog service")
	}
	if container.Services.Checkout != nil {
		t.Error("expected no checkout service without an order repository")
	}
	if container.Services.Orders != nil {
		t.Error("expected no order service without an order repository")
	}
}
