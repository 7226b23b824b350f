package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/repositories"
)

func TestCatalogListProductsSanitisesDescriptions(t *testing.T) {
	repo := &stubCatalogRepository{
		listFunc: func(_ context.Context, filter repositories.ProductFilter) (domain.CursorPage[domain.Product], error) {
			if !filter.OnlyAvailable {
				t.Fatalf("expected availability filter forwarded")
			}
			return domain.CursorPage[domain.Product]{
				Items: []domain.Product{
					{
						ID:          "prod-a",
						Name:        "  Poster A ",
						Description: `<p>Great poster</p><script>alert("x")</script>`,
						Available:   true,
					},
				},
			}, nil
		},
	}
	service, err := NewCatalogService(CatalogServiceDeps{Catalog: repo})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	page, err := service.ListProducts(context.Background(), ProductListQuery{OnlyAvailable: true})
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 product, got %d", len(page.Items))
	}
	product := page.Items[0]
	if product.Name != "Poster A" {
		t.Fatalf("expected trimmed name, got %q", product.Name)
	}
	if strings.Contains(product.Description, "script") {
		t.Fatalf("expected script tags stripped, got %q", product.Description)
	}
	if !strings.Contains(product.Description, "Great poster") {
		t.Fatalf("expected content preserved, got %q", product.Description)
	}
}

func TestCatalogGetProduct(t *testing.T) {
	service, err := NewCatalogService(CatalogServiceDeps{Catalog: catalogFromMap(testProducts())})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	product, err := service.GetProduct(context.Background(), "prod-a")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Name != "Poster A" {
		t.Fatalf("unexpected product %+v", product)
	}

	if _, err := service.GetProduct(context.Background(), "prod-zzz"); !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected ErrCatalogProductNotFound, got %v", err)
	}
	if _, err := service.GetProduct(context.Background(), "  "); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected ErrCatalogInvalidInput, got %v", err)
	}
}
