package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/services"
)

type stubCatalogService struct {
	listFunc func(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[services.Product], error)
	getFunc  func(ctx context.Context, productID string) (services.Product, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[services.Product], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, query)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, productID)
	}
	return services.Product{}, nil
}

func sampleProduct() domain.Product {
	return domain.Product{
		ID:        "prod-a",
		Name:      "Poster A",
		Price:     1000,
		Currency:  "kes",
		ImageURL:  "https://cdn.example/poster-a.png",
		Available: true,
		UpdatedAt: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestProductHandlersListProducts(t *testing.T) {
	router := chi.NewRouter()
	var captured services.ProductListQuery
	service := &stubCatalogService{
		listFunc: func(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[services.Product], error) {
			captured = query
			return domain.CursorPage[services.Product]{
				Items:         []services.Product{sampleProduct()},
				NextPageToken: "prod-a",
			}, nil
		},
	}

	NewProductHandlers(service).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/products?page_size=5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if !captured.OnlyAvailable {
		t.Fatal("expected the listing to request available products only")
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", captured.Pagination.PageSize)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(resp.Items))
	}
	if resp.Items[0].Currency != "KES" {
		t.Fatalf("expected upper-case currency, got %s", resp.Items[0].Currency)
	}
	if resp.NextPageToken != "prod-a" {
		t.Fatalf("expected next page token, got %s", resp.NextPageToken)
	}
}

func TestProductHandlersGetProduct(t *testing.T) {
	router := chi.NewRouter()
	service := &stubCatalogService{
		getFunc: func(ctx context.Context, productID string) (services.Product, error) {
			if productID != "prod-a" {
				t.Fatalf("expected product id prod-a, got %s", productID)
			}
			return sampleProduct(), nil
		},
	}

	NewProductHandlers(service).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/products/prod-a", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp productPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Name != "Poster A" || resp.Price != 1000 {
		t.Fatalf("unexpected product payload %#v", resp)
	}
}

func TestProductHandlersGetProductNotFound(t *testing.T) {
	router := chi.NewRouter()
	service := &stubCatalogService{
		getFunc: func(context.Context, string) (services.Product, error) {
			return services.Product{}, services.ErrCatalogProductNotFound
		},
	}

	NewProductHandlers(service).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/products/prod-missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
