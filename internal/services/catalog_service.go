package services

import (
	"context"
	"errors"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid input parameters.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogProductNotFound indicates the requested product does not exist.
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
	// ErrCatalogUnavailable indicates catalog dependencies are currently unavailable.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
}

type catalogService struct {
	repo     repositories.CatalogRepository
	sanitise *bluemonday.Policy
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	return &catalogService{
		repo: deps.Catalog,
		// Merchant-authored descriptions may carry markup; strip anything
		// beyond user-generated-content basics before serving.
		sanitise: bluemonday.UGCPolicy(),
	}, nil
}

// ListProducts returns the published product listing.
func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[Product]{}, ErrCatalogUnavailable
	}

	page, err := s.repo.ListProducts(ctx, repositories.ProductFilter{
		OnlyAvailable: query.OnlyAvailable,
		Pagination:    query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, ErrCatalogUnavailable
	}

	for i := range page.Items {
		page.Items[i] = s.sanitiseProduct(page.Items[i])
	}
	return page, nil
}

// GetProduct fetches one product by ID.
func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	if s == nil || s.repo == nil {
		return Product{}, ErrCatalogUnavailable
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, ErrCatalogInvalidInput
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Product{}, ErrCatalogProductNotFound
		}
		return Product{}, ErrCatalogUnavailable
	}
	return s.sanitiseProduct(product), nil
}

func (s *catalogService) sanitiseProduct(product Product) Product {
	product.Name = strings.TrimSpace(product.Name)
	product.Description = strings.TrimSpace(s.sanitise.Sanitize(product.Description))
	return product
}
