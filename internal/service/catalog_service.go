package service

import (
	"context"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"
	"github.com/boddenberg/mining-ledger/internal/port"

	"go.opentelemetry.io/otel"
)

var catalogTracer = otel.Tracer("service/catalog")

const activeProductsKey = "products:active"

// ProductCache is the read-through cache the catalog fills.
type ProductCache interface {
	port.Cache[[]domain.Product]
	GetOrLoad(ctx context.Context, key string, load func(context.Context) ([]domain.Product, error)) ([]domain.Product, error)
}

// CatalogService serves the product catalog.
type CatalogService struct {
	store   port.ProductStore
	cache   ProductCache
	metrics *observability.Metrics
}

// NewCatalogService creates a catalog service.
func NewCatalogService(store port.ProductStore, cache ProductCache, metrics *observability.Metrics) *CatalogService {
	return &CatalogService{store: store, cache: cache, metrics: metrics}
}

// ListActiveProducts returns active products ordered by sort_order.
func (s *CatalogService) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, span := catalogTracer.Start(ctx, "CatalogService.ListActiveProducts")
	defer span.End()

	if products, ok := s.cache.Get(activeProductsKey); ok {
		s.metrics.IncrCacheHit("products")
		return products, nil
	}
	s.metrics.IncrCacheMiss("products")

	return s.cache.GetOrLoad(ctx, activeProductsKey, func(ctx context.Context) ([]domain.Product, error) {
		return s.store.ListProducts(ctx, true)
	})
}

// GetProduct reads a product straight from the store so purchases always
// see the current price and active flag.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := catalogTracer.Start(ctx, "CatalogService.GetProduct")
	defer span.End()

	return s.store.GetProduct(ctx, id)
}

// ProductNames maps product IDs to names across the whole catalog.
func (s *CatalogService) ProductNames(ctx context.Context) (map[string]string, error) {
	products, err := s.store.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	return names, nil
}
