package application

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/atvirokodosprendimai/registry/internal/schema"
)

const DefaultSchemaTTL = 10 * time.Minute

// SchemaService projects entity types and caches the raw projections. It never
// applies access control.
type SchemaService struct {
	store schema.Getter
	cache *cache.Cache
}

func NewSchemaService(store schema.Getter, ttl time.Duration) *SchemaService {
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &SchemaService{store: store, cache: cache.New(ttl, 2*ttl)}
}

// RawSchema returns the unpruned projection of typeURN. Short type names are
// expanded first.
func (s *SchemaService) RawSchema(ctx context.Context, typeURN string) (schema.Schema, error) {
	typeURN = schema.ResolveTypeURN(typeURN)
	if cached, ok := s.cache.Get(typeURN); ok {
		return cached.(schema.Schema).Clone(), nil
	}
	projected, err := schema.Resolve(ctx, s.store, typeURN)
	if err != nil {
		return schema.Schema{}, err
	}
	s.cache.Set(typeURN, projected, cache.DefaultExpiration)
	return projected.Clone(), nil
}

func (s *SchemaService) Invalidate(typeURN string) {
	s.cache.Delete(schema.ResolveTypeURN(typeURN))
}

func (s *SchemaService) InvalidateAll() {
	s.cache.Flush()
}
