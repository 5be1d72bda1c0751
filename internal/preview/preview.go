// Package preview serves pricing-preview bounds with caching.
package preview

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmembership/bareme/internal/domain"
	"github.com/openmembership/bareme/internal/engine"
)

// Service answers "what price range can this tariff ever produce" before
// a person is selected. Results are cached briefly; configuration writes
// invalidate them.
type Service struct {
	engine *engine.Engine
	cache  domain.Cache
	ttl    time.Duration
}

// NewService creates a preview service.
func NewService(eng *engine.Engine, cache domain.Cache) *Service {
	return &Service{
		engine: eng,
		cache:  cache,
		ttl:    5 * time.Minute,
	}
}

func boundsKey(tariffID, feeTypeID string) string {
	return fmt.Sprintf("bounds:%s:%s", tariffID, feeTypeID)
}

// Bounds returns the cached bounds for a tariff/fee type, computing and
// caching on miss. Preview calls never lock or persist anything.
func (s *Service) Bounds(ctx context.Context, orgID, tariffID, feeTypeID string) (domain.Bounds, error) {
	key := boundsKey(tariffID, feeTypeID)

	if s.cache != nil {
		if snap, err := s.cache.GetBounds(ctx, orgID, key); err == nil && snap != nil {
			if b, ok := parseSnapshot(snap); ok {
				return b, nil
			}
		}
	}

	bounds, err := s.engine.Bounds(ctx, orgID, tariffID, feeTypeID)
	if err != nil {
		return domain.Bounds{}, err
	}

	if s.cache != nil {
		snap := &domain.BoundsSnapshot{
			TariffID:   tariffID,
			FeeTypeID:  feeTypeID,
			Min:        bounds.Min.String(),
			Max:        bounds.Max.String(),
			ComputedAt: time.Now().UTC().Format(time.RFC3339),
		}
		_ = s.cache.SetBounds(ctx, orgID, key, snap, s.ttl)

		// Preview-request accounting for operator dashboards.
		_, _ = s.cache.IncrementCounter(ctx, orgID, "preview:"+tariffID, time.Hour)
	}

	return bounds, nil
}

// Invalidate drops the cached bounds for a tariff's fee type, called when
// its tree, base amounts or bracket tables change.
func (s *Service) Invalidate(ctx context.Context, orgID, tariffID, feeTypeID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, orgID, boundsKey(tariffID, feeTypeID))
}

func parseSnapshot(snap *domain.BoundsSnapshot) (domain.Bounds, bool) {
	min, err := decimal.NewFromString(snap.Min)
	if err != nil {
		return domain.Bounds{}, false
	}
	max, err := decimal.NewFromString(snap.Max)
	if err != nil {
		return domain.Bounds{}, false
	}
	return domain.Bounds{Min: min, Max: max}, true
}
