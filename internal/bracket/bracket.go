// Package bracket resolves income bracket tables and brackets.
package bracket

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/openmembership/bareme/internal/domain"
)

// Resolve picks the unique bracket satisfying lowerBound <= value <
// upperBound. Returns an error when no bracket covers the value.
func Resolve(table *domain.BracketTable, value decimal.Decimal) (*domain.Bracket, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: bracket table is required", domain.ErrInvalidInput)
	}
	for i := range table.Brackets {
		if table.Brackets[i].Contains(value) {
			return &table.Brackets[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no bracket covers income index %s in table %s", domain.ErrConfiguration, value, table.ID)
}

// ResolveScope picks the applicable bracket table from already-loaded
// candidates: a structure-specific table wins over an organization-wide
// one, which wins over the global default. Disabled tables never apply.
// Returns nil when no table applies (bracket pricing is then skipped).
func ResolveScope(candidates []*domain.BracketTable, structureID string) *domain.BracketTable {
	var orgWide, global *domain.BracketTable

	for _, t := range candidates {
		if t == nil || !t.Enabled {
			continue
		}
		switch {
		case structureID != "" && t.StructureID == structureID:
			return t
		case t.StructureID != "" || !t.Default:
		case t.OrgID == "" || t.OrgID == domain.GlobalOrgID:
			global = t
		default:
			orgWide = t
		}
	}

	if orgWide != nil {
		return orgWide
	}
	return global
}

// Validate checks table invariants: brackets ordered by lower bound, no
// overlaps, and every AmountRule well formed.
func Validate(table *domain.BracketTable) error {
	if table.Name == "" {
		return fmt.Errorf("%w: bracket table name is required", domain.ErrInvalidInput)
	}

	brackets := table.Brackets
	if !sort.SliceIsSorted(brackets, func(i, j int) bool {
		return brackets[i].LowerBound.LessThan(brackets[j].LowerBound)
	}) {
		return fmt.Errorf("%w: brackets must be ordered by lower bound", domain.ErrInvalidInput)
	}

	for i, b := range brackets {
		if b.UpperBound != nil && !b.LowerBound.LessThan(*b.UpperBound) {
			return fmt.Errorf("%w: bracket %q has empty range", domain.ErrInvalidInput, b.Label)
		}
		if err := b.Rule.Validate(); err != nil {
			return fmt.Errorf("bracket %q: %w", b.Label, err)
		}
		if i == 0 {
			continue
		}
		prev := brackets[i-1]
		if prev.UpperBound == nil {
			return fmt.Errorf("%w: bracket %q follows an open-ended bracket", domain.ErrInvalidInput, b.Label)
		}
		if b.LowerBound.LessThan(*prev.UpperBound) {
			return fmt.Errorf("%w: brackets %q and %q overlap", domain.ErrInvalidInput, prev.Label, b.Label)
		}
	}

	for feeType, rule := range table.Overrides {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("override for fee type %q: %w", feeType, err)
		}
	}

	return nil
}

// ApplyFor prices a fee type through a resolved bracket: the bracket's own
// rule runs against the base amount, then the table's per-fee-type override
// (when defined) runs against the bracket-resolved amount.
func ApplyFor(table *domain.BracketTable, b *domain.Bracket, feeTypeID string, base decimal.Decimal) decimal.Decimal {
	amount := b.Rule.Apply(base)
	if table != nil {
		if override, ok := table.Overrides[feeTypeID]; ok {
			amount = override.Apply(amount)
		}
	}
	return amount
}
