package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BracketTable is a named, optionally structure-scoped income bracket
// configuration. At most one table may be the default for a given scope.
// Tables are edited by administrators and read-only at computation time.
type BracketTable struct {
	ID          string `json:"id"`
	OrgID       string `json:"orgId,omitempty"`
	StructureID string `json:"structureId,omitempty"` // empty = organization-wide
	Name        string `json:"name"`
	Default     bool   `json:"default"`

	// Brackets must be ordered by LowerBound and must not overlap.
	Brackets []Bracket `json:"brackets"`

	// Overrides maps a fee type id to an AmountRule applied instead of the
	// resolved bracket's own rule when pricing that fee type.
	Overrides map[string]AmountRule `json:"overrides,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Bracket is a contiguous income range with an associated amount rule.
// LowerBound is inclusive, UpperBound exclusive; nil UpperBound = +inf.
type Bracket struct {
	ID         string           `json:"id"`
	Label      string           `json:"label"`
	LowerBound decimal.Decimal  `json:"lowerBound"`
	UpperBound *decimal.Decimal `json:"upperBound,omitempty"`
	Rule       AmountRule       `json:"rule"`
}

// Contains reports whether an income index falls in this bracket.
func (b Bracket) Contains(value decimal.Decimal) bool {
	if value.LessThan(b.LowerBound) {
		return false
	}
	if b.UpperBound == nil {
		return true
	}
	return value.LessThan(*b.UpperBound)
}
