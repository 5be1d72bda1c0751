package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PersonProfile is the read-only projection of a person that the engine
// consumes. It is produced by profile storage; nothing here is mutated.
type PersonProfile struct {
	PersonID string `json:"personId,omitempty"`

	// ResidenceMunicipality is the person's home municipality id.
	// BillingMunicipality, when set, takes precedence for commune rules.
	ResidenceMunicipality string `json:"residenceMunicipality,omitempty"`
	BillingMunicipality   string `json:"billingMunicipality,omitempty"`

	// IncomeIndex is the household quotient used for bracket resolution.
	IncomeIndex *decimal.Decimal `json:"incomeIndex,omitempty"`

	StatusTags      []string `json:"statusTags,omitempty"`
	PartnershipTags []string `json:"partnershipTags,omitempty"`
	Disability      bool     `json:"disability,omitempty"`

	BirthDate           *time.Time `json:"birthDate,omitempty"`
	FirstMembershipDate *time.Time `json:"firstMembershipDate,omitempty"`

	// SiblingRank is computed externally from household composition.
	SiblingRank int `json:"siblingRank,omitempty"`
}

// Municipality returns the effective municipality for commune matching.
func (p *PersonProfile) Municipality() string {
	if p.BillingMunicipality != "" {
		return p.BillingMunicipality
	}
	return p.ResidenceMunicipality
}

// ComputeContext carries per-computation data supplied by the caller
// alongside the profile.
type ComputeContext struct {
	// StructureID scopes bracket-table resolution (structure-specific
	// table wins over organization-wide wins over global default).
	StructureID string `json:"structureId,omitempty"`

	// IncomeIndex overrides the profile's income index for this
	// computation.
	IncomeIndex *decimal.Decimal `json:"incomeIndex,omitempty"`

	// SiblingRank overrides the profile's sibling rank.
	SiblingRank *int `json:"siblingRank,omitempty"`

	// ReferenceDate anchors age and loyalty calculations; zero means now.
	// Overridable for backdated computations.
	ReferenceDate time.Time `json:"referenceDate,omitempty"`

	// Extra is exposed to decision-tree branch conditions.
	Extra map[string]any `json:"extra,omitempty"`
}

// EffectiveIncome returns the context income index, falling back to the
// profile. The second return reports whether any income is known.
func (c *ComputeContext) EffectiveIncome(p *PersonProfile) (decimal.Decimal, bool) {
	if c != nil && c.IncomeIndex != nil {
		return *c.IncomeIndex, true
	}
	if p != nil && p.IncomeIndex != nil {
		return *p.IncomeIndex, true
	}
	return decimal.Zero, false
}

// EffectiveSiblingRank returns the context sibling rank, falling back to
// the profile.
func (c *ComputeContext) EffectiveSiblingRank(p *PersonProfile) int {
	if c != nil && c.SiblingRank != nil {
		return *c.SiblingRank
	}
	if p != nil {
		return p.SiblingRank
	}
	return 0
}

// EffectiveReferenceDate returns the reference date, defaulting to now.
func (c *ComputeContext) EffectiveReferenceDate() time.Time {
	if c != nil && !c.ReferenceDate.IsZero() {
		return c.ReferenceDate
	}
	return time.Now().UTC()
}

// AgeAt computes the person's age in whole years at the reference date,
// adjusted for month and day. Returns false when the birth date is unknown.
func (p *PersonProfile) AgeAt(ref time.Time) (int, bool) {
	if p.BirthDate == nil {
		return 0, false
	}
	b := *p.BirthDate
	age := ref.Year() - b.Year()
	if ref.Month() < b.Month() || (ref.Month() == b.Month() && ref.Day() < b.Day()) {
		age--
	}
	return age, true
}
