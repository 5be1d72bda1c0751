package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceType identifies what a reduction rule matches on.
type SourceType string

const (
	SourceCommune       SourceType = "commune"
	SourceIncomeBracket SourceType = "income_bracket"
	SourceSocialStatus  SourceType = "social_status"
	SourceSiblingRank   SourceType = "sibling_rank"
	SourceLoyalty       SourceType = "loyalty"
	SourcePartnership   SourceType = "partnership"
	SourceDisability    SourceType = "disability"
	SourceAge           SourceType = "age"

	// SourceManual rules never auto-match; an operator applies them
	// explicitly.
	SourceManual SourceType = "manual"

	// SourceDecisionTree marks ledger records produced by a matched
	// decision tree branch rather than a standalone rule.
	SourceDecisionTree SourceType = "decision_tree"
)

// Valid reports whether s is a source type a rule may be configured with.
// SourceDecisionTree is excluded: it only appears on ledger records.
func (s SourceType) Valid() bool {
	switch s {
	case SourceCommune, SourceIncomeBracket, SourceSocialStatus,
		SourceSiblingRank, SourceLoyalty, SourcePartnership,
		SourceDisability, SourceAge, SourceManual:
		return true
	}
	return false
}

// AgeComparator is the comparison operator for age rules.
type AgeComparator string

const (
	AgeLess      AgeComparator = "<"
	AgeLessEq    AgeComparator = "<="
	AgeGreater   AgeComparator = ">"
	AgeGreaterEq AgeComparator = ">="
	AgeEqual     AgeComparator = "="
)

// ReductionRule is an independently configured, toggleable reduction.
type ReductionRule struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"orgId,omitempty"`
	Code        string     `json:"code"`
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Version     string     `json:"version"`
	SourceType  SourceType `json:"sourceType"`

	// Rule is the reduction amount applied when the rule matches.
	Rule AmountRule `json:"rule"`

	// Conditions holds the match data; which fields are meaningful depends
	// on SourceType.
	Conditions RuleConditions `json:"conditions"`

	// ApplicationOrder defines the total application order at evaluation
	// time; ties break on rule id for determinism.
	ApplicationOrder int `json:"applicationOrder"`

	// Cumulable rules stack with other reductions. Among non-cumulable
	// rules the first applied wins.
	Cumulable bool `json:"cumulable"`

	// BaseOriginal makes a percentage rule compute against the original
	// base amount instead of the running amount.
	BaseOriginal bool `json:"baseOriginal,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RuleConditions carries the per-source-type match data.
type RuleConditions struct {
	// commune
	Municipalities []string `json:"municipalities,omitempty"`

	// income_bracket: either explicit bracket ids or a numeric range over
	// the raw income index. The two styles are never combined.
	BracketIDs []string         `json:"bracketIds,omitempty"`
	IncomeMin  *decimal.Decimal `json:"incomeMin,omitempty"`
	IncomeMax  *decimal.Decimal `json:"incomeMax,omitempty"`

	// social_status / partnership
	StatusTags      []string `json:"statusTags,omitempty"`
	PartnershipTags []string `json:"partnershipTags,omitempty"`

	// sibling_rank
	MinRank *int `json:"minRank,omitempty"`

	// loyalty
	MinYears *int `json:"minYears,omitempty"`

	// age
	AgeThreshold *int          `json:"ageThreshold,omitempty"`
	Comparator   AgeComparator `json:"comparator,omitempty"`
}

// Default thresholds used when a rule omits its condition value.
const (
	DefaultSiblingMinRank = 3
	DefaultLoyaltyYears   = 5
)
