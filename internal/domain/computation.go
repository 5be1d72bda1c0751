package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationRecord is one row of the reduction ledger: the durable proof
// of why a historical amount was what it was, independent of later rule
// edits. Immutable once created; the caller persists records against the
// concrete fee instance.
type ApplicationRecord struct {
	SourceType SourceType `json:"sourceType"`
	Label      string     `json:"label"`

	// Rule is a snapshot of the AmountRule as configured at application
	// time.
	Rule AmountRule `json:"rule"`

	AppliedOrder int             `json:"appliedOrder"`
	BaseAmount   decimal.Decimal `json:"baseAmount"` // running amount when applied
	Reduction    decimal.Decimal `json:"reduction"`  // resulting reduction

	// Context snapshots the data the match was made on.
	Context map[string]any `json:"context,omitempty"`
}

// FeeComputation is the complete result of pricing one fee.
type FeeComputation struct {
	ID          string `json:"id"`
	OrgID       string `json:"orgId"`
	TariffID    string `json:"tariffId"`
	FeeTypeID   string `json:"feeTypeId"`
	PersonID    string `json:"personId,omitempty"`
	StructureID string `json:"structureId,omitempty"`

	BaseAmount  decimal.Decimal `json:"baseAmount"`
	FinalAmount decimal.Decimal `json:"finalAmount"`

	// Applied lists the ledger records in application order.
	Applied []ApplicationRecord `json:"applied"`

	// Warnings carries per-rule skip notices; a bad rule never blocks the
	// computation.
	Warnings []string `json:"warnings,omitempty"`

	Committed bool      `json:"committed"`
	Timestamp time.Time `json:"timestamp"`

	Metadata ComputationMetadata `json:"metadata"`
}

// ComputationMetadata holds processing information.
type ComputationMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	BracketMs      int64  `json:"bracketMs"`
	TreeMs         int64  `json:"treeMs"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	RulesApplied   int    `json:"rulesApplied"`
	TreeVersion    int    `json:"treeVersion,omitempty"`
	EngineVersion  string `json:"engineVersion"`
}

// TotalReduction sums the applied reductions.
func (f *FeeComputation) TotalReduction() decimal.Decimal {
	total := decimal.Zero
	for _, r := range f.Applied {
		total = total.Add(r.Reduction)
	}
	return total
}

// Zeroed reports whether reductions floored the final amount to zero while
// the base was positive.
func (f *FeeComputation) Zeroed() bool {
	return f.FinalAmount.IsZero() && f.BaseAmount.IsPositive()
}
