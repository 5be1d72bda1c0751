package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CalculationType determines how an AmountRule derives its amount.
type CalculationType string

const (
	// CalculationFixed yields the rule value as-is.
	CalculationFixed CalculationType = "fixed"

	// CalculationPercentage yields a percentage of the base amount.
	CalculationPercentage CalculationType = "percentage"
)

// AmountRule is the shared value object for every configurable amount:
// bracket amounts, branch reductions and rule reductions all carry one.
type AmountRule struct {
	CalculationType CalculationType `json:"calculationType"`
	Value           decimal.Decimal `json:"value"`
}

// Apply computes the amount this rule yields against a base.
// Fixed rules ignore the base; percentage rules round to 2 decimal places.
func (a AmountRule) Apply(base decimal.Decimal) decimal.Decimal {
	if a.CalculationType == CalculationPercentage {
		return base.Mul(a.Value).Div(decimal.NewFromInt(100)).Round(2)
	}
	return a.Value
}

// Validate checks the rule invariants. Percentage values above 100 are
// accepted: promotional configurations use them intentionally.
func (a AmountRule) Validate() error {
	switch a.CalculationType {
	case CalculationFixed, CalculationPercentage:
	default:
		return fmt.Errorf("%w: unknown calculation type %q", ErrInvalidInput, a.CalculationType)
	}
	if a.Value.IsNegative() {
		return fmt.Errorf("%w: amount rule value must not be negative", ErrInvalidInput)
	}
	return nil
}

// FixedAmount builds a fixed AmountRule from a string value ("15.00").
// Invalid strings yield a zero rule; intended for configuration seeding.
func FixedAmount(value string) AmountRule {
	d, err := decimal.NewFromString(value)
	if err != nil {
		d = decimal.Zero
	}
	return AmountRule{CalculationType: CalculationFixed, Value: d}
}

// PercentAmount builds a percentage AmountRule from a string value ("20").
func PercentAmount(value string) AmountRule {
	d, err := decimal.NewFromString(value)
	if err != nil {
		d = decimal.Zero
	}
	return AmountRule{CalculationType: CalculationPercentage, Value: d}
}
