package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TariffTypeAmount associates a base amount with a (tariff, fee type) pair.
// One row per pair. The Active flag soft-disables a row without deleting it
// so historical computations stay explainable.
type TariffTypeAmount struct {
	TariffID   string          `json:"tariffId"`
	FeeTypeID  string          `json:"feeTypeId"`
	OrgID      string          `json:"orgId,omitempty"`
	BaseAmount decimal.Decimal `json:"baseAmount"`
	Active     bool            `json:"active"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// NewTariffTypeAmount builds an active pairing from a decimal string.
// The base amount must parse and must not be negative.
func NewTariffTypeAmount(tariffID, feeTypeID, baseAmount string) (*TariffTypeAmount, error) {
	if tariffID == "" || feeTypeID == "" {
		return nil, fmt.Errorf("%w: tariffID and feeTypeID are required", ErrInvalidInput)
	}
	base, err := decimal.NewFromString(baseAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base amount %q", ErrInvalidInput, baseAmount)
	}
	if base.IsNegative() {
		return nil, fmt.Errorf("%w: base amount must not be negative", ErrInvalidInput)
	}
	return &TariffTypeAmount{
		TariffID:   tariffID,
		FeeTypeID:  feeTypeID,
		BaseAmount: base,
		Active:     true,
	}, nil
}
