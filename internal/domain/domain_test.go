package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAmountRule(t *testing.T) {
	t.Run("FixedIgnoresBase", func(t *testing.T) {
		rule := FixedAmount("15.00")

		got := rule.Apply(d("360.00"))
		if !got.Equal(d("15.00")) {
			t.Errorf("expected 15.00, got %s", got)
		}

		got = rule.Apply(decimal.Zero)
		if !got.Equal(d("15.00")) {
			t.Errorf("fixed amount must not depend on base, got %s", got)
		}
	})

	t.Run("PercentageOfBase", func(t *testing.T) {
		rule := PercentAmount("20")

		got := rule.Apply(d("360.00"))
		if !got.Equal(d("72.00")) {
			t.Errorf("expected 72.00, got %s", got)
		}
	})

	t.Run("PercentageRoundsToCents", func(t *testing.T) {
		rule := PercentAmount("33")

		// 100.00 * 33% = 33.00; 99.99 * 33% = 32.9967 -> 33.00
		got := rule.Apply(d("99.99"))
		if !got.Equal(d("33.00")) {
			t.Errorf("expected 33.00, got %s", got)
		}

		// 10.01 * 33% = 3.3033 -> 3.30
		got = rule.Apply(d("10.01"))
		if !got.Equal(d("3.30")) {
			t.Errorf("expected 3.30, got %s", got)
		}
	})

	t.Run("PercentageAboveHundredAllowed", func(t *testing.T) {
		rule := PercentAmount("150")
		if err := rule.Validate(); err != nil {
			t.Errorf("percentage above 100 must validate, got %v", err)
		}
		got := rule.Apply(d("100.00"))
		if !got.Equal(d("150.00")) {
			t.Errorf("expected 150.00, got %s", got)
		}
	})

	t.Run("ValidateRejectsUnknownType", func(t *testing.T) {
		rule := AmountRule{CalculationType: "ratio", Value: decimal.NewFromInt(1)}
		if err := rule.Validate(); err == nil {
			t.Error("expected error for unknown calculation type")
		}
	})

	t.Run("ValidateRejectsNegativeValue", func(t *testing.T) {
		rule := AmountRule{CalculationType: CalculationFixed, Value: decimal.NewFromInt(-5)}
		if err := rule.Validate(); err == nil {
			t.Error("expected error for negative value")
		}
	})

	t.Run("InvalidStringYieldsZero", func(t *testing.T) {
		rule := FixedAmount("not-a-number")
		if !rule.Value.IsZero() {
			t.Errorf("expected zero value, got %s", rule.Value)
		}
	})
}

func TestSourceTypeValid(t *testing.T) {
	valid := []SourceType{
		SourceCommune, SourceIncomeBracket, SourceSocialStatus,
		SourceSiblingRank, SourceLoyalty, SourcePartnership,
		SourceDisability, SourceAge, SourceManual,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	// decision_tree only appears on ledger records, never on configured rules
	if SourceDecisionTree.Valid() {
		t.Error("decision_tree must not be a configurable source type")
	}
	if SourceType("horoscope").Valid() {
		t.Error("unknown source type must be invalid")
	}
}

func TestBracketContains(t *testing.T) {
	upper := d("400")
	b := Bracket{LowerBound: d("100"), UpperBound: &upper}

	t.Run("LowerBoundInclusive", func(t *testing.T) {
		if !b.Contains(d("100")) {
			t.Error("lower bound must be inclusive")
		}
	})

	t.Run("UpperBoundExclusive", func(t *testing.T) {
		if b.Contains(d("400")) {
			t.Error("upper bound must be exclusive")
		}
		if !b.Contains(d("399.99")) {
			t.Error("expected 399.99 inside bracket")
		}
	})

	t.Run("BelowLowerBound", func(t *testing.T) {
		if b.Contains(d("99.99")) {
			t.Error("expected 99.99 outside bracket")
		}
	})

	t.Run("OpenEndedUpperBound", func(t *testing.T) {
		open := Bracket{LowerBound: d("400")}
		if !open.Contains(d("100000")) {
			t.Error("nil upper bound must accept any value above lower")
		}
		if open.Contains(d("399")) {
			t.Error("expected 399 below open-ended bracket")
		}
	})
}

func TestDecisionTreeLock(t *testing.T) {
	tree := &DecisionTree{TariffID: "tariff-a", TreeVersion: 1}

	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tree.Lock(first)

	if !tree.Locked {
		t.Fatal("expected tree locked")
	}
	if tree.LockedAt == nil || !tree.LockedAt.Equal(first) {
		t.Fatalf("expected lockedAt %v, got %v", first, tree.LockedAt)
	}

	// Locking again keeps the original timestamp
	tree.Lock(first.Add(time.Hour))
	if !tree.LockedAt.Equal(first) {
		t.Errorf("second lock must not move lockedAt, got %v", tree.LockedAt)
	}
}

func TestDecisionTreeDuplicate(t *testing.T) {
	reduction := PercentAmount("50")
	src := &DecisionTree{
		ID:          "tree-1",
		OrgID:       "org-001",
		TariffID:    "tariff-a",
		TreeVersion: 3,
		Locked:      true,
		Nodes: []TreeNode{
			{
				ID: "n1",
				Branches: []Branch{
					{
						ID:        "b1",
						Condition: `municipality == "nantes"`,
						Reduction: &reduction,
						Children: []Branch{
							{ID: "b1a", Reduction: &reduction},
						},
					},
				},
			},
		},
	}
	now := time.Now()
	src.LockedAt = &now

	dup := src.Duplicate()

	if dup.TreeVersion != 4 {
		t.Errorf("expected version 4, got %d", dup.TreeVersion)
	}
	if dup.Locked || dup.LockedAt != nil {
		t.Error("duplicate must be unlocked")
	}
	if dup.ID != "" {
		t.Error("duplicate must not reuse the source id")
	}
	if len(dup.Nodes) != 1 || len(dup.Nodes[0].Branches) != 1 {
		t.Fatal("expected node structure preserved")
	}
	if len(dup.Nodes[0].Branches[0].Children) != 1 {
		t.Fatal("expected children preserved")
	}

	// Deep copy: mutating the duplicate must not touch the source
	dup.Nodes[0].Branches[0].Reduction.Value = decimal.NewFromInt(99)
	if !src.Nodes[0].Branches[0].Reduction.Value.Equal(d("50")) {
		t.Error("duplicate shares reduction with source")
	}
}

func TestComputeBounds(t *testing.T) {
	base := d("360.00")

	t.Run("EmptyTree", func(t *testing.T) {
		tree := &DecisionTree{}
		bounds := tree.ComputeBounds(base)
		if !bounds.Min.Equal(base) || !bounds.Max.Equal(base) {
			t.Errorf("expected [%s, %s], got [%s, %s]", base, base, bounds.Min, bounds.Max)
		}
	})

	t.Run("SteepestBranchPerNode", func(t *testing.T) {
		small := PercentAmount("10")
		big := PercentAmount("50")
		tree := &DecisionTree{
			Nodes: []TreeNode{
				{
					ID: "n1",
					Branches: []Branch{
						{ID: "a", Reduction: &small},
						{ID: "b", Reduction: &big},
					},
				},
			},
		}

		bounds := tree.ComputeBounds(base)
		if !bounds.Min.Equal(d("180.00")) {
			t.Errorf("expected min 180.00 (steepest branch), got %s", bounds.Min)
		}
		if !bounds.Max.Equal(base) {
			t.Errorf("expected max %s, got %s", base, bounds.Max)
		}
	})

	t.Run("NodesStack", func(t *testing.T) {
		half := PercentAmount("50")
		fixed := FixedAmount("30.00")
		tree := &DecisionTree{
			Nodes: []TreeNode{
				{ID: "n1", Branches: []Branch{{ID: "a", Reduction: &half}}},
				{ID: "n2", Branches: []Branch{{ID: "b", Reduction: &fixed}}},
			},
		}

		// 360.00 - (180.00 + 30.00) = 150.00
		bounds := tree.ComputeBounds(base)
		if !bounds.Min.Equal(d("150.00")) {
			t.Errorf("expected min 150.00, got %s", bounds.Min)
		}
	})

	t.Run("ChildrenAddToBranch", func(t *testing.T) {
		half := PercentAmount("50")
		fixed := FixedAmount("30.00")
		tree := &DecisionTree{
			Nodes: []TreeNode{
				{
					ID: "n1",
					Branches: []Branch{
						{
							ID:        "a",
							Reduction: &half,
							Children:  []Branch{{ID: "a1", Reduction: &fixed}},
						},
					},
				},
			},
		}

		bounds := tree.ComputeBounds(base)
		if !bounds.Min.Equal(d("150.00")) {
			t.Errorf("expected min 150.00 (branch plus child), got %s", bounds.Min)
		}
	})

	t.Run("MinFlooredAtZero", func(t *testing.T) {
		huge := FixedAmount("1000.00")
		tree := &DecisionTree{
			Nodes: []TreeNode{
				{ID: "n1", Branches: []Branch{{ID: "a", Reduction: &huge}}},
			},
		}

		bounds := tree.ComputeBounds(base)
		if !bounds.Min.IsZero() {
			t.Errorf("expected min 0, got %s", bounds.Min)
		}
	})
}

func TestFeeComputation(t *testing.T) {
	t.Run("TotalReduction", func(t *testing.T) {
		comp := &FeeComputation{
			Applied: []ApplicationRecord{
				{Reduction: d("72.00")},
				{Reduction: d("15.00")},
			},
		}
		if !comp.TotalReduction().Equal(d("87.00")) {
			t.Errorf("expected 87.00, got %s", comp.TotalReduction())
		}
	})

	t.Run("Zeroed", func(t *testing.T) {
		comp := &FeeComputation{BaseAmount: d("100.00"), FinalAmount: decimal.Zero}
		if !comp.Zeroed() {
			t.Error("expected zeroed computation")
		}

		comp = &FeeComputation{BaseAmount: decimal.Zero, FinalAmount: decimal.Zero}
		if comp.Zeroed() {
			t.Error("zero base must not count as zeroed")
		}

		comp = &FeeComputation{BaseAmount: d("100.00"), FinalAmount: d("10.00")}
		if comp.Zeroed() {
			t.Error("positive final amount must not count as zeroed")
		}
	})
}

func TestNewTariffTypeAmount(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		amount, err := NewTariffTypeAmount("tariff-a", "annual", "360.00")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !amount.BaseAmount.Equal(d("360.00")) {
			t.Errorf("expected 360.00, got %s", amount.BaseAmount)
		}
		if !amount.Active {
			t.Error("new amounts must default to active")
		}
	})

	t.Run("MissingIDs", func(t *testing.T) {
		if _, err := NewTariffTypeAmount("", "annual", "10.00"); err == nil {
			t.Error("expected error for empty tariff id")
		}
		if _, err := NewTariffTypeAmount("tariff-a", "", "10.00"); err == nil {
			t.Error("expected error for empty fee type id")
		}
	})

	t.Run("BadAmount", func(t *testing.T) {
		if _, err := NewTariffTypeAmount("tariff-a", "annual", "ten"); err == nil {
			t.Error("expected error for unparseable amount")
		}
		if _, err := NewTariffTypeAmount("tariff-a", "annual", "-1.00"); err == nil {
			t.Error("expected error for negative amount")
		}
	})
}

func TestProfileMunicipality(t *testing.T) {
	p := &PersonProfile{ResidenceMunicipality: "nantes"}
	if p.Municipality() != "nantes" {
		t.Errorf("expected nantes, got %s", p.Municipality())
	}

	// Billing municipality takes precedence for commune matching
	p.BillingMunicipality = "rennes"
	if p.Municipality() != "rennes" {
		t.Errorf("expected rennes, got %s", p.Municipality())
	}
}
