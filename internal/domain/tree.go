package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisplayMode selects which bound the UI foregrounds; both bounds are
// always computed.
type DisplayMode string

const (
	DisplayMinimum DisplayMode = "minimum"
	DisplayMaximum DisplayMode = "maximum"
)

// DecisionTree is a versioned, lockable tree of condition nodes attached
// one-to-one to a tariff. Once locked it is immutable: the first real use
// of a tree to price a fee locks it, and further edits require duplication
// into a new version.
type DecisionTree struct {
	ID          string      `json:"id"`
	OrgID       string      `json:"orgId,omitempty"`
	TariffID    string      `json:"tariffId"`
	TreeVersion int         `json:"treeVersion"`
	DisplayMode DisplayMode `json:"displayMode"`
	Locked      bool        `json:"locked"`
	LockedAt    *time.Time  `json:"lockedAt,omitempty"`
	Nodes       []TreeNode  `json:"nodes"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// TreeNode groups alternative branches; at evaluation time at most one
// branch per node matches the supplied context.
type TreeNode struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Branches []Branch `json:"branches"`
}

// Branch is one alternative within a node. Condition is a CEL expression
// over the evaluation activation; the vocabulary is configuration data,
// not code. Children refine a matched branch with sub-conditions.
type Branch struct {
	ID        string      `json:"id"`
	Label     string      `json:"label"`
	Condition string      `json:"condition,omitempty"`
	Reduction *AmountRule `json:"reduction,omitempty"`
	Children  []Branch    `json:"children,omitempty"`
}

// Bounds is the price range a tariff can produce before a person is known.
type Bounds struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// Lock marks the tree locked at the given time. Idempotent: locking an
// already locked tree keeps the original LockedAt. The repository performs
// the durable transition with a conditional write; this mirrors it on the
// in-memory copy.
func (t *DecisionTree) Lock(at time.Time) {
	if t.Locked {
		return
	}
	t.Locked = true
	t.LockedAt = &at
}

// Duplicate returns an unlocked deep copy with TreeVersion+1. The source
// tree is untouched; this is the only sanctioned way to evolve a locked
// tree.
func (t *DecisionTree) Duplicate() *DecisionTree {
	dup := &DecisionTree{
		ID:          "",
		OrgID:       t.OrgID,
		TariffID:    t.TariffID,
		TreeVersion: t.TreeVersion + 1,
		DisplayMode: t.DisplayMode,
		Locked:      false,
		Nodes:       make([]TreeNode, len(t.Nodes)),
	}
	for i, n := range t.Nodes {
		dup.Nodes[i] = TreeNode{
			ID:       n.ID,
			Label:    n.Label,
			Branches: copyBranches(n.Branches),
		}
	}
	return dup
}

func copyBranches(branches []Branch) []Branch {
	if branches == nil {
		return nil
	}
	out := make([]Branch, len(branches))
	for i, b := range branches {
		out[i] = Branch{
			ID:        b.ID,
			Label:     b.Label,
			Condition: b.Condition,
			Children:  copyBranches(b.Children),
		}
		if b.Reduction != nil {
			r := *b.Reduction
			out[i].Reduction = &r
		}
	}
	return out
}

// ComputeBounds traverses every node without an evaluation context and
// returns the price range the tree can produce for the given base amount.
// Each node contributes its maximum possible reduction (steepest branch,
// children included); node maxima are summed, assuming worst case that all
// nodes stack. A tree with zero nodes yields {base, base}.
func (t *DecisionTree) ComputeBounds(base decimal.Decimal) Bounds {
	total := decimal.Zero
	for _, node := range t.Nodes {
		nodeMax := decimal.Zero
		for _, b := range node.Branches {
			if m := maxBranchReduction(b, base); m.GreaterThan(nodeMax) {
				nodeMax = m
			}
		}
		total = total.Add(nodeMax)
	}

	min := base.Sub(total)
	if min.IsNegative() {
		min = decimal.Zero
	}
	return Bounds{Min: min, Max: base}
}

// maxBranchReduction is the branch's own reduction plus the sum of its
// children's maxima.
func maxBranchReduction(b Branch, base decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	if b.Reduction != nil {
		total = b.Reduction.Apply(base)
	}
	for _, child := range b.Children {
		total = total.Add(maxBranchReduction(child, base))
	}
	return total
}
