// Package engine implements the reduction engine: it orchestrates bracket
// pricing, decision tree evaluation and reduction rule application into
// one itemized fee computation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openmembership/bareme/internal/bracket"
	"github.com/openmembership/bareme/internal/domain"
	"github.com/openmembership/bareme/internal/rules"
	"github.com/openmembership/bareme/internal/tree"
)

// EngineVersion is stamped into computation metadata.
const EngineVersion = "bareme-1.0"

// Engine computes fees. It is a pure computation over configuration
// loaded into the rule registry and tree engine; it never mutates shared
// configuration, so independent computations may run concurrently.
type Engine struct {
	repo  domain.Repository
	rules *rules.Registry
	trees *tree.Engine
}

// New creates a reduction engine.
func New(repo domain.Repository, ruleRegistry *rules.Registry, treeEngine *tree.Engine) *Engine {
	return &Engine{
		repo:  repo,
		rules: ruleRegistry,
		trees: treeEngine,
	}
}

// ComputeInput identifies the fee to price and the person it is for.
type ComputeInput struct {
	OrgID     string
	TariffID  string
	FeeTypeID string
	Profile   *domain.PersonProfile
	Context   *domain.ComputeContext
	TraceID   string
	StartTime time.Time
}

// ComputeFee prices one fee: base amount resolution, bracket pricing,
// decision tree reductions, then reduction rules, in that fixed order.
// The result lists every applied reduction as a ledger record; the caller
// persists records and locks the tree on first real use.
func (e *Engine) ComputeFee(ctx context.Context, in *ComputeInput) (*domain.FeeComputation, error) {
	if in.StartTime.IsZero() {
		in.StartTime = time.Now()
	}
	if in.Profile == nil {
		return nil, fmt.Errorf("%w: profile is required", domain.ErrInvalidInput)
	}
	cctx := in.Context
	if cctx == nil {
		cctx = &domain.ComputeContext{}
	}
	// Pin the reference date so loyalty and age see the same instant.
	if cctx.ReferenceDate.IsZero() {
		cctx = cloneContext(cctx)
		cctx.ReferenceDate = time.Now().UTC()
	}

	comp := &domain.FeeComputation{
		ID:          uuid.New().String(),
		OrgID:       in.OrgID,
		TariffID:    in.TariffID,
		FeeTypeID:   in.FeeTypeID,
		PersonID:    in.Profile.PersonID,
		StructureID: cctx.StructureID,
		Timestamp:   time.Now().UTC(),
	}

	// 1. Base amount. A missing pairing is a fatal configuration error:
	// retrying without fixing configuration reproduces it.
	base, err := e.resolveBase(ctx, in)
	if err != nil {
		return nil, err
	}
	comp.BaseAmount = base

	// 2. Bracket pricing produces the starting running amount.
	bracketStart := time.Now()
	running, resolved, err := e.applyBracket(ctx, in, cctx, base)
	if err != nil {
		return nil, err
	}
	comp.Metadata.BracketMs = time.Since(bracketStart).Milliseconds()

	snapshot := contextSnapshot(in.Profile, cctx, resolved)
	order := 0

	// 3. Decision tree reductions, in node order.
	treeStart := time.Now()
	matches, treeWarnings, hasTree := e.trees.Evaluate(in.OrgID, in.TariffID, tree.Activation{
		Profile:   in.Profile,
		Context:   cctx,
		FeeTypeID: in.FeeTypeID,
	})
	comp.Warnings = append(comp.Warnings, treeWarnings...)
	if hasTree {
		if t := e.trees.Get(in.OrgID, in.TariffID); t != nil {
			comp.Metadata.TreeVersion = t.TreeVersion
		}
		for _, m := range matches {
			order++
			running = applyReduction(comp, running, domain.ApplicationRecord{
				SourceType:   domain.SourceDecisionTree,
				Label:        m.Label,
				Rule:         m.Rule,
				AppliedOrder: order,
				Context:      snapshot,
			}, m.Rule.Apply(running))
		}
	}
	comp.Metadata.TreeMs = time.Since(treeStart).Milliseconds()

	// 4. Reduction rules in (applicationOrder, id) order.
	rulesStart := time.Now()
	candidates := e.rules.Snapshot(in.OrgID)
	sel := rules.FindApplicable(candidates, rules.MatchInput{
		Profile:         in.Profile,
		Context:         cctx,
		ResolvedBracket: resolved,
	})
	comp.Warnings = append(comp.Warnings, sel.Warnings...)
	comp.Metadata.RulesEvaluated = len(candidates)

	nonCumulableApplied := false
	for _, rule := range sel.Rules {
		if !rule.Cumulable && nonCumulableApplied {
			// First-applied-wins among mutually exclusive reductions.
			continue
		}

		amountBase := running
		if rule.BaseOriginal {
			amountBase = base
		}
		reduction := rule.Rule.Apply(amountBase)

		order++
		running = applyReduction(comp, running, domain.ApplicationRecord{
			SourceType:   rule.SourceType,
			Label:        rule.Label,
			Rule:         rule.Rule,
			AppliedOrder: order,
			Context:      snapshot,
		}, reduction)

		if !rule.Cumulable {
			nonCumulableApplied = true
		}
	}
	comp.Metadata.RulesMs = time.Since(rulesStart).Milliseconds()
	for _, rec := range comp.Applied {
		// Tree-sourced ledger records are not rule applications.
		if rec.SourceType != domain.SourceDecisionTree {
			comp.Metadata.RulesApplied++
		}
	}

	// 5. Final amount is never negative.
	if running.IsNegative() {
		running = decimal.Zero
	}
	comp.FinalAmount = running

	comp.Metadata.TraceID = in.TraceID
	comp.Metadata.TotalMs = time.Since(in.StartTime).Milliseconds()
	comp.Metadata.EngineVersion = EngineVersion

	return comp, nil
}

// applyReduction caps a reduction at the running amount, appends the
// ledger record and returns the decremented running amount. The running
// total is floored at zero per step, never negative.
func applyReduction(comp *domain.FeeComputation, running decimal.Decimal, rec domain.ApplicationRecord, reduction decimal.Decimal) decimal.Decimal {
	if reduction.GreaterThan(running) {
		reduction = running
	}
	rec.BaseAmount = running
	rec.Reduction = reduction
	comp.Applied = append(comp.Applied, rec)
	return running.Sub(reduction)
}

func (e *Engine) resolveBase(ctx context.Context, in *ComputeInput) (decimal.Decimal, error) {
	amount, err := e.repo.GetTariffAmount(ctx, in.OrgID, in.TariffID, in.FeeTypeID)
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: no base amount for tariff %s fee type %s", domain.ErrConfiguration, in.TariffID, in.FeeTypeID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to resolve base amount: %w", err)
	}
	return amount.BaseAmount, nil
}

// applyBracket resolves the applicable bracket table for the caller's
// scope and prices the fee type through it. No table, or no known income,
// leaves the base amount untouched.
func (e *Engine) applyBracket(ctx context.Context, in *ComputeInput, cctx *domain.ComputeContext, base decimal.Decimal) (decimal.Decimal, *domain.Bracket, error) {
	income, hasIncome := cctx.EffectiveIncome(in.Profile)
	if !hasIncome {
		return base, nil, nil
	}

	tables, err := e.repo.ListBracketTables(ctx, in.OrgID)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to list bracket tables: %w", err)
	}

	table := bracket.ResolveScope(tables, cctx.StructureID)
	if table == nil {
		return base, nil, nil
	}

	resolved, err := bracket.Resolve(table, income)
	if err != nil {
		return decimal.Zero, nil, err
	}

	return bracket.ApplyFor(table, resolved, in.FeeTypeID, base), resolved, nil
}

// Commit makes a computation durable: it locks the tariff's decision tree
// (the first real use freezes the version that priced the fee) and persists
// the computation with its ledger records. A tariff without a tree commits
// without locking anything.
func (e *Engine) Commit(ctx context.Context, comp *domain.FeeComputation) error {
	at := time.Now().UTC()
	_, err := e.repo.LockDecisionTree(ctx, comp.OrgID, comp.TariffID, at)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to lock decision tree: %w", err)
	}
	if err == nil {
		e.trees.LockLoaded(comp.OrgID, comp.TariffID, at)
	}

	comp.Committed = true
	if err := e.repo.SaveComputation(ctx, comp.OrgID, comp); err != nil {
		comp.Committed = false
		return fmt.Errorf("failed to save computation: %w", err)
	}
	return nil
}

// Bounds estimates the minimum and maximum amount a tariff can produce
// for a fee type before a person is known.
func (e *Engine) Bounds(ctx context.Context, orgID, tariffID, feeTypeID string) (domain.Bounds, error) {
	amount, err := e.repo.GetTariffAmount(ctx, orgID, tariffID, feeTypeID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Bounds{}, fmt.Errorf("%w: no base amount for tariff %s fee type %s", domain.ErrConfiguration, tariffID, feeTypeID)
	}
	if err != nil {
		return domain.Bounds{}, fmt.Errorf("failed to resolve base amount: %w", err)
	}
	return e.trees.Bounds(orgID, tariffID, amount.BaseAmount), nil
}

func contextSnapshot(p *domain.PersonProfile, cctx *domain.ComputeContext, resolved *domain.Bracket) map[string]any {
	snap := map[string]any{
		"municipality":  p.Municipality(),
		"siblingRank":   cctx.EffectiveSiblingRank(p),
		"referenceDate": cctx.EffectiveReferenceDate().Format(time.RFC3339),
	}
	if income, ok := cctx.EffectiveIncome(p); ok {
		snap["incomeIndex"] = income.String()
	}
	if resolved != nil {
		snap["bracketId"] = resolved.ID
	}
	if cctx.StructureID != "" {
		snap["structureId"] = cctx.StructureID
	}
	return snap
}

func cloneContext(c *domain.ComputeContext) *domain.ComputeContext {
	dup := *c
	return &dup
}
