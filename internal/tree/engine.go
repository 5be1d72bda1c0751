// Package tree provides the CEL-backed decision tree engine.
package tree

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/shopspring/decimal"

	"github.com/openmembership/bareme/internal/domain"
)

// Engine holds compiled decision trees, one per (org, tariff). Branch
// conditions are CEL expressions compiled when a tree is loaded; the
// condition vocabulary lives in configuration, not code.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	trees map[string]*CompiledTree // key: orgID/tariffID
}

// CompiledTree holds a tree with its pre-compiled branch programs.
type CompiledTree struct {
	Tree     *domain.DecisionTree
	programs map[string]cel.Program // key: branch ID
}

// NewEngine creates a decision tree engine.
func NewEngine() (*Engine, error) {
	// The activation exposes the profile and context fields branch
	// conditions may reference.
	env, err := cel.NewEnv(
		cel.Variable("municipality", cel.StringType),
		cel.Variable("income_index", cel.DoubleType),
		cel.Variable("has_income", cel.BoolType),
		cel.Variable("sibling_rank", cel.IntType),
		cel.Variable("age", cel.IntType),
		cel.Variable("has_age", cel.BoolType),
		cel.Variable("disability", cel.BoolType),
		cel.Variable("membership_years", cel.IntType),
		cel.Variable("status_tags", cel.ListType(cel.StringType)),
		cel.Variable("partnership_tags", cel.ListType(cel.StringType)),
		cel.Variable("fee_type", cel.StringType),
		cel.Variable("structure_id", cel.StringType),
		cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:   env,
		trees: make(map[string]*CompiledTree),
	}, nil
}

func treeKey(orgID, tariffID string) string {
	return orgID + "/" + tariffID
}

// ValidateTree compiles all branch conditions without loading the tree.
func (e *Engine) ValidateTree(t *domain.DecisionTree) error {
	if t == nil {
		return fmt.Errorf("%w: decision tree is required", domain.ErrInvalidInput)
	}
	_, err := e.compile(t)
	return err
}

// LoadTree compiles and loads a decision tree into the engine.
func (e *Engine) LoadTree(t *domain.DecisionTree) error {
	compiled, err := e.compile(t)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.trees[treeKey(t.OrgID, t.TariffID)] = compiled
	return nil
}

// LoadTrees compiles and loads multiple trees.
func (e *Engine) LoadTrees(trees []*domain.DecisionTree) error {
	for _, t := range trees {
		if err := e.LoadTree(t); err != nil {
			return err
		}
	}
	return nil
}

// ReloadTrees clears all loaded trees and loads new ones (hot reload).
func (e *Engine) ReloadTrees(trees []*domain.DecisionTree) error {
	next := make(map[string]*CompiledTree, len(trees))
	for _, t := range trees {
		compiled, err := e.compile(t)
		if err != nil {
			return err
		}
		next[treeKey(t.OrgID, t.TariffID)] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.trees = next
	return nil
}

// Unload removes a tariff's tree from the engine.
func (e *Engine) Unload(orgID, tariffID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.trees, treeKey(orgID, tariffID))
}

// Get returns a copy of the loaded tree for a tariff, or nil. Callers
// read the copy outside the engine's lock, so the engine's own tree is
// never handed out: LockLoaded mutates it on commit.
func (e *Engine) Get(orgID, tariffID string) *domain.DecisionTree {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.trees[treeKey(orgID, tariffID)]; ok {
		dup := *c.Tree
		return &dup
	}
	return nil
}

// Count returns the number of loaded trees.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.trees)
}

// Close clears the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trees = make(map[string]*CompiledTree)
	return nil
}

// Bounds computes the price range a tariff's tree can produce. Returns
// {base, base} when no tree is loaded for the tariff.
func (e *Engine) Bounds(orgID, tariffID string, base decimal.Decimal) domain.Bounds {
	e.mu.RLock()
	c, ok := e.trees[treeKey(orgID, tariffID)]
	e.mu.RUnlock()

	if !ok {
		return domain.Bounds{Min: base, Max: base}
	}
	return c.Tree.ComputeBounds(base)
}

// Match is one matched branch reduction in node order. The reduction
// engine turns matches into ledger records while decrementing the running
// amount.
type Match struct {
	NodeID   string
	BranchID string
	Label    string
	Rule     domain.AmountRule
}

// Activation is the data branch conditions are evaluated against.
type Activation struct {
	Profile   *domain.PersonProfile
	Context   *domain.ComputeContext
	FeeTypeID string
}

// Evaluate walks the loaded tree for a tariff, selecting for each node the
// single branch whose condition matches the activation and recursing into
// the matched branch's children. Returns matches in node order plus
// warnings for branches whose condition failed to evaluate. ok is false
// when no tree is loaded for the tariff.
func (e *Engine) Evaluate(orgID, tariffID string, act Activation) (matches []Match, warnings []string, ok bool) {
	e.mu.RLock()
	c, found := e.trees[treeKey(orgID, tariffID)]
	e.mu.RUnlock()

	if !found {
		return nil, nil, false
	}

	vars := activationVars(act)

	for _, node := range c.Tree.Nodes {
		for _, b := range node.Branches {
			matched, err := c.evalCondition(b, vars)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("branch %s skipped: %v", b.ID, err))
				continue
			}
			if !matched {
				continue
			}
			matches = append(matches, collectBranch(c, node.ID, b, vars, &warnings)...)
			break // one branch per node
		}
	}

	return matches, warnings, true
}

// collectBranch yields the branch's own reduction followed by its matching
// children, depth first.
func collectBranch(c *CompiledTree, nodeID string, b domain.Branch, vars map[string]any, warnings *[]string) []Match {
	var out []Match
	if b.Reduction != nil {
		out = append(out, Match{
			NodeID:   nodeID,
			BranchID: b.ID,
			Label:    b.Label,
			Rule:     *b.Reduction,
		})
	}
	for _, child := range b.Children {
		matched, err := c.evalCondition(child, vars)
		if err != nil {
			*warnings = append(*warnings, fmt.Sprintf("branch %s skipped: %v", child.ID, err))
			continue
		}
		if matched {
			out = append(out, collectBranch(c, nodeID, child, vars, warnings)...)
		}
	}
	return out
}

// evalCondition evaluates a branch's compiled condition. A branch without
// a condition always matches (catch-all branch).
func (c *CompiledTree) evalCondition(b domain.Branch, vars map[string]any) (bool, error) {
	if b.Condition == "" {
		return true, nil
	}
	prog, ok := c.programs[b.ID]
	if !ok {
		return false, fmt.Errorf("no compiled condition for branch %s", b.ID)
	}
	out, _, err := prog.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("condition evaluation: %w", err)
	}
	v, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition did not yield bool")
	}
	return bool(v), nil
}

func activationVars(act Activation) map[string]any {
	p := act.Profile
	if p == nil {
		p = &domain.PersonProfile{}
	}

	income, hasIncome := act.Context.EffectiveIncome(p)
	incomeF, _ := income.Float64()

	ref := act.Context.EffectiveReferenceDate()
	age, hasAge := p.AgeAt(ref)

	years := 0
	if p.FirstMembershipDate != nil {
		years = ref.Year() - p.FirstMembershipDate.Year()
	}

	extra := map[string]any{}
	if act.Context != nil && act.Context.Extra != nil {
		extra = act.Context.Extra
	}
	structureID := ""
	if act.Context != nil {
		structureID = act.Context.StructureID
	}

	return map[string]any{
		"municipality":     p.Municipality(),
		"income_index":     incomeF,
		"has_income":       hasIncome,
		"sibling_rank":     act.Context.EffectiveSiblingRank(p),
		"age":              age,
		"has_age":          hasAge,
		"disability":       p.Disability,
		"membership_years": years,
		"status_tags":      stringList(p.StatusTags),
		"partnership_tags": stringList(p.PartnershipTags),
		"fee_type":         act.FeeTypeID,
		"structure_id":     structureID,
		"ctx":              extra,
	}
}

// stringList keeps CEL list typing stable for nil slices.
func stringList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (e *Engine) compile(t *domain.DecisionTree) (*CompiledTree, error) {
	compiled := &CompiledTree{
		Tree:     t,
		programs: make(map[string]cel.Program),
	}
	for _, node := range t.Nodes {
		for _, b := range node.Branches {
			if err := e.compileBranch(compiled, t.ID, b); err != nil {
				return nil, err
			}
		}
	}
	return compiled, nil
}

func (e *Engine) compileBranch(compiled *CompiledTree, treeID string, b domain.Branch) error {
	if b.Condition != "" {
		ast, issues := e.env.Compile(b.Condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("%w: tree %s branch %s: %v", domain.ErrConfiguration, treeID, b.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("%w: tree %s branch %s: condition must return bool, got %s", domain.ErrConfiguration, treeID, b.ID, ast.OutputType())
		}
		prog, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("%w: tree %s branch %s: %v", domain.ErrConfiguration, treeID, b.ID, err)
		}
		compiled.programs[b.ID] = prog
	}
	for _, child := range b.Children {
		if err := e.compileBranch(compiled, treeID, child); err != nil {
			return err
		}
	}
	return nil
}

// LockLoaded mirrors a durable lock transition on the loaded copy.
func (e *Engine) LockLoaded(orgID, tariffID string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.trees[treeKey(orgID, tariffID)]; ok {
		c.Tree.Lock(at)
	}
}
