package rules

import (
	"fmt"
	"sync"

	"github.com/openmembership/bareme/internal/domain"
)

// Registry holds the loaded reduction rules. Rules are loaded from the
// repository at startup and hot-reloaded via the API; evaluation reads a
// consistent snapshot under the read lock.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*domain.ReductionRule // key: rule ID
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{
		rules: make(map[string]*domain.ReductionRule),
	}
}

// ValidateRule checks a rule configuration without loading it.
func (r *Registry) ValidateRule(rule *domain.ReductionRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule config is required", domain.ErrInvalidInput)
	}
	if rule.ID == "" || rule.Code == "" {
		return fmt.Errorf("%w: rule id and code are required", domain.ErrInvalidInput)
	}
	if !rule.SourceType.Valid() {
		return fmt.Errorf("%w: rule %s: unknown source type %q", domain.ErrInvalidInput, rule.ID, rule.SourceType)
	}
	if err := rule.Rule.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return nil
}

// LoadRule validates and loads a single rule.
func (r *Registry) LoadRule(rule *domain.ReductionRule) error {
	if err := r.ValidateRule(rule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
	return nil
}

// LoadRules loads multiple enabled rules.
func (r *Registry) LoadRules(rules []*domain.ReductionRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := r.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (r *Registry) ReloadRules(rules []*domain.ReductionRule) error {
	next := make(map[string]*domain.ReductionRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := r.ValidateRule(rule); err != nil {
			return err
		}
		next[rule.ID] = rule
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = next
	return nil
}

// sameScope reports whether a rule's OrgID belongs to an organization
// scope. The global scope ("*" or empty) holds the shared rules.
func sameScope(ruleOrgID, scope string) bool {
	if scope == "" || scope == domain.GlobalOrgID {
		return ruleOrgID == "" || ruleOrgID == domain.GlobalOrgID
	}
	return ruleOrgID == scope
}

// ReloadScope replaces the rules loaded for one organization scope with
// a fresh set, leaving every other scope untouched. A rule in the new
// set that belongs to a different scope is rejected: a scoped reload
// must never smuggle in or evict another organization's rules.
func (r *Registry) ReloadScope(scope string, rules []*domain.ReductionRule) error {
	next := make(map[string]*domain.ReductionRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := r.ValidateRule(rule); err != nil {
			return err
		}
		if !sameScope(rule.OrgID, scope) {
			return fmt.Errorf("%w: rule %s belongs to scope %q, not %q", domain.ErrInvalidInput, rule.ID, rule.OrgID, scope)
		}
		next[rule.ID] = rule
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rule := range r.rules {
		if sameScope(rule.OrgID, scope) {
			delete(r.rules, id)
		}
	}
	for id, rule := range next {
		r.rules[id] = rule
	}
	return nil
}

// Snapshot returns the loaded rules visible to an organization scope:
// the org's own rules plus global rules (empty OrgID or "*").
func (r *Registry) Snapshot(orgID string) []*domain.ReductionRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ReductionRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.OrgID == "" || rule.OrgID == "*" || rule.OrgID == orgID {
			out = append(out, rule)
		}
	}
	return out
}

// Count returns the number of loaded rules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Close clears the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = make(map[string]*domain.ReductionRule)
	return nil
}
