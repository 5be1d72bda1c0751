// Package rules implements reduction rule matching and selection.
package rules

import (
	"fmt"
	"slices"
	"sort"

	"github.com/openmembership/bareme/internal/domain"
)

// MatchInput bundles the data a matcher dispatches on. ResolvedBracket is
// the bracket resolved for the person's income index, nil when no bracket
// table applies or no income is known.
type MatchInput struct {
	Profile         *domain.PersonProfile
	Context         *domain.ComputeContext
	ResolvedBracket *domain.Bracket
}

// Matches reports whether a rule applies to the given input, dispatched on
// the rule's source type. A malformed condition (missing required data for
// its source type) returns an error so the caller can skip the single rule
// with a warning instead of failing the whole computation.
func Matches(rule *domain.ReductionRule, in MatchInput) (bool, error) {
	if in.Profile == nil {
		return false, fmt.Errorf("%w: profile is required", domain.ErrInvalidInput)
	}

	switch rule.SourceType {
	case domain.SourceCommune:
		return matchCommune(rule, in)
	case domain.SourceIncomeBracket:
		return matchIncomeBracket(rule, in)
	case domain.SourceSocialStatus:
		if len(rule.Conditions.StatusTags) == 0 {
			return false, fmt.Errorf("rule %s: social_status rule has no status tags", rule.ID)
		}
		return intersects(in.Profile.StatusTags, rule.Conditions.StatusTags), nil
	case domain.SourceSiblingRank:
		minRank := domain.DefaultSiblingMinRank
		if rule.Conditions.MinRank != nil {
			minRank = *rule.Conditions.MinRank
		}
		return in.Context.EffectiveSiblingRank(in.Profile) >= minRank, nil
	case domain.SourceLoyalty:
		return matchLoyalty(rule, in)
	case domain.SourcePartnership:
		if len(rule.Conditions.PartnershipTags) == 0 {
			return false, fmt.Errorf("rule %s: partnership rule has no partnership tags", rule.ID)
		}
		return intersects(in.Profile.PartnershipTags, rule.Conditions.PartnershipTags), nil
	case domain.SourceDisability:
		return in.Profile.Disability, nil
	case domain.SourceAge:
		return matchAge(rule, in)
	case domain.SourceManual:
		// Manual rules exist only for explicit operator application.
		return false, nil
	default:
		return false, fmt.Errorf("rule %s: unknown source type %q", rule.ID, rule.SourceType)
	}
}

func matchCommune(rule *domain.ReductionRule, in MatchInput) (bool, error) {
	if len(rule.Conditions.Municipalities) == 0 {
		return false, fmt.Errorf("rule %s: commune rule has no municipality set", rule.ID)
	}
	m := in.Profile.Municipality()
	if m == "" {
		return false, nil
	}
	return slices.Contains(rule.Conditions.Municipalities, m), nil
}

func matchIncomeBracket(rule *domain.ReductionRule, in MatchInput) (bool, error) {
	cond := rule.Conditions
	hasBrackets := len(cond.BracketIDs) > 0
	hasRange := cond.IncomeMin != nil || cond.IncomeMax != nil

	// The two styles are mutually exclusive per rule; a rule carrying both
	// is malformed.
	if hasBrackets && hasRange {
		return false, fmt.Errorf("rule %s: income rule mixes bracket ids and numeric range", rule.ID)
	}
	if !hasBrackets && !hasRange {
		return false, fmt.Errorf("rule %s: income rule has neither bracket ids nor range", rule.ID)
	}

	if hasBrackets {
		if in.ResolvedBracket == nil {
			return false, nil
		}
		return slices.Contains(cond.BracketIDs, in.ResolvedBracket.ID), nil
	}

	income, ok := in.Context.EffectiveIncome(in.Profile)
	if !ok {
		return false, nil
	}
	if cond.IncomeMin != nil && income.LessThan(*cond.IncomeMin) {
		return false, nil
	}
	if cond.IncomeMax != nil && !income.LessThan(*cond.IncomeMax) {
		return false, nil
	}
	return true, nil
}

func matchLoyalty(rule *domain.ReductionRule, in MatchInput) (bool, error) {
	if in.Profile.FirstMembershipDate == nil {
		return false, nil
	}
	minYears := domain.DefaultLoyaltyYears
	if rule.Conditions.MinYears != nil {
		minYears = *rule.Conditions.MinYears
	}
	ref := in.Context.EffectiveReferenceDate()
	years := ref.Year() - in.Profile.FirstMembershipDate.Year()
	return years >= minYears, nil
}

func matchAge(rule *domain.ReductionRule, in MatchInput) (bool, error) {
	if rule.Conditions.AgeThreshold == nil {
		return false, fmt.Errorf("rule %s: age rule has no threshold", rule.ID)
	}
	age, ok := in.Profile.AgeAt(in.Context.EffectiveReferenceDate())
	if !ok {
		return false, nil
	}

	threshold := *rule.Conditions.AgeThreshold
	switch rule.Conditions.Comparator {
	case domain.AgeLess:
		return age < threshold, nil
	case domain.AgeLessEq:
		return age <= threshold, nil
	case domain.AgeGreater:
		return age > threshold, nil
	case domain.AgeGreaterEq:
		return age >= threshold, nil
	case domain.AgeEqual:
		return age == threshold, nil
	default:
		return false, fmt.Errorf("rule %s: unknown age comparator %q", rule.ID, rule.Conditions.Comparator)
	}
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

// Selection is the outcome of FindApplicable: the matching rules in
// application order plus warnings for rules skipped as malformed.
type Selection struct {
	Rules    []*domain.ReductionRule
	Warnings []string
}

// FindApplicable returns all non-manual enabled rules whose Matches
// returns true, sorted by applicationOrder ascending then rule id
// ascending. Malformed rules are skipped with a warning; one bad rule must
// not block fee collection.
func FindApplicable(candidates []*domain.ReductionRule, in MatchInput) Selection {
	var sel Selection
	for _, rule := range candidates {
		if !rule.Enabled || rule.SourceType == domain.SourceManual {
			continue
		}
		ok, err := Matches(rule, in)
		if err != nil {
			sel.Warnings = append(sel.Warnings, fmt.Sprintf("rule skipped: %v", err))
			continue
		}
		if ok {
			sel.Rules = append(sel.Rules, rule)
		}
	}

	sort.Slice(sel.Rules, func(i, j int) bool {
		if sel.Rules[i].ApplicationOrder != sel.Rules[j].ApplicationOrder {
			return sel.Rules[i].ApplicationOrder < sel.Rules[j].ApplicationOrder
		}
		return sel.Rules[i].ID < sel.Rules[j].ID
	})

	return sel
}
