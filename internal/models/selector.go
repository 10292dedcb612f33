// Package models picks which model a request should use given its
// importance, the user's override, and the current budget state.
package models

type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

type Override string

const (
	OverrideNone    Override = ""
	OverrideCheap   Override = "cheap"
	OverridePremium Override = "premium"
)

// BudgetState is the gating view the ledger exposes to selection.
type BudgetState interface {
	WithinBudget() bool
	CheapOnly() bool
	Remaining() float64
}

type Selector struct {
	cheap   string
	premium string
	// typicalPremiumCost estimates one standard-model call; when the
	// remaining budget cannot cover it the selector falls back to cheap.
	typicalPremiumCost float64
}

const defaultTypicalPremiumCost = 0.02

func NewSelector(cheap, premium string) *Selector {
	return &Selector{
		cheap:              cheap,
		premium:            premium,
		typicalPremiumCost: defaultTypicalPremiumCost,
	}
}

func (s *Selector) Cheap() string   { return s.cheap }
func (s *Selector) Premium() string { return s.premium }

// Select applies the precedence order: budget guard, then insufficient
// remaining budget, then user override, then importance. The vision
// flag never changes the tier; both models are multimodal.
func (s *Selector) Select(importance Importance, wantsVision bool, override Override, budget BudgetState) string {
	_ = wantsVision

	if budget != nil {
		if budget.CheapOnly() {
			return s.cheap
		}
		if !budget.WithinBudget() || budget.Remaining() < s.typicalPremiumCost {
			return s.cheap
		}
	}

	switch override {
	case OverrideCheap:
		return s.cheap
	case OverridePremium:
		return s.premium
	}

	if importance == ImportanceHigh {
		return s.premium
	}
	return s.cheap
}
