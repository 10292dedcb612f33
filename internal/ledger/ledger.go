// Package ledger tracks cumulative model spend against a budget. The
// running total is persisted through the injected store so spend
// survives restarts; budget policy (the limit and cheap-only reserve)
// comes from configuration.
package ledger

import (
	"fmt"
	"sync"

	"github.com/stellarlinkco/deskmate/internal/store"
)

const spentKey = "ledger.spent"

// Pricing is currency per million tokens for one model.
type Pricing struct {
	In  float64
	Out float64
}

type Ledger struct {
	store   *store.Store
	mu      sync.Mutex
	spent   float64
	limit   float64
	reserve float64
	prices  map[string]Pricing
}

func New(st *store.Store, limit, reserve float64, prices map[string]Pricing) (*Ledger, error) {
	l := &Ledger{
		store:   st,
		limit:   limit,
		reserve: reserve,
		prices:  prices,
	}
	if _, err := st.Get(spentKey, &l.spent); err != nil {
		return nil, fmt.Errorf("load spend: %w", err)
	}
	return l, nil
}

// Cost computes the charge for one call without recording it.
func (l *Ledger) Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := l.prices[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.In + float64(outputTokens)*p.Out) / 1_000_000
}

// RecordCost accumulates the charge for a successful call and persists
// the new total. It returns the cost of this call.
func (l *Ledger) RecordCost(model string, inputTokens, outputTokens int) (float64, error) {
	cost := l.Cost(model, inputTokens, outputTokens)

	l.mu.Lock()
	l.spent += cost
	spent := l.spent
	l.mu.Unlock()

	if err := l.store.Set(spentKey, spent); err != nil {
		return cost, fmt.Errorf("persist spend: %w", err)
	}
	return cost, nil
}

func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit - l.spent
}

func (l *Ledger) WithinBudget() bool {
	return l.Remaining() > 0
}

// CheapOnly reports whether remaining budget has fallen below the
// reserve, restricting model choice to the cheapest tier.
func (l *Ledger) CheapOnly() bool {
	return l.Remaining() < l.reserve
}
