package economy

import "math"

// negEps absorbs float drift when a spend empties a resource exactly.
const negEps = 1e-9

// Apply is the single mutation path for resource amounts. Positive deltas
// accrue into the lifetime total; negative deltas fail (returning false,
// untouched state) rather than driving the amount below zero. Every call
// carries a source tag so changes stay attributable.
func (e *Engine) Apply(resourceID string, delta float64, sourceTag string) bool {
	r, ok := e.resources[resourceID]
	if !ok {
		e.warnf("apply %q from %s: unknown resource", resourceID, sourceTag)
		return false
	}
	if delta == 0 {
		return true
	}
	if delta < 0 && r.Amount+delta < -negEps {
		return false
	}
	r.Amount += delta
	if r.Amount < 0 {
		r.Amount = 0
	}
	if delta > 0 {
		r.Lifetime += delta
		if !r.Unlocked {
			r.Unlocked = true
		}
	}
	e.publish(eventResourceChanged(resourceID, delta, r.Amount, sourceTag))
	return true
}

// CanAfford reports whether every cost line is currently payable.
func (e *Engine) CanAfford(costs []ResourceAmount) bool {
	for _, c := range costs {
		r, ok := e.resources[c.Resource]
		if !ok || r.Amount+negEps < c.Amount {
			return false
		}
	}
	return true
}

// spendAll deducts every cost line or nothing. Callers must have verified
// affordability; a mid-way failure is rolled back to keep purchases atomic.
func (e *Engine) spendAll(costs []ResourceAmount, sourceTag string) bool {
	for i, c := range costs {
		if !e.Apply(c.Resource, -c.Amount, sourceTag) {
			for j := 0; j < i; j++ {
				// Refund without inflating lifetime totals.
				r := e.resources[costs[j].Resource]
				r.Amount += costs[j].Amount
				e.publish(eventResourceChanged(costs[j].Resource, costs[j].Amount, r.Amount, sourceTag+":rollback"))
			}
			return false
		}
	}
	return true
}

// ResourceAmount is one line of a cost or gain.
type ResourceAmount struct {
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
}

func ceilAmount(v float64) float64 {
	return math.Ceil(v - negEps)
}
