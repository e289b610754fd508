package economy

import (
	"idleforge/internal/sim/catalogs"
	"idleforge/internal/sim/curve"
)

type PurchaseResult int

const (
	PurchaseOK PurchaseResult = iota
	PurchaseInsufficient
	PurchaseMaxed
	PurchaseUnknown
)

func (r PurchaseResult) String() string {
	switch r {
	case PurchaseOK:
		return "ok"
	case PurchaseInsufficient:
		return "insufficient"
	case PurchaseMaxed:
		return "maxed"
	default:
		return "unknown"
	}
}

// Cost prices a bulk purchase of count units starting from the current owned
// total. Per resource: sum of base * curve({owned: n+i}) over the run, times
// the cost-reduction multipliers, rounded up once at the end rather than per
// unit.
func (e *Engine) Cost(buildingID string, count int) []ResourceAmount {
	cc, ok := e.compiledCosts[buildingID]
	if !ok || count <= 0 {
		return nil
	}
	b := e.buildings[buildingID]
	mult := e.costMultiplier(buildingID)

	out := make([]ResourceAmount, 0, len(cc))
	for _, line := range cc {
		raw := 0.0
		for i := 0; i < count; i++ {
			raw += line.base * e.eval.Evaluate(line.curve, costCtx(b.Count + i))
		}
		out = append(out, ResourceAmount{Resource: line.resource, Amount: ceilAmount(raw * mult)})
	}
	return out
}

func (e *Engine) costMultiplier(buildingID string) float64 {
	return e.mult.Value(StackCost) * e.mult.Value(StackCostUnit+buildingID)
}

// MaxAffordable is a greedy forward search over bulk sizes, bounded by the
// tuning's bulk-search ceiling and the building's remaining capacity. A
// closed-form inverse of the cost curve would be faster but the ceiling
// keeps this correct and cheap enough.
func (e *Engine) MaxAffordable(buildingID string) int {
	cc, ok := e.compiledCosts[buildingID]
	if !ok {
		return 0
	}
	b := e.buildings[buildingID]
	def := e.cats.Buildings.Defs[buildingID]

	limit := e.tune.MaxBulkSearch
	if def.MaxOwned > 0 {
		if rem := def.MaxOwned - b.Count; rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		return 0
	}

	mult := e.costMultiplier(buildingID)
	raw := make([]float64, len(cc))
	best := 0
	for n := 1; n <= limit; n++ {
		affordable := true
		for i, line := range cc {
			raw[i] += line.base * e.eval.Evaluate(line.curve, costCtx(b.Count + n - 1))
			r := e.resources[line.resource]
			if r == nil || r.Amount+negEps < ceilAmount(raw[i]*mult) {
				affordable = false
				break
			}
		}
		if !affordable {
			break
		}
		best = n
	}
	return best
}

// Purchase buys count units atomically: every cost line is deducted and the
// owned count incremented together, or nothing changes. The count is clamped
// to the building's max-owned cap; a clamp to zero raises the distinct maxed
// signal without mutating anything.
func (e *Engine) Purchase(buildingID string, count int) PurchaseResult {
	def, ok := e.cats.Buildings.Defs[buildingID]
	if !ok {
		e.warnf("purchase: unknown building %q", buildingID)
		return PurchaseUnknown
	}
	if count <= 0 {
		return PurchaseInsufficient
	}
	b := e.buildings[buildingID]
	if !b.Unlocked {
		return PurchaseInsufficient
	}
	if def.MaxOwned > 0 {
		remaining := def.MaxOwned - b.Count
		if remaining <= 0 {
			e.publish(eventBuildingMaxed(buildingID))
			return PurchaseMaxed
		}
		if count > remaining {
			count = remaining
		}
	}

	costs := e.Cost(buildingID, count)
	if !e.CanAfford(costs) {
		return PurchaseInsufficient
	}
	if !e.spendAll(costs, "purchase:"+buildingID) {
		return PurchaseInsufficient
	}
	b.Count += count
	e.stats.Purchases++

	e.publish(eventBuildingPurchased(buildingID, count))
	e.refreshConditions()
	e.CheckUnlocks()
	e.RecalcRates()
	return PurchaseOK
}

// PurchaseUpgrade buys a one-shot upgrade and installs its multiplier
// effects. Buying an already-owned upgrade is a no-op success.
func (e *Engine) PurchaseUpgrade(upgradeID string) PurchaseResult {
	def, ok := e.cats.Upgrades.Defs[upgradeID]
	if !ok {
		e.warnf("purchase upgrade: unknown upgrade %q", upgradeID)
		return PurchaseUnknown
	}
	if e.upgrades[upgradeID] {
		return PurchaseOK
	}

	costs := make([]ResourceAmount, 0, len(def.Costs))
	mult := e.mult.Value(StackCost)
	for _, line := range def.Costs {
		v := line.Base * e.eval.Evaluate(e.eval.Compile(line.Curve), costCtx(0))
		costs = append(costs, ResourceAmount{Resource: line.Resource, Amount: ceilAmount(v * mult)})
	}
	if !e.CanAfford(costs) {
		return PurchaseInsufficient
	}
	if !e.spendAll(costs, "upgrade:"+upgradeID) {
		return PurchaseInsufficient
	}
	e.upgrades[upgradeID] = true
	e.installUpgradeEffects(upgradeID, def)

	e.refreshConditions()
	e.CheckUnlocks()
	e.RecalcRates()
	return PurchaseOK
}

func (e *Engine) installUpgradeEffects(upgradeID string, def catalogs.UpgradeDef) {
	for i, eff := range def.Effects {
		e.mult.Add(eff.Stack, multiplierEntry(upgradeID, i, eff))
	}
}

// costCtx exposes the owned total under both variable names cost curves
// conventionally read.
func costCtx(owned int) curve.Context {
	v := float64(owned)
	return curve.Context{"owned": v, "count": v}
}
