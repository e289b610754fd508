package economy

// UnitRates returns the per-second output of one building at its current
// owned count, keyed by resource. Chance gates are not folded in: the
// nominal configured rate is what displays and what the offline calculator
// uses.
func (e *Engine) UnitRates(buildingID string) map[string]float64 {
	b := e.buildings[buildingID]
	def, ok := e.cats.Buildings.Defs[buildingID]
	if b == nil || !ok || b.Count == 0 || !b.Unlocked {
		return nil
	}
	unitMult := e.mult.Value(StackProduction) * e.mult.Value(StackProductionUnit+buildingID)
	out := make(map[string]float64, len(def.Outputs))
	for _, o := range def.Outputs {
		out[o.Resource] += o.BaseAmount * float64(b.Count) / (float64(o.IntervalMs) / 1000) * unitMult
	}
	return out
}

// RecalcRates recomputes the aggregate per-resource production rates across
// all owned, unlocked buildings. Invoked after every purchase, multiplier
// change and unlock change; display and the offline calculator read these.
func (e *Engine) RecalcRates() {
	for k := range e.rates {
		delete(e.rates, k)
	}
	for _, id := range e.cats.Buildings.Order {
		for res, rate := range e.UnitRates(id) {
			e.rates[res] += rate
		}
	}
}

// Rates exposes the aggregate per-resource rates from the last recalc.
func (e *Engine) Rates() map[string]float64 {
	out := make(map[string]float64, len(e.rates))
	for k, v := range e.rates {
		out[k] = v
	}
	return out
}
