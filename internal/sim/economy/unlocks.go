package economy

// CheckUnlocks evaluates each locked building's era gate plus its
// requirement predicates. A building unlocks at most once; the flag never
// re-locks outside a prestige reset that scopes it.
func (e *Engine) CheckUnlocks() {
	unlocked := false
	for _, id := range e.cats.Buildings.Order {
		b := e.buildings[id]
		if b.Unlocked {
			continue
		}
		def := e.cats.Buildings.Defs[id]
		if !e.eraReached(def.Era) {
			continue
		}
		met := true
		for _, req := range def.Unlock {
			if !e.mult.EvalRequirement(req) {
				met = false
				break
			}
		}
		if met {
			b.Unlocked = true
			unlocked = true
			e.publish(eventBuildingUnlocked(id))
		}
	}
	if unlocked {
		e.refreshConditions()
		e.RecalcRates()
	}
}

func (e *Engine) eraReached(era string) bool {
	if era == "" {
		return true
	}
	need := e.cats.EraOrder(era)
	if need < 0 {
		e.warnf("unknown era gate %q; treated as not reached", era)
		return false
	}
	return e.cats.EraOrder(e.era) >= need
}

// AdvanceEra moves progression to the named era if it is ahead of the
// current one.
func (e *Engine) AdvanceEra(era string) bool {
	if e.cats.EraOrder(era) <= e.cats.EraOrder(e.era) {
		return false
	}
	e.era = era
	e.refreshConditions()
	e.CheckUnlocks()
	return true
}

// PrestigeReset applies a soft reset: buildings whose reset_scope matches
// return to locked/zero, resource amounts return to their starting values,
// and pending accumulators for scoped buildings are discarded. Lifetime
// totals survive (they feed prestige formulas) and the prestige level
// increments.
func (e *Engine) PrestigeReset(scope string) {
	for _, id := range e.cats.Buildings.Order {
		def := e.cats.Buildings.Defs[id]
		if def.ResetScope != scope {
			continue
		}
		b := e.buildings[id]
		b.Count = 0
		b.Unlocked = false
		for _, out := range def.Outputs {
			delete(e.acc, accKey{building: id, resource: out.Resource})
		}
	}
	for _, id := range e.cats.Resources.Order {
		def := e.cats.Resources.Defs[id]
		r := e.resources[id]
		r.Amount = def.StartAmount
	}
	e.prestige++
	e.stats.PrestigeCount++
	if len(e.cats.Eras.Order) > 0 {
		e.era = e.cats.Eras.Order[0]
	}

	e.refreshConditions()
	e.CheckUnlocks()
	e.RecalcRates()
}
