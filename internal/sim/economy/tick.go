package economy

import "idleforge/internal/sim/catalogs"

// ProcessTick advances production by deltaMs. Per owned, unlocked building
// and output resource:
//
//	amount = base * owned * (deltaMs/1000) / (intervalMs/1000) * globalMult * unitMult
//
// Amounts land in per-(building,resource) accumulators and flush into the
// ledger once they reach the flush threshold, so sub-threshold production is
// never lost to rounding and ledger writes stay batched. A tick is applied
// fully before control returns; accumulate-then-flush keeps a failed or
// repeated tick from double-counting ledger writes.
func (e *Engine) ProcessTick(deltaMs int64) {
	if deltaMs <= 0 {
		return
	}
	e.refreshConditions()

	deltaSec := float64(deltaMs) / 1000

	for _, id := range e.cats.Buildings.Order {
		b := e.buildings[id]
		if b.Count == 0 || !b.Unlocked {
			continue
		}
		def := e.cats.Buildings.Defs[id]

		if len(def.Inputs) > 0 && !e.consumeInputs(id, def, deltaSec) {
			// Starved buildings neither consume nor produce this tick.
			continue
		}

		unitMult := e.mult.Value(StackProduction) * e.mult.Value(StackProductionUnit+id)
		for _, out := range def.Outputs {
			amount := out.BaseAmount * float64(b.Count) * deltaSec / (float64(out.IntervalMs) / 1000) * unitMult
			if out.Chance > 0 && out.Chance < 1 {
				// One Bernoulli trial per tick; the full computed amount
				// applies on success. Kept as configured even though the
				// realized long-run average sits below the nominal rate.
				if e.rng.Float64() >= out.Chance {
					continue
				}
			}
			e.accumulate(id, out.Resource, amount)
		}
	}

	e.stats.TotalTicks++
	e.stats.PlaytimeMs += deltaMs
	e.CheckUnlocks()
}

// consumeInputs deducts the tick's input demand for a building, or nothing
// if any input is short.
func (e *Engine) consumeInputs(buildingID string, def catalogs.BuildingDef, deltaSec float64) bool {
	need := make([]ResourceAmount, 0, len(def.Inputs))
	b := e.buildings[buildingID]
	for _, in := range def.Inputs {
		amt := in.BaseAmount * float64(b.Count) * deltaSec / (float64(in.IntervalMs) / 1000)
		need = append(need, ResourceAmount{Resource: in.Resource, Amount: amt})
	}
	if !e.CanAfford(need) {
		return false
	}
	return e.spendAll(need, "consume:"+buildingID)
}

func (e *Engine) accumulate(buildingID, resourceID string, amount float64) {
	if amount == 0 {
		return
	}
	k := accKey{building: buildingID, resource: resourceID}
	e.acc[k] += amount
	if e.acc[k] >= e.tune.FlushThreshold {
		flushed := e.acc[k]
		e.acc[k] = 0
		e.Apply(resourceID, flushed, "production:"+buildingID)
	}
}

// FlushAccumulators forces all pending sub-threshold production into the
// ledger. Snapshots persist accumulators so saving does not need this; the
// replay tool uses it to settle final totals.
func (e *Engine) FlushAccumulators() {
	for _, id := range e.cats.Buildings.Order {
		for _, out := range e.cats.Buildings.Defs[id].Outputs {
			k := accKey{building: id, resource: out.Resource}
			if v := e.acc[k]; v > 0 {
				e.acc[k] = 0
				e.Apply(out.Resource, v, "production:"+id)
			}
		}
	}
}
