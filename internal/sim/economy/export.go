package economy

import (
	"math/rand"
	"sort"

	"idleforge/internal/persistence/snapshot"
)

// Export captures the full persisted state, slices sorted for a canonical
// payload. Accumulators are included so sub-threshold production survives a
// save/reload.
func (e *Engine) Export() snapshot.StateV1 {
	st := snapshot.StateV1{
		Seed:     e.seed,
		Era:      e.era,
		Prestige: e.prestige,
		Stats: snapshot.StatsV1{
			TotalTicks:    e.stats.TotalTicks,
			PlaytimeMs:    e.stats.PlaytimeMs,
			Purchases:     e.stats.Purchases,
			PrestigeCount: e.stats.PrestigeCount,
		},
	}
	for _, id := range e.cats.Resources.Order {
		r := e.resources[id]
		st.Resources = append(st.Resources, snapshot.ResourceV1{
			ID: id, Amount: r.Amount, Lifetime: r.Lifetime, Unlocked: r.Unlocked,
		})
	}
	for _, id := range e.cats.Buildings.Order {
		b := e.buildings[id]
		st.Buildings = append(st.Buildings, snapshot.BuildingV1{
			ID: id, Count: b.Count, Unlocked: b.Unlocked,
		})
	}
	for id, owned := range e.upgrades {
		if owned {
			st.Upgrades = append(st.Upgrades, id)
		}
	}
	sort.Strings(st.Upgrades)

	keys := make([]accKey, 0, len(e.acc))
	for k, v := range e.acc {
		if v != 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].building != keys[j].building {
			return keys[i].building < keys[j].building
		}
		return keys[i].resource < keys[j].resource
	})
	for _, k := range keys {
		st.Accumulators = append(st.Accumulators, snapshot.AccumulatorV1{
			Building: k.building, Resource: k.resource, Amount: e.acc[k],
		})
	}
	return st
}

// Import replaces the engine's state with a decoded snapshot. Unknown ids
// (content removed from the catalogs since the save) are dropped with a
// warning; building unlocks never regress below the saved value.
func (e *Engine) Import(st snapshot.StateV1) {
	e.seed = st.Seed
	e.rng = rand.New(rand.NewSource(st.Seed))
	e.era = st.Era
	if e.era == "" && len(e.cats.Eras.Order) > 0 {
		e.era = e.cats.Eras.Order[0]
	}
	e.prestige = st.Prestige
	e.stats = Stats{
		TotalTicks:    st.Stats.TotalTicks,
		PlaytimeMs:    st.Stats.PlaytimeMs,
		Purchases:     st.Stats.Purchases,
		PrestigeCount: st.Stats.PrestigeCount,
	}

	for _, rv := range st.Resources {
		r, ok := e.resources[rv.ID]
		if !ok {
			e.warnf("import: dropping unknown resource %q", rv.ID)
			continue
		}
		r.Amount = rv.Amount
		r.Lifetime = rv.Lifetime
		r.Unlocked = rv.Unlocked || r.Unlocked
	}
	for _, bv := range st.Buildings {
		b, ok := e.buildings[bv.ID]
		if !ok {
			e.warnf("import: dropping unknown building %q", bv.ID)
			continue
		}
		b.Count = bv.Count
		b.Unlocked = bv.Unlocked || b.Unlocked
	}
	for id := range e.upgrades {
		delete(e.upgrades, id)
	}
	for _, id := range st.Upgrades {
		def, ok := e.cats.Upgrades.Defs[id]
		if !ok {
			e.warnf("import: dropping unknown upgrade %q", id)
			continue
		}
		e.upgrades[id] = true
		e.installUpgradeEffects(id, def)
	}
	for k := range e.acc {
		delete(e.acc, k)
	}
	for _, av := range st.Accumulators {
		e.acc[accKey{building: av.Building, resource: av.Resource}] = av.Amount
	}

	e.refreshConditions()
	e.CheckUnlocks()
	e.RecalcRates()
}
