// Package offline recomputes the production a player should have accrued
// across an elapsed real-world interval, from a persisted snapshot alone.
//
// The same function runs in two places: on the client for an optimistic
// "welcome back" estimate, and on the trusted server as the sole source of
// truth. Both sides share the clamp, the efficiency factor and the
// input-exclusion rule below; the server never trusts a client-submitted
// resource delta, only the snapshot.
package offline

import (
	"log"

	"idleforge/internal/persistence/snapshot"
	"idleforge/internal/sim/catalogs"
	"idleforge/internal/sim/economy"
	"idleforge/internal/sim/tuning"
)

type Result struct {
	// Per-resource amounts gained while away.
	Gained []economy.ResourceAmount

	// Post-clamp, pre-efficiency elapsed duration.
	EffectiveElapsedMs int64

	// The global efficiency factor that was applied.
	EfficiencyApplied float64
}

// Compute returns the offline gain for the interval [lastActiveMs, nowMs],
// or ok=false when the elapsed time is under the minimum threshold (brief
// tab switches produce no welcome-back).
//
// Buildings that consume any input resource are excluded entirely: input
// availability while away is unknowable from the snapshot, and granting
// output without modeling inputs would be an exploit. Remaining buildings
// contribute rate * effectiveSeconds * per-output idle efficiency.
func Compute(cats *catalogs.Catalogs, tune tuning.Tuning, st snapshot.StateV1, lastActiveMs, nowMs int64, logger *log.Logger) (Result, bool) {
	elapsed := nowMs - lastActiveMs
	if elapsed < int64(tune.Offline.MinElapsedMs) {
		return Result{}, false
	}

	clampedSec := float64(elapsed) / 1000
	if limit := float64(tune.Offline.MaxSeconds); clampedSec > limit {
		clampedSec = limit
	}
	effSec := clampedSec * tune.Offline.Efficiency

	// Rehydrate an engine from the snapshot so rates reflect the saved
	// upgrades and multipliers exactly as the live tick path would see them.
	eng := economy.New(economy.Config{
		Catalogs: cats,
		Tuning:   tune,
		Logger:   logger,
		Seed:     st.Seed,
	})
	eng.Import(st)

	gains := make(map[string]float64)
	for _, id := range cats.Buildings.Order {
		b, ok := eng.BuildingState(id)
		if !ok || b.Count == 0 || !b.Unlocked {
			continue
		}
		def := cats.Buildings.Defs[id]
		if len(def.Inputs) > 0 {
			continue
		}
		mult := eng.Multipliers().Value(economy.StackProduction) *
			eng.Multipliers().Value(economy.StackProductionUnit + id)
		for _, out := range def.Outputs {
			rate := out.BaseAmount * float64(b.Count) / (float64(out.IntervalMs) / 1000) * mult
			idle := out.IdleEfficiency
			if idle == 0 {
				idle = 1
			}
			gains[out.Resource] += rate * effSec * idle
		}
	}

	res := Result{
		EffectiveElapsedMs: int64(clampedSec * 1000),
		EfficiencyApplied:  tune.Offline.Efficiency,
	}
	for _, id := range cats.Resources.Order {
		if v := gains[id]; v > 0 {
			res.Gained = append(res.Gained, economy.ResourceAmount{Resource: id, Amount: v})
		}
	}
	return res, true
}

// ApplyTo credits a computed result into a live engine's ledger under the
// offline source tag.
func ApplyTo(eng *economy.Engine, res Result) {
	for _, g := range res.Gained {
		eng.Apply(g.Resource, g.Amount, "offline")
	}
}
