package offline

import (
	"math"
	"testing"

	"idleforge/internal/persistence/snapshot"
	"idleforge/internal/sim/catalogs"
	"idleforge/internal/sim/curve"
	"idleforge/internal/sim/economy"
	"idleforge/internal/sim/tuning"
)

func testCatalogs() *catalogs.Catalogs {
	c := &catalogs.Catalogs{}
	c.Resources.Defs = map[string]catalogs.ResourceDef{
		"gold":  {ID: "gold", StartUnlocked: true},
		"wood":  {ID: "wood", StartUnlocked: true},
		"plank": {ID: "plank"},
	}
	c.Resources.Order = []string{"gold", "plank", "wood"}
	c.Buildings.Defs = map[string]catalogs.BuildingDef{
		"forge": {
			ID: "forge",
			Outputs: []catalogs.OutputDef{
				{Resource: "gold", BaseAmount: 9, IntervalMs: 1000},
			},
		},
		"drowsy": {
			ID: "drowsy",
			Outputs: []catalogs.OutputDef{
				{Resource: "gold", BaseAmount: 4, IntervalMs: 1000, IdleEfficiency: 0.25},
			},
		},
		"sawmill": {
			ID: "sawmill",
			Inputs: []catalogs.InputDef{
				{Resource: "wood", BaseAmount: 1, IntervalMs: 1000},
			},
			Outputs: []catalogs.OutputDef{
				{Resource: "plank", BaseAmount: 5, IntervalMs: 1000},
			},
		},
	}
	c.Buildings.Order = []string{"drowsy", "forge", "sawmill"}
	c.Upgrades.Defs = map[string]catalogs.UpgradeDef{
		"bellows": {
			ID: "bellows",
			Effects: []catalogs.Effect{
				{Stack: economy.StackProduction, Value: 2, Mode: "multiplicative"},
			},
		},
	}
	c.Upgrades.Order = []string{"bellows"}
	c.Curves.Presets = map[string]curve.Def{}
	return c
}

func snapWith(buildings map[string]int, upgrades ...string) snapshot.StateV1 {
	st := snapshot.StateV1{Seed: 1}
	st.Resources = []snapshot.ResourceV1{
		{ID: "gold", Unlocked: true},
		{ID: "plank"},
		{ID: "wood", Unlocked: true},
	}
	for _, id := range []string{"drowsy", "forge", "sawmill"} {
		st.Buildings = append(st.Buildings, snapshot.BuildingV1{
			ID: id, Count: buildings[id], Unlocked: true,
		})
	}
	st.Upgrades = upgrades
	return st
}

func gained(res Result, id string) float64 {
	for _, g := range res.Gained {
		if g.Resource == id {
			return g.Amount
		}
	}
	return 0
}

func TestCompute_ClampAndEfficiency(t *testing.T) {
	// 100,000s elapsed, clamp 86,400s, efficiency 0.5: effective 43,200s.
	// forge at 9/sec, owned 1, idle efficiency 1.0: 388,800 gold.
	tune := tuning.Defaults()
	res, ok := Compute(testCatalogs(), tune, snapWith(map[string]int{"forge": 1}), 0, 100_000_000, nil)
	if !ok {
		t.Fatal("expected a result")
	}
	if res.EffectiveElapsedMs != 86_400_000 {
		t.Fatalf("effective elapsed: got %d want 86400000", res.EffectiveElapsedMs)
	}
	if res.EfficiencyApplied != 0.5 {
		t.Fatalf("efficiency: got %v want 0.5", res.EfficiencyApplied)
	}
	if got := gained(res, "gold"); got != 388_800 {
		t.Fatalf("gain: got %v want 388800", got)
	}
}

func TestCompute_BelowMinimumIsNone(t *testing.T) {
	tune := tuning.Defaults()
	if _, ok := Compute(testCatalogs(), tune, snapWith(map[string]int{"forge": 1}), 0, 999, nil); ok {
		t.Fatal("sub-threshold elapsed produced a result")
	}
	if _, ok := Compute(testCatalogs(), tune, snapWith(map[string]int{"forge": 1}), 0, 1000, nil); !ok {
		t.Fatal("threshold elapsed produced none")
	}
}

func TestCompute_InputConsumersExcluded(t *testing.T) {
	// An owned, unlocked building with a declared input contributes nothing,
	// regardless of count.
	res, ok := Compute(testCatalogs(), tuning.Defaults(), snapWith(map[string]int{"sawmill": 50}), 0, 3_600_000, nil)
	if !ok {
		t.Fatal("expected a result")
	}
	if got := gained(res, "plank"); got != 0 {
		t.Fatalf("input consumer produced offline: %v", got)
	}
}

func TestCompute_PerUnitIdleEfficiencyLayersUnderGlobal(t *testing.T) {
	// drowsy: 4/sec nominal, idle 0.25; global efficiency 0.5 over 1000s
	// elapsed: 4 * 1000 * 0.5 * 0.25 = 500.
	res, ok := Compute(testCatalogs(), tuning.Defaults(), snapWith(map[string]int{"drowsy": 1}), 0, 1_000_000, nil)
	if !ok {
		t.Fatal("expected a result")
	}
	if got := gained(res, "gold"); got != 500 {
		t.Fatalf("idle-efficiency gain: got %v want 500", got)
	}
}

func TestCompute_SnapshotUpgradesApply(t *testing.T) {
	// The x2 production upgrade in the snapshot doubles the offline rate.
	res, ok := Compute(testCatalogs(), tuning.Defaults(), snapWith(map[string]int{"forge": 1}, "bellows"), 0, 1_000_000, nil)
	if !ok {
		t.Fatal("expected a result")
	}
	if got := gained(res, "gold"); got != 9_000 {
		t.Fatalf("gain with upgrade: got %v want 9000", got)
	}
}

func TestCompute_MatchesLiveTicks(t *testing.T) {
	// With efficiency 1 and full idle output, the bulk offline answer must
	// match the engine ticking through the same wall-clock span.
	cats := testCatalogs()
	tune := tuning.Defaults()
	tune.Offline.Efficiency = 1

	st := snapWith(map[string]int{"forge": 3}, "bellows")
	res, ok := Compute(cats, tune, st, 0, 600_000, nil)
	if !ok {
		t.Fatal("expected a result")
	}

	eng := economy.New(economy.Config{Catalogs: cats, Tuning: tune, Seed: 1})
	eng.Import(st)
	for i := 0; i < 3000; i++ {
		eng.ProcessTick(200)
	}
	eng.FlushAccumulators()

	live, _ := eng.ResourceState("gold")
	bulk := gained(res, "gold")
	if math.Abs(live.Amount-bulk) > 1e-6*bulk {
		t.Fatalf("tick/offline divergence: live %v vs bulk %v", live.Amount, bulk)
	}
}

func TestApplyTo_TagsOfflineGains(t *testing.T) {
	cats := testCatalogs()
	eng := economy.New(economy.Config{Catalogs: cats, Tuning: tuning.Defaults(), Seed: 1})
	ApplyTo(eng, Result{Gained: []economy.ResourceAmount{{Resource: "gold", Amount: 42}}})
	r, _ := eng.ResourceState("gold")
	if r.Amount != 42 || r.Lifetime != 42 {
		t.Fatalf("offline credit: %+v", r)
	}
}
