// Package economy is the production core: the resource ledger, owned
// building state, purchase costing, per-tick production with fractional
// accumulators, unlock evaluation and prestige resets.
package economy

import (
	"log"
	"math/rand"

	"idleforge/internal/sim/catalogs"
	"idleforge/internal/sim/curve"
	"idleforge/internal/sim/events"
	"idleforge/internal/sim/multiplier"
	"idleforge/internal/sim/tuning"
)

// Multiplier stack keys the engine consults. Upgrades and external drivers
// write into these; anything else is free-form content space.
const (
	StackProduction     = "production"      // global production factor
	StackProductionUnit = "production:"     // + building id
	StackCost           = "cost"            // global cost reduction factor
	StackCostUnit       = "cost:"           // + building id
)

type Resource struct {
	ID       string
	Amount   float64
	Lifetime float64
	Unlocked bool
}

type Building struct {
	ID       string
	Count    int
	Unlocked bool
}

type Stats struct {
	TotalTicks    uint64
	PlaytimeMs    int64
	Purchases     int
	PrestigeCount int
}

type accKey struct {
	building string
	resource string
}

// Engine owns all mutable economy state. It is single-goroutine-owned: the
// embedding server serializes access through its run loop, and every
// mutation goes through the narrow APIs here so the ledger invariants
// (non-negative amounts, monotone lifetime totals) hold centrally.
type Engine struct {
	cats   *catalogs.Catalogs
	tune   tuning.Tuning
	eval   *curve.Evaluator
	mult   *multiplier.Aggregator
	bus    *events.Bus
	logger *log.Logger
	rng    *rand.Rand
	seed   int64

	resources map[string]*Resource
	buildings map[string]*Building
	upgrades  map[string]bool
	era       string
	prestige  int
	hour      int

	acc   map[accKey]float64
	rates map[string]float64

	stats Stats

	compiledCosts map[string][]compiledCost
}

type compiledCost struct {
	resource string
	base     float64
	curve    *curve.Curve
}

type Config struct {
	Catalogs *catalogs.Catalogs
	Tuning   tuning.Tuning
	Logger   *log.Logger
	Bus      *events.Bus

	// Seed drives the Bernoulli trials for chance-gated outputs. Identical
	// seed + identical tick stream reproduces the ledger bit for bit.
	Seed int64
}

func New(cfg Config) *Engine {
	e := &Engine{
		cats:          cfg.Catalogs,
		tune:          cfg.Tuning,
		logger:        cfg.Logger,
		bus:           cfg.Bus,
		rng:           rand.New(rand.NewSource(cfg.Seed)),
		seed:          cfg.Seed,
		resources:     make(map[string]*Resource),
		buildings:     make(map[string]*Building),
		upgrades:      make(map[string]bool),
		acc:           make(map[accKey]float64),
		rates:         make(map[string]float64),
		compiledCosts: make(map[string][]compiledCost),
	}
	e.eval = curve.NewEvaluator(cfg.Catalogs.Curves.Presets, cfg.Logger)
	e.mult = multiplier.NewAggregator(cfg.Logger, cfg.Catalogs.EraOrder, func(stackID string) {
		e.publish(events.Event{Kind: events.KindStackChanged, StackID: stackID})
		e.RecalcRates()
	})

	for _, id := range cfg.Catalogs.Resources.Order {
		def := cfg.Catalogs.Resources.Defs[id]
		e.resources[id] = &Resource{
			ID:       id,
			Amount:   def.StartAmount,
			Lifetime: def.StartAmount,
			Unlocked: def.StartUnlocked || def.StartAmount > 0,
		}
	}
	for _, id := range cfg.Catalogs.Buildings.Order {
		e.buildings[id] = &Building{ID: id}
	}
	if len(cfg.Catalogs.Eras.Order) > 0 {
		e.era = cfg.Catalogs.Eras.Order[0]
	}
	for id, def := range cfg.Catalogs.Buildings.Defs {
		cc := make([]compiledCost, 0, len(def.Costs))
		for _, cost := range def.Costs {
			cc = append(cc, compiledCost{
				resource: cost.Resource,
				base:     cost.Base,
				curve:    e.eval.Compile(cost.Curve),
			})
		}
		e.compiledCosts[id] = cc
	}

	e.CheckUnlocks()
	e.RecalcRates()
	return e
}

func (e *Engine) warnf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf("economy: "+format, args...)
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// Multipliers exposes the aggregator for external drivers (timed boosts,
// penalties). All mutation still flows through its narrow API.
func (e *Engine) Multipliers() *multiplier.Aggregator { return e.mult }

func (e *Engine) Stats() Stats { return e.stats }

func (e *Engine) Era() string { return e.era }

func (e *Engine) Prestige() int { return e.prestige }

// SetHour feeds the wall-clock hour used by hour-range conditions. The
// orchestrator calls this; the sim itself never reads the clock.
func (e *Engine) SetHour(hour int) {
	if e.hour == hour {
		return
	}
	e.hour = hour
	e.refreshConditions()
}

func (e *Engine) ResourceState(id string) (Resource, bool) {
	r, ok := e.resources[id]
	if !ok {
		return Resource{}, false
	}
	return *r, true
}

func (e *Engine) BuildingState(id string) (Building, bool) {
	b, ok := e.buildings[id]
	if !ok {
		return Building{}, false
	}
	return *b, true
}

func (e *Engine) UpgradeOwned(id string) bool { return e.upgrades[id] }

// refreshConditions pushes the current condition context into the
// aggregator. Conditional stacks are invalidated by the aggregator itself.
func (e *Engine) refreshConditions() {
	ctx := multiplier.Context{
		Resources: make(map[string]float64, len(e.resources)),
		Lifetime:  make(map[string]float64, len(e.resources)),
		Buildings: make(map[string]int, len(e.buildings)),
		Upgrades:  make(map[string]bool, len(e.upgrades)),
		EraOrder:  e.cats.EraOrder(e.era),
		Prestige:  e.prestige,
		Hour:      e.hour,
	}
	for id, r := range e.resources {
		ctx.Resources[id] = r.Amount
		ctx.Lifetime[id] = r.Lifetime
	}
	for id, b := range e.buildings {
		ctx.Buildings[id] = b.Count
	}
	for id, owned := range e.upgrades {
		ctx.Upgrades[id] = owned
	}
	e.mult.SetContext(ctx)
}
