// Package multiplier holds the active bonus/penalty entries that scale
// production and costs, grouped into named stacks, and aggregates each stack
// under its stacking rules with cached lookup.
package multiplier

import (
	"log"
	"sort"

	"idleforge/internal/sim/catalogs"
)

type Mode string

const (
	Additive       Mode = "additive"
	Multiplicative Mode = "multiplicative"
	Diminishing    Mode = "diminishing"
)

// Context is the condition snapshot multiplier conditions are evaluated
// against. The orchestrator refreshes it via Aggregator.SetContext whenever
// any constituent changes.
type Context struct {
	Resources map[string]float64
	Lifetime  map[string]float64
	Buildings map[string]int
	Upgrades  map[string]bool
	EraOrder  int
	Prestige  int
	Hour      int
}

type Entry struct {
	Source string
	Value  float64
	Mode   Mode

	// Unix milliseconds; 0 means no expiry.
	ExpiresAt int64

	Condition *catalogs.Requirement
}

type stack struct {
	entries []Entry

	cached   float64
	cacheOK  bool
}

// Aggregator owns all multiplier stacks. Like the rest of the engine it is
// single-goroutine-owned; no internal locking.
type Aggregator struct {
	stacks map[string]*stack
	ctx    Context
	logger *log.Logger

	// Resolves an era id to its ordinal; -1 for unknown. Supplied from the
	// loaded catalogs.
	eraOrder func(id string) int

	// Called with the affected stack id after any change that invalidates
	// its aggregate. May be nil.
	onChange func(stackID string)
}

func NewAggregator(logger *log.Logger, eraOrder func(id string) int, onChange func(stackID string)) *Aggregator {
	if eraOrder == nil {
		eraOrder = func(string) int { return -1 }
	}
	return &Aggregator{
		stacks:   make(map[string]*stack),
		logger:   logger,
		eraOrder: eraOrder,
		onChange: onChange,
	}
}

func (a *Aggregator) warnf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf("multiplier: "+format, args...)
	}
}

func (a *Aggregator) notify(stackID string) {
	if a.onChange != nil {
		a.onChange(stackID)
	}
}

// Add inserts or replaces the entry with the same source id in the stack.
func (a *Aggregator) Add(stackID string, e Entry) {
	s := a.stacks[stackID]
	if s == nil {
		s = &stack{}
		a.stacks[stackID] = s
	}
	for i := range s.entries {
		if s.entries[i].Source == e.Source {
			s.entries[i] = e
			s.cacheOK = false
			a.notify(stackID)
			return
		}
	}
	s.entries = append(s.entries, e)
	s.cacheOK = false
	a.notify(stackID)
}

// Remove drops the entry with the given source id. Returns whether an entry
// was removed.
func (a *Aggregator) Remove(stackID, source string) bool {
	s := a.stacks[stackID]
	if s == nil {
		return false
	}
	for i := range s.entries {
		if s.entries[i].Source == source {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			s.cacheOK = false
			a.notify(stackID)
			return true
		}
	}
	return false
}

// ProcessExpired purges entries whose expiry has passed and notifies per
// affected stack.
func (a *Aggregator) ProcessExpired(nowMs int64) {
	ids := make([]string, 0, len(a.stacks))
	for id := range a.stacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := a.stacks[id]
		kept := s.entries[:0]
		purged := false
		for _, e := range s.entries {
			if e.ExpiresAt != 0 && e.ExpiresAt <= nowMs {
				purged = true
				continue
			}
			kept = append(kept, e)
		}
		if purged {
			s.entries = kept
			s.cacheOK = false
			a.notify(id)
		}
	}
}

// SetContext replaces the condition context and invalidates every stack that
// has at least one conditional entry.
func (a *Aggregator) SetContext(ctx Context) {
	a.ctx = ctx
	for id, s := range a.stacks {
		for _, e := range s.entries {
			if e.Condition != nil {
				s.cacheOK = false
				a.notify(id)
				break
			}
		}
	}
}

// Value returns the aggregate for a stack. A stack with no valid entries, or
// one never written to, aggregates to the neutral factor 1.
//
// Entries of different modes within one stack combine multiplicatively:
// value = (1 + Σ additive) * (Π multiplicative) * (1 + S/(1+S)), S = Σ
// diminishing values. The diminishing form is monotone in added positive
// entries and bounded below 2.
func (a *Aggregator) Value(stackID string) float64 {
	s := a.stacks[stackID]
	if s == nil {
		return 1
	}
	if s.cacheOK {
		return s.cached
	}

	addSum := 0.0
	mulProd := 1.0
	dimSum := 0.0
	for _, e := range s.entries {
		if !a.entryValid(e) {
			continue
		}
		switch e.Mode {
		case Additive:
			addSum += e.Value
		case Multiplicative:
			mulProd *= e.Value
		case Diminishing:
			dimSum += e.Value
		default:
			a.warnf("stack %s: entry %s: unknown mode %q ignored", stackID, e.Source, e.Mode)
		}
	}
	v := (1 + addSum) * mulProd
	if dimSum != 0 {
		v *= 1 + dimSum/(1+dimSum)
	}
	s.cached = v
	s.cacheOK = true
	return v
}

func (a *Aggregator) entryValid(e Entry) bool {
	if e.Condition == nil {
		return true
	}
	return a.EvalRequirement(*e.Condition)
}

// EvalRequirement evaluates one requirement predicate against the current
// condition context. Unknown kinds degrade to false with a warning.
func (a *Aggregator) EvalRequirement(r catalogs.Requirement) bool {
	switch r.Kind {
	case catalogs.ReqResourceAmount:
		return a.ctx.Resources[r.Resource] >= r.Amount
	case catalogs.ReqLifetimeResource:
		return a.ctx.Lifetime[r.Resource] >= r.Amount
	case catalogs.ReqBuildingCount:
		return a.ctx.Buildings[r.Building] >= r.Count
	case catalogs.ReqUpgradeOwned:
		return a.ctx.Upgrades[r.Upgrade]
	case catalogs.ReqEraReached:
		need := a.eraOrder(r.Era)
		if need < 0 {
			a.warnf("era_reached: unknown era %q; evaluates false", r.Era)
			return false
		}
		return a.ctx.EraOrder >= need
	case catalogs.ReqPrestigeLevel:
		return a.ctx.Prestige >= r.Level
	case catalogs.ReqHourRange:
		if r.FromHour <= r.ToHour {
			return a.ctx.Hour >= r.FromHour && a.ctx.Hour < r.ToHour
		}
		// Wraps midnight, e.g. 22..6.
		return a.ctx.Hour >= r.FromHour || a.ctx.Hour < r.ToHour
	}
	a.warnf("unknown requirement kind %q; evaluates false", r.Kind)
	return false
}

// Stacks returns the ids of all stacks that currently exist, sorted.
func (a *Aggregator) Stacks() []string {
	ids := make([]string, 0, len(a.stacks))
	for id := range a.stacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
