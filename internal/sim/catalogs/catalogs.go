// Package catalogs loads the declarative content definitions the economy
// core interprets: resources, production buildings, upgrades, eras and curve
// presets. Catalogs are loaded once at startup and treated as read-only.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"idleforge/internal/sim/curve"
)

type Catalogs struct {
	Resources ResourceCatalog
	Buildings BuildingCatalog
	Upgrades  UpgradeCatalog
	Eras      EraCatalog
	Curves    CurveCatalog
}

type ResourceCatalog struct {
	Defs   map[string]ResourceDef
	Order  []string // sorted ids, for deterministic iteration
	Digest string
}

type ResourceDef struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	StartUnlocked bool    `json:"start_unlocked,omitempty"`
	StartAmount   float64 `json:"start_amount,omitempty"`
}

type BuildingCatalog struct {
	Defs   map[string]BuildingDef
	Order  []string
	Digest string
}

type BuildingDef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Era  string `json:"era,omitempty"`

	// 0 means unlimited.
	MaxOwned int `json:"max_owned,omitempty"`

	Costs   []CostDef     `json:"costs"`
	Outputs []OutputDef   `json:"outputs"`
	Inputs  []InputDef    `json:"inputs,omitempty"`
	Unlock  []Requirement `json:"unlock,omitempty"`

	// Scope for prestige resets; buildings outside the named scope keep
	// their counts across a reset of that scope.
	ResetScope string `json:"reset_scope,omitempty"`
}

type CostDef struct {
	Resource string    `json:"resource"`
	Base     float64   `json:"base"`
	Curve    curve.Def `json:"curve"`
}

type OutputDef struct {
	Resource   string  `json:"resource"`
	BaseAmount float64 `json:"base_amount"`
	IntervalMs int     `json:"interval_ms"`

	// Bernoulli gate per tick when < 1; 0 or omitted means always.
	Chance float64 `json:"chance,omitempty"`

	// Fraction of output granted while offline; 0 or omitted means 1.
	IdleEfficiency float64 `json:"idle_efficiency,omitempty"`
}

type InputDef struct {
	Resource   string  `json:"resource"`
	BaseAmount float64 `json:"base_amount"`
	IntervalMs int     `json:"interval_ms"`
}

type UpgradeCatalog struct {
	Defs   map[string]UpgradeDef
	Order  []string
	Digest string
}

type UpgradeDef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Era  string `json:"era,omitempty"`

	Costs   []CostDef     `json:"costs"`
	Unlock  []Requirement `json:"unlock,omitempty"`
	Effects []Effect      `json:"effects"`
}

// Effect is a multiplier contribution granted while the upgrade is owned.
type Effect struct {
	Stack     string       `json:"stack"`
	Value     float64      `json:"value"`
	Mode      string       `json:"mode"` // additive|multiplicative|diminishing
	Condition *Requirement `json:"condition,omitempty"`
}

type EraCatalog struct {
	Defs   map[string]EraDef
	Order  []string // by ascending Order field
	Digest string
}

type EraDef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type CurveCatalog struct {
	Presets map[string]curve.Def
	Digest  string
}

// Requirement is the closed tagged variant used for unlock gates and
// multiplier conditions. Kind selects which fields apply; evaluation of an
// unknown kind degrades to false with a warning, never an error.
type Requirement struct {
	Kind string `json:"kind"`

	Resource string  `json:"resource,omitempty"` // resource_amount, lifetime_resource
	Amount   float64 `json:"amount,omitempty"`

	Building string `json:"building,omitempty"` // building_count
	Count    int    `json:"count,omitempty"`

	Upgrade string `json:"upgrade,omitempty"` // upgrade_owned
	Era     string `json:"era,omitempty"`     // era_reached
	Level   int    `json:"level,omitempty"`   // prestige_level

	FromHour int `json:"from_hour,omitempty"` // hour_range (inclusive)
	ToHour   int `json:"to_hour,omitempty"`   // hour_range (exclusive)
}

const (
	ReqResourceAmount   = "resource_amount"
	ReqLifetimeResource = "lifetime_resource"
	ReqBuildingCount    = "building_count"
	ReqUpgradeOwned     = "upgrade_owned"
	ReqEraReached       = "era_reached"
	ReqPrestigeLevel    = "prestige_level"
	ReqHourRange        = "hour_range"
)

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadResources(filepath.Join(configDir, "resources.json"), &c.Resources); err != nil {
		return nil, err
	}
	if err := loadCurves(filepath.Join(configDir, "curves.json"), &c.Curves); err != nil {
		return nil, err
	}
	if err := loadEras(filepath.Join(configDir, "eras.json"), &c.Eras); err != nil {
		return nil, err
	}
	if err := loadBuildings(filepath.Join(configDir, "buildings.json"), &c.Buildings); err != nil {
		return nil, err
	}
	if err := loadUpgrades(filepath.Join(configDir, "upgrades.json"), &c.Upgrades); err != nil {
		return nil, err
	}

	if err := c.validateRefs(); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sortedIDs[T any](m map[string]T) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func loadResources(path string, out *ResourceCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ResourceDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("resources.json: %w", err)
	}
	out.Defs = map[string]ResourceDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("resources.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("resources.json: duplicate id %q", d.ID)
		}
		out.Defs[d.ID] = d
	}
	out.Order = sortedIDs(out.Defs)
	return nil
}

func loadBuildings(path string, out *BuildingCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []BuildingDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("buildings.json: %w", err)
	}
	out.Defs = map[string]BuildingDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("buildings.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("buildings.json: duplicate id %q", d.ID)
		}
		for _, o := range d.Outputs {
			if o.IntervalMs <= 0 {
				return fmt.Errorf("buildings.json: %s: output %s: interval_ms must be positive", d.ID, o.Resource)
			}
		}
		for _, in := range d.Inputs {
			if in.IntervalMs <= 0 {
				return fmt.Errorf("buildings.json: %s: input %s: interval_ms must be positive", d.ID, in.Resource)
			}
		}
		out.Defs[d.ID] = d
	}
	out.Order = sortedIDs(out.Defs)
	return nil
}

func loadUpgrades(path string, out *UpgradeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		// Upgrades are optional content.
		if os.IsNotExist(err) {
			out.Defs = map[string]UpgradeDef{}
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []UpgradeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("upgrades.json: %w", err)
	}
	out.Defs = map[string]UpgradeDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("upgrades.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("upgrades.json: duplicate id %q", d.ID)
		}
		out.Defs[d.ID] = d
	}
	out.Order = sortedIDs(out.Defs)
	return nil
}

func loadEras(path string, out *EraCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Defs = map[string]EraDef{}
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []EraDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("eras.json: %w", err)
	}
	out.Defs = map[string]EraDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("eras.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("eras.json: duplicate id %q", d.ID)
		}
		out.Defs[d.ID] = d
	}
	out.Order = sortedIDs(out.Defs)
	sort.SliceStable(out.Order, func(i, j int) bool {
		return out.Defs[out.Order[i]].Order < out.Defs[out.Order[j]].Order
	})
	return nil
}

func loadCurves(path string, out *CurveCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Presets = map[string]curve.Def{}
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	out.Presets = map[string]curve.Def{}
	if err := json.Unmarshal(raw, &out.Presets); err != nil {
		return fmt.Errorf("curves.json: %w", err)
	}
	return nil
}

// validateRefs rejects catalogs whose cross-references point at nothing.
// Curve preset references are deliberately not checked here: the evaluator
// degrades those at evaluation time per its contract.
func (c *Catalogs) validateRefs() error {
	for _, id := range c.Buildings.Order {
		b := c.Buildings.Defs[id]
		if b.Era != "" {
			if _, ok := c.Eras.Defs[b.Era]; !ok {
				return fmt.Errorf("building %s: unknown era %q", id, b.Era)
			}
		}
		for _, cost := range b.Costs {
			if _, ok := c.Resources.Defs[cost.Resource]; !ok {
				return fmt.Errorf("building %s: cost references unknown resource %q", id, cost.Resource)
			}
		}
		for _, o := range b.Outputs {
			if _, ok := c.Resources.Defs[o.Resource]; !ok {
				return fmt.Errorf("building %s: output references unknown resource %q", id, o.Resource)
			}
		}
		for _, in := range b.Inputs {
			if _, ok := c.Resources.Defs[in.Resource]; !ok {
				return fmt.Errorf("building %s: input references unknown resource %q", id, in.Resource)
			}
		}
	}
	for _, id := range c.Upgrades.Order {
		u := c.Upgrades.Defs[id]
		for _, cost := range u.Costs {
			if _, ok := c.Resources.Defs[cost.Resource]; !ok {
				return fmt.Errorf("upgrade %s: cost references unknown resource %q", id, cost.Resource)
			}
		}
		if u.Era != "" {
			if _, ok := c.Eras.Defs[u.Era]; !ok {
				return fmt.Errorf("upgrade %s: unknown era %q", id, u.Era)
			}
		}
	}
	return nil
}

// EraOrder returns the ordinal of an era id, or -1 when unknown.
func (c *Catalogs) EraOrder(id string) int {
	if d, ok := c.Eras.Defs[id]; ok {
		return d.Order
	}
	return -1
}
