package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMinimal(t *testing.T) {
	dir := writeConfigs(t, map[string]string{
		"resources.json": `[{"id":"gold","name":"Gold","start_unlocked":true}]`,
		"buildings.json": `[{"id":"mine","name":"Mine",
			"costs":[{"resource":"gold","base":10,"curve":{"kind":"constant","value":1}}],
			"outputs":[{"resource":"gold","base_amount":1,"interval_ms":1000}]}]`,
	})

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Resources.Order) != 1 || c.Resources.Order[0] != "gold" {
		t.Fatalf("resource order = %v", c.Resources.Order)
	}
	if c.Resources.Digest == "" || c.Buildings.Digest == "" {
		t.Fatalf("missing digests")
	}
	// Optional catalogs degrade to empty with a stable digest.
	if c.Upgrades.Defs == nil || c.Eras.Defs == nil || c.Curves.Presets == nil {
		t.Fatalf("optional catalogs not initialized")
	}
}

func TestLoadRejectsDanglingRefs(t *testing.T) {
	dir := writeConfigs(t, map[string]string{
		"resources.json": `[{"id":"gold","name":"Gold"}]`,
		"buildings.json": `[{"id":"mine","name":"Mine",
			"costs":[{"resource":"gems","base":10,"curve":{"kind":"constant","value":1}}],
			"outputs":[{"resource":"gold","base_amount":1,"interval_ms":1000}]}]`,
	})
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for unknown cost resource")
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	dir := writeConfigs(t, map[string]string{
		"resources.json": `[{"id":"gold","name":"Gold"}]`,
		"buildings.json": `[{"id":"mine","name":"Mine",
			"costs":[],
			"outputs":[{"resource":"gold","base_amount":1,"interval_ms":0}]}]`,
	})
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for non-positive interval")
	}
}

func TestEraOrderingAndLookup(t *testing.T) {
	dir := writeConfigs(t, map[string]string{
		"resources.json": `[{"id":"gold","name":"Gold"}]`,
		"buildings.json": `[]`,
		"eras.json":      `[{"id":"mythic","name":"Mythic","order":1},{"id":"stone","name":"Stone","order":0}]`,
	})
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Eras.Order[0] != "stone" || c.Eras.Order[1] != "mythic" {
		t.Fatalf("era order = %v", c.Eras.Order)
	}
	if got := c.EraOrder("mythic"); got != 1 {
		t.Fatalf("EraOrder(mythic) = %d", got)
	}
	if got := c.EraOrder("nope"); got != -1 {
		t.Fatalf("EraOrder(nope) = %d", got)
	}
}

func TestLoadShippedConfigs(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("Load shipped configs: %v", err)
	}
	if _, ok := c.Buildings.Defs["gold_mine"]; !ok {
		t.Fatalf("shipped configs missing gold_mine")
	}
	if _, ok := c.Curves.Presets["standard_cost"]; !ok {
		t.Fatalf("shipped configs missing standard_cost preset")
	}
}
