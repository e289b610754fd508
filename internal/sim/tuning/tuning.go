package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickMs           int     `yaml:"tick_ms"`
	FlushThreshold   float64 `yaml:"flush_threshold"`
	MaxBulkSearch    int     `yaml:"max_bulk_search"`
	AutosaveEverySec int     `yaml:"autosave_every_sec"`

	Offline Offline `yaml:"offline"`
	Saves   Saves   `yaml:"saves"`
}

type Offline struct {
	MinElapsedMs int     `yaml:"min_elapsed_ms"`
	MaxSeconds   int     `yaml:"max_seconds"`
	Efficiency   float64 `yaml:"efficiency"`
}

type Saves struct {
	BackupCount int `yaml:"backup_count"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t.withDefaults(), nil
}

func Defaults() Tuning {
	return Tuning{}.withDefaults()
}

func (t Tuning) withDefaults() Tuning {
	if t.TickMs <= 0 {
		t.TickMs = 200
	}
	if t.FlushThreshold <= 0 {
		t.FlushThreshold = 0.01
	}
	if t.MaxBulkSearch <= 0 {
		t.MaxBulkSearch = 1000
	}
	if t.AutosaveEverySec <= 0 {
		t.AutosaveEverySec = 60
	}
	if t.Offline.MinElapsedMs <= 0 {
		t.Offline.MinElapsedMs = 1000
	}
	if t.Offline.MaxSeconds <= 0 {
		t.Offline.MaxSeconds = 86400
	}
	if t.Offline.Efficiency <= 0 {
		t.Offline.Efficiency = 0.5
	}
	if t.Saves.BackupCount <= 0 {
		t.Saves.BackupCount = 3
	}
	return t
}
