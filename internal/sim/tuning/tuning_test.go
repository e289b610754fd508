package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := "tick_ms: 100\noffline:\n  efficiency: 0.75\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tn, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tn.TickMs != 100 {
		t.Fatalf("TickMs = %d", tn.TickMs)
	}
	if tn.Offline.Efficiency != 0.75 {
		t.Fatalf("Efficiency = %v", tn.Offline.Efficiency)
	}
	// Unset fields fall back.
	if tn.FlushThreshold != 0.01 || tn.MaxBulkSearch != 1000 {
		t.Fatalf("defaults not applied: %+v", tn)
	}
	if tn.Offline.MinElapsedMs != 1000 || tn.Offline.MaxSeconds != 86400 {
		t.Fatalf("offline defaults not applied: %+v", tn.Offline)
	}
	if tn.Saves.BackupCount != 3 {
		t.Fatalf("BackupCount = %d", tn.Saves.BackupCount)
	}
}

func TestDefaults(t *testing.T) {
	tn := Defaults()
	if tn.TickMs != 200 || tn.AutosaveEverySec != 60 {
		t.Fatalf("unexpected defaults: %+v", tn)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("tick_ms: [oops"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
