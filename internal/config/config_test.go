package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	got := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if got != Default() {
		t.Fatalf("Load of missing file = %+v, want Default()", got)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.ContentionMethod = NaiveRandomAccess
	cfg.MaxNumCandidateSlots = 100

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := Load(path)
	if got != cfg {
		t.Fatalf("Load() = %+v, want %+v", got, cfg)
	}
}
