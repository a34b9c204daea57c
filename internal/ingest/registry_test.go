package ingest

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRegistryEmbedded(t *testing.T) {
	reg, err := LoadRegistry("does-not-exist.yaml")
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.Sources) == 0 {
		t.Fatal("no sources in embedded registry")
	}

	src := reg.Sources[0]
	if src.ID != "NEN" || !src.Enabled {
		t.Errorf("first source = %+v", src)
	}
	if src.NEN.MaxPages != 5 {
		t.Errorf("config = %+v", src.NEN)
	}
	if src.NEN.MaxDetailPerRun == nil || *src.NEN.MaxDetailPerRun != 150 {
		t.Errorf("max_detail_per_run = %v", src.NEN.MaxDetailPerRun)
	}
	if src.NEN.DelayMin != 0.5 || src.NEN.DelayMax != 1.0 {
		t.Errorf("delays = %v/%v", src.NEN.DelayMin, src.NEN.DelayMax)
	}
}

func TestLoadRegistryPathOverridesEmbedded(t *testing.T) {
	override := filepath.Join(t.TempDir(), "sources.yaml")
	yaml := `sources:
  - id: NEN
    name: Override
    enabled: true
    start_url: https://example.test
    max_pages: 2
`
	if err := os.WriteFile(override, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadRegistry(override)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(reg.Sources))
	}
	if reg.Sources[0].Name != "Override" || reg.Sources[0].NEN.MaxPages != 2 {
		t.Errorf("override not applied: %+v", reg.Sources[0])
	}
}

func TestBuildAdapters(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	reg := &Registry{Sources: []SourceConfig{
		{ID: "NEN", Enabled: true},
		{ID: "OTHER", Enabled: false}, // disabled: never instantiated
	}}
	adapters, err := reg.BuildAdapters(logger)
	if err != nil {
		t.Fatal(err)
	}
	if len(adapters) != 1 {
		t.Fatalf("adapters = %d, want 1", len(adapters))
	}
	if adapters[0].SourceID() != "NEN" {
		t.Errorf("source = %s", adapters[0].SourceID())
	}

	reg.Sources[1].Enabled = true
	if _, err := reg.BuildAdapters(logger); err == nil {
		t.Error("unknown enabled source must fail")
	}
}
