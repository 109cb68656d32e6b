package stats

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"spellevo/internal/model"
)

func sampleArtifacts(runID string) RunArtifacts {
	test := 0.55
	return RunArtifacts{
		Config: RunConfig{
			RunID:          runID,
			TrainFile:      "train.txt",
			PopulationSize: 4,
			Generations:    3,
			MutationRate:   0.5,
			Seed:           1,
			Workers:        2,
			Activation:     "softsign_unit",
			LayerSizes:     []int{20, 20, 1},
		},
		BestByGeneration: []float64{0.5, 0.6, 0.6, 0.7},
		GenerationDiagnostics: []model.GenerationDiagnostics{
			{Generation: 0, BestFitness: 0.5},
			{Generation: 3, BestFitness: 0.7},
		},
		FinalBestFitness: 0.7,
		TestFitness:      &test,
		Champion: model.ChampionRecord{
			RunID:      runID,
			Score:      0.7,
			Age:        1.25,
			LayerSizes: []int{1},
			Layers:     []model.NetworkLayer{{Biases: []float64{0.1}}},
		},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	runDir, err := WriteRunArtifacts(baseDir, sampleArtifacts(runID))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	files := append(append([]string(nil), runArtifactFiles...), optionalArtifactFiles...)
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg.PopulationSize != 4 || len(cfg.LayerSizes) != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	champion, ok, err := ReadChampion(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read champion: ok=%t err=%v", ok, err)
	}
	if champion.Age != 1.25 {
		t.Fatalf("unexpected champion: %+v", champion)
	}

	diagnostics, ok, err := ReadGenerationDiagnostics(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read diagnostics: ok=%t err=%v", ok, err)
	}
	if len(diagnostics) != 2 || diagnostics[1].Generation != 3 {
		t.Fatalf("unexpected diagnostics: %+v", diagnostics)
	}

	series, ok, err := ReadBenchmarkSeries(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read series: ok=%t err=%v", ok, err)
	}
	if len(series) != 4 || series[3] != 0.7 {
		t.Fatalf("unexpected series: %+v", series)
	}

	summary, ok, err := ReadBenchmarkSummary(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read summary: ok=%t err=%v", ok, err)
	}
	if math.Abs(summary.Improvement-0.2) > 1e-12 || summary.TestFitness == nil {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if _, err := ExportRunArtifacts(baseDir, "missing", outDir); err == nil {
		t.Fatal("expected export error for missing run")
	}
	if _, err := WriteRunArtifacts(baseDir, RunArtifacts{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestBuildBenchmarkSummary(t *testing.T) {
	summary := BuildBenchmarkSummary(RunConfig{RunID: "r"}, []float64{0.2, 0.4, 0.6}, nil)
	if summary.InitialBest != 0.2 || summary.FinalBest != 0.6 {
		t.Fatalf("unexpected endpoints: %+v", summary)
	}
	if math.Abs(summary.BestMean-0.4) > 1e-12 || math.Abs(summary.BestStd-0.2) > 1e-12 {
		t.Fatalf("unexpected mean/std: %+v", summary)
	}
	if summary.BestMin != 0.2 || summary.BestMax != 0.6 {
		t.Fatalf("unexpected min/max: %+v", summary)
	}

	single := BuildBenchmarkSummary(RunConfig{}, []float64{0.3}, nil)
	if single.BestStd != 0 || single.Improvement != 0 {
		t.Fatalf("unexpected single summary: %+v", single)
	}
}

func TestRunIndexOrdersNewestFirst(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{RunID: "b", CreatedAtUTC: "2026-01-02T00:00:00Z"},
		{RunID: "c", CreatedAtUTC: "2026-01-03T00:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z", FinalBestFitness: 0.9}); err != nil {
		t.Fatalf("replace a: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 3 || index[0].RunID != "c" || index[1].RunID != "b" || index[2].RunID != "a" {
		t.Fatalf("unexpected index order: %+v", index)
	}
	if index[2].FinalBestFitness != 0.9 {
		t.Fatalf("expected replaced entry, got %+v", index[2])
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestWriteRunConfigRejectsMismatch(t *testing.T) {
	baseDir := t.TempDir()
	if err := WriteRunConfig(baseDir, "run-1", RunConfig{}); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, ok, err := ReadRunConfig(baseDir, "run-1")
	if err != nil || !ok || cfg.RunID != "run-1" {
		t.Fatalf("unexpected config: ok=%t err=%v cfg=%+v", ok, err, cfg)
	}
	if err := WriteRunConfig(baseDir, "run-1", RunConfig{RunID: "run-2"}); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, ok, err := ReadRunConfig(baseDir, "missing"); err != nil || ok {
		t.Fatalf("expected missing config, ok=%t err=%v", ok, err)
	}
}
