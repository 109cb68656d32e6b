package storage

import (
	"context"
	"testing"
	"time"

	"spellevo/internal/model"
)

func sampleRun(id string, created time.Time) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              id,
		CreatedAt:       created,
		TrainFile:       "train.txt",
		PopulationSize:  8,
		Generations:     10,
		MutationRate:    0.5,
		Activation:      "softsign_unit",
		LayerSizes:      []int{20, 20, 1},
		BestFitness:     0.75,
	}
}

func sampleChampion(runID string) model.ChampionRecord {
	return model.ChampionRecord{
		VersionedRecord: CurrentVersion(),
		RunID:           runID,
		Generation:      10,
		Score:           0.75,
		Age:             1.125,
		Activation:      "softsign_unit",
		LayerSizes:      []int{2, 1},
		Layers: []model.NetworkLayer{
			{Biases: []float64{0.5, -1}, Weights: [][]float64{{2}, {3}}},
			{Biases: []float64{0.25}},
		},
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}

	run, ok, err := store.GetRun(ctx, "run-b")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || run.ID != "run-b" || len(run.LayerSizes) != 3 || !run.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected run: ok=%t %+v", ok, run)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, got ok=%t err=%v", ok, err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-c" || runs[2].ID != "run-a" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	history := []float64{0.1, 0.2, 0.3}
	if err := store.SaveFitnessHistory(ctx, "run-a", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	gotHistory, ok, err := store.GetFitnessHistory(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get history: ok=%t err=%v", ok, err)
	}
	if len(gotHistory) != 3 || gotHistory[2] != 0.3 {
		t.Fatalf("unexpected history: %+v", gotHistory)
	}

	diagnostics := []model.GenerationDiagnostics{
		{Generation: 0, BestFitness: 0.5, MeanFitness: 0.4},
		{Generation: 1, BestFitness: 0.6, MeanFitness: 0.45, MeanAge: 1.0625},
	}
	if err := store.SaveGenerationDiagnostics(ctx, "run-a", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	gotDiagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get diagnostics: ok=%t err=%v", ok, err)
	}
	if len(gotDiagnostics) != 2 || gotDiagnostics[1].MeanAge != 1.0625 {
		t.Fatalf("unexpected diagnostics: %+v", gotDiagnostics)
	}

	if err := store.SaveChampion(ctx, sampleChampion("run-a")); err != nil {
		t.Fatalf("save champion: %v", err)
	}
	champion, ok, err := store.GetChampion(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get champion: ok=%t err=%v", ok, err)
	}
	if champion.Age != 1.125 || len(champion.Layers) != 2 || champion.Layers[0].Weights[1][0] != 3 {
		t.Fatalf("unexpected champion: %+v", champion)
	}
	if _, ok, err := store.GetChampion(ctx, "run-b"); err != nil || ok {
		t.Fatalf("expected no champion for run-b, got ok=%t err=%v", ok, err)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err = store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list after reset: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs after reset, got %d", len(runs))
	}
	if _, ok, _ := store.GetFitnessHistory(ctx, "run-a"); ok {
		t.Fatal("expected history removed by reset")
	}
}
