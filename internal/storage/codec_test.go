package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"spellevo/internal/model"
)

func TestDecodeRunFixture(t *testing.T) {
	data := readFixture(t, "run_v1.json")
	run, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "run-fixture-1" || run.PopulationSize != 8 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.TestFitness == nil || *run.TestFitness != 0.58 {
		t.Fatalf("unexpected test fitness: %v", run.TestFitness)
	}
	if run.CreatedAt.Year() != 2026 {
		t.Fatalf("unexpected created_at: %v", run.CreatedAt)
	}
}

func TestDecodeChampionFixture(t *testing.T) {
	champion, err := DecodeChampion(readFixture(t, "champion_v1.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if champion.RunID != "run-fixture-1" || len(champion.Layers) != 2 {
		t.Fatalf("unexpected champion: %+v", champion)
	}
	if champion.Layers[1].Weights != nil {
		t.Fatalf("expected output layer without weights, got %+v", champion.Layers[1].Weights)
	}
}

func TestDecodeChampionVersionMismatch(t *testing.T) {
	_, err := DecodeChampion(readFixture(t, "champion_v0.json"))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestEncodeDecodeChampion(t *testing.T) {
	data, err := EncodeChampion(sampleChampion("run-1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	champion, err := DecodeChampion(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if champion.Layers[0].Weights[0][0] != 2 {
		t.Fatalf("unexpected weights: %+v", champion.Layers[0].Weights)
	}
}

func TestDecodeRunRejectsUnversioned(t *testing.T) {
	data, err := EncodeRun(model.RunRecord{ID: "run-1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(fixturePath(name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}
