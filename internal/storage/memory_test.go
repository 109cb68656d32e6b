package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	err := store.SaveRun(context.Background(), sampleRun("run-1", time.Now()))
	if err == nil {
		t.Fatal("expected error before init")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	champion := sampleChampion("run-1")
	if err := store.SaveChampion(ctx, champion); err != nil {
		t.Fatalf("save champion: %v", err)
	}
	champion.Layers[0].Biases[0] = 99

	loaded, _, err := store.GetChampion(ctx, "run-1")
	if err != nil {
		t.Fatalf("get champion: %v", err)
	}
	if loaded.Layers[0].Biases[0] != 0.5 {
		t.Fatalf("stored champion aliased caller slice: %v", loaded.Layers[0].Biases)
	}
	loaded.Layers[1].Biases[0] = 99

	again, _, _ := store.GetChampion(ctx, "run-1")
	if again.Layers[1].Biases[0] != 0.25 {
		t.Fatalf("returned champion aliased stored slice: %v", again.Layers[1].Biases)
	}
}
