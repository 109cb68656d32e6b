package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one training run.
type RunRecord struct {
	VersionedRecord
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	TrainFile          string    `json:"train_file"`
	TestFile           string    `json:"test_file,omitempty"`
	TrainExamples      int       `json:"train_examples"`
	TestExamples       int       `json:"test_examples"`
	PopulationSize     int       `json:"population_size"`
	Generations        int       `json:"generations"`
	MutationRate       float64   `json:"mutation_rate"`
	Seed               int64     `json:"seed"`
	Workers            int       `json:"workers"`
	Activation         string    `json:"activation"`
	LayerSizes         []int     `json:"layer_sizes"`
	InitialBestFitness float64   `json:"initial_best_fitness"`
	BestFitness        float64   `json:"best_fitness"`
	TestFitness        *float64  `json:"test_fitness,omitempty"`
	Evaluations        int       `json:"evaluations"`
	ElapsedMS          int64     `json:"elapsed_ms"`
	Host               string    `json:"host,omitempty"`
	// Aborted is set when training stopped before the requested generations.
	Aborted bool   `json:"aborted,omitempty"`
	Error   string `json:"error,omitempty"`
}

type GenerationDiagnostics struct {
	Generation   int     `json:"generation"`
	BestFitness  float64 `json:"best_fitness"`
	MeanFitness  float64 `json:"mean_fitness"`
	MinFitness   float64 `json:"min_fitness"`
	StdFitness   float64 `json:"std_fitness"`
	BestPriority float64 `json:"best_priority"`
	MeanAge      float64 `json:"mean_age"`
	MaxAge       float64 `json:"max_age"`
	Evaluations  int     `json:"evaluations"`
	ElapsedMS    int64   `json:"elapsed_ms"`
}

type NetworkLayer struct {
	Biases  []float64   `json:"biases"`
	Weights [][]float64 `json:"weights,omitempty"`
}

// ChampionRecord is the best network of a finished run. It is kept for
// inspection and word checks; it does not restore a trainer.
type ChampionRecord struct {
	VersionedRecord
	RunID      string         `json:"run_id"`
	Generation int            `json:"generation"`
	Score      float64        `json:"score"`
	Age        float64        `json:"age"`
	Activation string         `json:"activation"`
	LayerSizes []int          `json:"layer_sizes"`
	Layers     []NetworkLayer `json:"layers"`
}
