package evo

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

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

func summarizeGeneration(members []*ScoredNetwork, generation, evaluations int, elapsed time.Duration) GenerationDiagnostics {
	diag := GenerationDiagnostics{
		Generation:  generation,
		Evaluations: evaluations,
		ElapsedMS:   elapsed.Milliseconds(),
	}
	if len(members) == 0 {
		return diag
	}

	scores := make([]float64, len(members))
	ages := make([]float64, len(members))
	best := members[0]
	top := members[0]
	for i, member := range members {
		scores[i] = member.Score
		ages[i] = member.Age
		if FitnessLess(*best, *member) {
			best = member
		}
		if PriorityLess(*top, *member) {
			top = member
		}
	}

	mean, std := stat.MeanStdDev(scores, nil)
	if len(scores) < 2 {
		std = 0
	}
	diag.BestFitness = best.Score
	diag.MeanFitness = mean
	diag.MinFitness = floats.Min(scores)
	diag.StdFitness = std
	diag.BestPriority = top.Priority()
	diag.MeanAge = stat.Mean(ages, nil)
	diag.MaxAge = floats.Max(ages)
	return diag
}
