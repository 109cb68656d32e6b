package evo

import (
	"math"

	"spellevo/internal/nn"
)

const (
	// InitialAge is the age of every freshly scored network.
	InitialAge = 1.0
	// AgeIncrement is added to a parent each generation it survives.
	AgeIncrement = 0.125
)

// ScoredNetwork binds a network to the mean fitness it reached on the
// training set. Score is never recomputed lazily; only Age changes while a
// parent survives.
type ScoredNetwork struct {
	Score   float64    `json:"score"`
	Network nn.Network `json:"network"`
	Age     float64    `json:"age"`
}

// Priority is the age-discounted score used to pick the next parent.
func (s ScoredNetwork) Priority() float64 {
	return s.Score / s.Age
}

func (s ScoredNetwork) Clone() ScoredNetwork {
	s.Network = s.Network.Clone()
	return s
}

// FitnessLess orders by raw score. It decides the best network.
func FitnessLess(a, b ScoredNetwork) bool {
	return scoreLess(a.Score, b.Score)
}

// PriorityLess orders by Score/Age. It decides replacement order inside a
// Population.
func PriorityLess(a, b ScoredNetwork) bool {
	return scoreLess(a.Priority(), b.Priority())
}

// scoreLess is a total order on float64 with NaN below every number.
func scoreLess(a, b float64) bool {
	if math.IsNaN(a) {
		return !math.IsNaN(b)
	}
	if math.IsNaN(b) {
		return false
	}
	return a < b
}
