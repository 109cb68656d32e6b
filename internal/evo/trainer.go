package evo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"spellevo/internal/nn"
)

type TrainerConfig struct {
	PopulationSize int
	Shape          nn.Shape
	Activation     nn.ActivationFunc
	Seed           int64
	Logger         *slog.Logger
	Metrics        *Metrics
}

// Trainer evolves a fixed-size population of networks against one dataset.
// Every generation each popped parent yields one mutated child; children are
// scored on the pool, parents are aged and carried forward with their
// stored score.
type Trainer[E Example] struct {
	cfg     TrainerConfig
	dataset []E
	scorer  Scorer[E]
	pool    *ScoringPool[E]
	logger  *slog.Logger

	mu          sync.Mutex
	rng         *rand.Rand
	population  *Population
	generation  int
	evaluations int
	history     []GenerationDiagnostics
}

// NewTrainer validates the configuration, then creates and scores
// PopulationSize random networks, one fork-join round each.
func NewTrainer[E Example](ctx context.Context, cfg TrainerConfig, dataset []E, scorer Scorer[E], pool *ScoringPool[E]) (*Trainer[E], error) {
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("%w: population size must be > 0", ErrInvalidConfiguration)
	}
	if len(dataset) == 0 {
		return nil, fmt.Errorf("%w: dataset is empty", ErrInvalidConfiguration)
	}
	if err := cfg.Shape.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	for i, example := range dataset {
		if got := len(example.NetworkInputs()); got != cfg.Shape.Inputs() {
			return nil, fmt.Errorf("%w: example %d has %d inputs, shape expects %d", ErrInvalidConfiguration, i, got, cfg.Shape.Inputs())
		}
	}
	if cfg.Activation == nil {
		return nil, fmt.Errorf("%w: activation is required", ErrInvalidConfiguration)
	}
	if scorer == nil {
		return nil, fmt.Errorf("%w: scorer is required", ErrInvalidConfiguration)
	}
	if pool == nil {
		return nil, fmt.Errorf("%w: scoring pool is required", ErrInvalidConfiguration)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	t := &Trainer[E]{
		cfg:        cfg,
		dataset:    dataset,
		scorer:     scorer,
		pool:       pool,
		logger:     logger,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		population: NewPopulation(cfg.PopulationSize),
	}

	started := time.Now()
	for i := 0; i < cfg.PopulationSize; i++ {
		network, err := nn.Randomized(cfg.Shape, t.rng)
		if err != nil {
			return nil, err
		}
		score, err := t.score(ctx, network)
		if err != nil {
			return nil, fmt.Errorf("score initial network %d: %w", i, err)
		}
		if err := t.population.Push(&ScoredNetwork{Score: score, Network: network, Age: InitialAge}); err != nil {
			return nil, err
		}
	}
	if t.population.Len() == 0 {
		panic("evo: empty population after construction")
	}

	diag := summarizeGeneration(t.population.Members(), 0, t.evaluations, time.Since(started))
	t.history = append(t.history, diag)
	logger.Debug("population initialized",
		"population", cfg.PopulationSize,
		"examples", len(dataset),
		"workers", pool.Workers(),
		"best", diag.BestFitness,
	)
	return t, nil
}

func (t *Trainer[E]) score(ctx context.Context, network nn.Network) (float64, error) {
	score, err := ScoreNetwork(ctx, t.pool, t.dataset, network, t.scorer, t.cfg.Activation)
	if err != nil {
		return 0, err
	}
	t.evaluations++
	t.cfg.Metrics.observeScored()
	return score, nil
}

// Train runs iterations generations. A failed scoring round aborts training
// and leaves the population of the last completed generation in place; the
// pool is broken after such a round, so training cannot continue on it.
func (t *Trainer[E]) Train(ctx context.Context, mutationRate float64, iterations int) error {
	if mutationRate < 0 {
		return fmt.Errorf("%w: mutation rate must be >= 0", ErrInvalidConfiguration)
	}
	if iterations < 0 {
		return fmt.Errorf("%w: iterations must be >= 0", ErrInvalidConfiguration)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()
		next, err := t.nextGeneration(ctx, mutationRate)
		if err != nil {
			return fmt.Errorf("generation %d: %w", t.generation+1, err)
		}
		t.population = next
		t.generation++

		elapsed := time.Since(started)
		diag := summarizeGeneration(next.Members(), t.generation, t.evaluations, elapsed)
		t.history = append(t.history, diag)
		t.cfg.Metrics.observeGeneration(diag, elapsed)
		t.logger.Debug("generation complete",
			"generation", t.generation,
			"best", diag.BestFitness,
			"mean", diag.MeanFitness,
			"mean_age", diag.MeanAge,
			"elapsed", elapsed,
		)
	}
	return nil
}

// nextGeneration builds the following generation without touching the
// current one: parents are popped from a copy of the heap and aged as copies.
// On error the current population is unchanged.
func (t *Trainer[E]) nextGeneration(ctx context.Context, mutationRate float64) (*Population, error) {
	size := t.cfg.PopulationSize
	current := t.population.clone()
	incumbent := current.Best()
	next := NewPopulation(size)
	carried := false

	for next.Len() < size {
		parent := current.PopHighest()
		if parent == nil {
			return nil, fmt.Errorf("population exhausted after %d members", next.Len())
		}
		child := parent.Network.Mutated(mutationRate, t.rng)
		score, err := t.score(ctx, child)
		if err != nil {
			return nil, err
		}
		if err := next.Push(&ScoredNetwork{Score: score, Network: child, Age: InitialAge}); err != nil {
			return nil, err
		}
		aged := *parent
		aged.Age += AgeIncrement
		if err := next.Push(&aged); err != nil {
			return nil, err
		}
		if parent == incumbent {
			carried = true
		}
	}

	if next.Len() > size {
		next.removeWeakest()
	}
	if !carried && incumbent != nil {
		aged := *incumbent
		aged.Age += AgeIncrement
		next.replaceWeakest(&aged)
	}
	return next, nil
}

// Best returns a copy of the member with the highest raw score. This is not
// necessarily the member with the highest Score/Age.
func (t *Trainer[E]) Best() ScoredNetwork {
	t.mu.Lock()
	defer t.mu.Unlock()

	best := t.population.Best()
	if best == nil {
		panic("evo: empty population")
	}
	return best.Clone()
}

// Population returns copies of the current members in heap order.
func (t *Trainer[E]) Population() []ScoredNetwork {
	t.mu.Lock()
	defer t.mu.Unlock()

	members := t.population.Members()
	out := make([]ScoredNetwork, len(members))
	for i, member := range members {
		out[i] = member.Clone()
	}
	return out
}

func (t *Trainer[E]) Generation() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

func (t *Trainer[E]) Evaluations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evaluations
}

// Diagnostics returns one entry per completed generation, starting with the
// initial population as generation 0.
func (t *Trainer[E]) Diagnostics() []GenerationDiagnostics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]GenerationDiagnostics(nil), t.history...)
}

// Evaluate scores the current best network against another dataset, such
// as a held-out test set.
func (t *Trainer[E]) Evaluate(ctx context.Context, dataset []E) (float64, error) {
	best := t.Best()
	return ScoreNetwork(ctx, t.pool, dataset, best.Network, t.scorer, t.cfg.Activation)
}
