package evo

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spellevo/internal/nn"
	"spellevo/internal/parallel"
)

type point struct {
	inputs []float64
	target float64
}

func (p point) NetworkInputs() []float64 { return p.inputs }

var closeness = ScorerFunc[point](func(p point, outputs []float64) float64 {
	return 1 - math.Abs(outputs[0]-p.target)
})

func xorDataset() []point {
	return []point{
		{inputs: []float64{0, 0}, target: 0},
		{inputs: []float64{0, 1}, target: 1},
		{inputs: []float64{1, 0}, target: 1},
		{inputs: []float64{1, 1}, target: 0},
	}
}

func newPointPool(t *testing.T, workers int) *ScoringPool[point] {
	t.Helper()
	pool, err := NewScoringPool[point](parallel.Config{Workers: workers})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func newTrainer(t *testing.T, pool *ScoringPool[point], size int, seed int64) *Trainer[point] {
	t.Helper()
	trainer, err := NewTrainer(context.Background(), TrainerConfig{
		PopulationSize: size,
		Shape:          nn.Shape{LayerSizes: []int{2, 3, 1}},
		Activation:     nn.SoftsignUnit,
		Seed:           seed,
	}, xorDataset(), Scorer[point](closeness), pool)
	require.NoError(t, err)
	return trainer
}

func isAge(age float64, maxGenerations int) bool {
	steps := (age - InitialAge) / AgeIncrement
	return steps >= 0 && steps == math.Trunc(steps) && int(steps) <= maxGenerations
}

func TestNewTrainerBuildsFreshPopulation(t *testing.T) {
	trainer := newTrainer(t, newPointPool(t, 3), 6, 1)

	members := trainer.Population()
	require.Len(t, members, 6)
	for _, m := range members {
		assert.Equal(t, InitialAge, m.Age)
		assert.False(t, math.IsNaN(m.Score))
	}
	assert.Equal(t, 0, trainer.Generation())
	assert.Equal(t, 6, trainer.Evaluations())
	require.Len(t, trainer.Diagnostics(), 1)
}

func TestTrainKeepsPopulationSize(t *testing.T) {
	for _, size := range []int{1, 2, 3, 7, 8} {
		trainer := newTrainer(t, newPointPool(t, 2), size, int64(size))
		for gen := 1; gen <= 6; gen++ {
			require.NoError(t, trainer.Train(context.Background(), 0.5, 1))
			assert.Len(t, trainer.Population(), size, "size=%d gen=%d", size, gen)
			assert.Equal(t, gen, trainer.Generation())
		}
	}
}

func TestTrainAgesOnlySurvivors(t *testing.T) {
	trainer := newTrainer(t, newPointPool(t, 4), 5, 3)
	const generations = 8
	for gen := 1; gen <= generations; gen++ {
		require.NoError(t, trainer.Train(context.Background(), 0.3, 1))
		fresh := 0
		for _, m := range trainer.Population() {
			assert.True(t, isAge(m.Age, gen), "age %v after generation %d", m.Age, gen)
			if m.Age == InitialAge {
				fresh++
			}
		}
		assert.Positive(t, fresh, "every generation adds at least one child")
	}
}

func TestTrainBestNeverRegresses(t *testing.T) {
	trainer := newTrainer(t, newPointPool(t, 4), 8, 11)
	initial := trainer.Best()

	require.NoError(t, trainer.Train(context.Background(), 0.5, 10))

	best := trainer.Best()
	assert.GreaterOrEqual(t, best.Score, initial.Score)

	history := trainer.Diagnostics()
	require.Len(t, history, 11)
	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i].BestFitness, history[i-1].BestFitness, "generation %d", i)
		assert.Equal(t, i, history[i].Generation)
	}
	assert.Equal(t, best.Score, history[len(history)-1].BestFitness)

	for _, m := range trainer.Population() {
		assert.LessOrEqual(t, m.Score, best.Score)
	}
}

func TestTrainIsDeterministicAcrossWorkerCounts(t *testing.T) {
	a := newTrainer(t, newPointPool(t, 1), 6, 42)
	b := newTrainer(t, newPointPool(t, 5), 6, 42)

	require.NoError(t, a.Train(context.Background(), 0.4, 7))
	require.NoError(t, b.Train(context.Background(), 0.4, 7))

	assert.Equal(t, a.Best(), b.Best())
	assert.Equal(t, a.Diagnostics()[7].MeanFitness, b.Diagnostics()[7].MeanFitness)
}

func TestTrainZeroIterationsAndRate(t *testing.T) {
	trainer := newTrainer(t, newPointPool(t, 2), 4, 5)
	before := trainer.Best()

	require.NoError(t, trainer.Train(context.Background(), 0.5, 0))
	assert.Equal(t, 0, trainer.Generation())

	require.NoError(t, trainer.Train(context.Background(), 0, 3))
	assert.Equal(t, before.Score, trainer.Best().Score)

	err := trainer.Train(context.Background(), -0.1, 1)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestTrainStopsOnCancelledContext(t *testing.T) {
	trainer := newTrainer(t, newPointPool(t, 2), 4, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := trainer.Train(ctx, 0.5, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, trainer.Generation())
	assert.Len(t, trainer.Population(), 4)
}

// interruptingScorer cancels a context on its trigger-th call and then blocks
// until the test ends, so the round in flight is abandoned.
type interruptingScorer struct {
	calls   atomic.Int64
	trigger int64
	cancel  context.CancelFunc
	release chan struct{}
}

func (s *interruptingScorer) Score(p point, outputs []float64) float64 {
	if s.calls.Add(1) == s.trigger {
		s.cancel()
		<-s.release
	}
	return closeness(p, outputs)
}

func memberScores(members []ScoredNetwork) []float64 {
	scores := make([]float64, len(members))
	for i, m := range members {
		scores[i] = m.Score
	}
	sort.Float64s(scores)
	return scores
}

func TestTrainInterruptedMidGenerationKeepsPopulation(t *testing.T) {
	examples := int64(len(xorDataset()))
	cases := map[string]struct {
		size int
		// child round, counted from 1, in which the scorer cancels
		childRound int64
	}{
		"single member":   {size: 1, childRound: 1},
		"several members": {size: 6, childRound: 3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			pool := newPointPool(t, 2)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			scorer := &interruptingScorer{
				trigger: int64(tc.size)*examples + (tc.childRound-1)*examples + 2,
				cancel:  cancel,
				release: make(chan struct{}),
			}
			t.Cleanup(func() { close(scorer.release) })

			trainer, err := NewTrainer(context.Background(), TrainerConfig{
				PopulationSize: tc.size,
				Shape:          nn.Shape{LayerSizes: []int{2, 3, 1}},
				Activation:     nn.SoftsignUnit,
				Seed:           13,
			}, xorDataset(), Scorer[point](scorer), pool)
			require.NoError(t, err)

			before := trainer.Population()
			bestBefore := trainer.Best()

			err = trainer.Train(ctx, 0.5, 2)
			require.Error(t, err)
			assert.ErrorIs(t, err, context.Canceled)
			assert.ErrorIs(t, err, parallel.ErrPoolCommunication)

			after := trainer.Population()
			require.Len(t, after, tc.size)
			for _, m := range after {
				assert.Equal(t, InitialAge, m.Age)
			}
			assert.Equal(t, memberScores(before), memberScores(after))
			assert.Equal(t, bestBefore.Score, trainer.Best().Score)
			assert.Equal(t, 0, trainer.Generation())
			assert.Len(t, trainer.Diagnostics(), 1)
		})
	}
}

func TestTrainerEvaluate(t *testing.T) {
	trainer := newTrainer(t, newPointPool(t, 2), 4, 9)
	best := trainer.Best()

	score, err := trainer.Evaluate(context.Background(), xorDataset())
	require.NoError(t, err)
	assert.InDelta(t, best.Score, score, 1e-12)

	_, err = trainer.Evaluate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNewTrainerValidation(t *testing.T) {
	pool := newPointPool(t, 1)
	valid := TrainerConfig{
		PopulationSize: 2,
		Shape:          nn.Shape{LayerSizes: []int{2, 1}},
		Activation:     nn.SoftsignUnit,
	}

	cases := map[string]struct {
		mutate  func(*TrainerConfig)
		dataset []point
		pool    *ScoringPool[point]
	}{
		"zero population": {mutate: func(c *TrainerConfig) { c.PopulationSize = 0 }, dataset: xorDataset(), pool: pool},
		"empty dataset":   {mutate: func(*TrainerConfig) {}, dataset: nil, pool: pool},
		"bad shape":       {mutate: func(c *TrainerConfig) { c.Shape = nn.Shape{LayerSizes: []int{2, 0}} }, dataset: xorDataset(), pool: pool},
		"input width":     {mutate: func(c *TrainerConfig) { c.Shape = nn.Shape{LayerSizes: []int{3, 1}} }, dataset: xorDataset(), pool: pool},
		"no activation":   {mutate: func(c *TrainerConfig) { c.Activation = nil }, dataset: xorDataset(), pool: pool},
		"no pool":         {mutate: func(*TrainerConfig) {}, dataset: xorDataset(), pool: nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := NewTrainer(context.Background(), cfg, tc.dataset, Scorer[point](closeness), tc.pool)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestTrainerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	trainer, err := NewTrainer(context.Background(), TrainerConfig{
		PopulationSize: 3,
		Shape:          nn.Shape{LayerSizes: []int{2, 1}},
		Activation:     nn.SoftsignUnit,
		Metrics:        metrics,
	}, xorDataset(), Scorer[point](closeness), newPointPool(t, 2))
	require.NoError(t, err)
	require.NoError(t, trainer.Train(context.Background(), 0.2, 4))

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.generations))
	assert.Equal(t, float64(trainer.Evaluations()), testutil.ToFloat64(metrics.scored))
	assert.Equal(t, trainer.Best().Score, testutil.ToFloat64(metrics.best))
}
