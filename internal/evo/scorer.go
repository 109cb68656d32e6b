package evo

import (
	"context"
	"errors"
	"fmt"

	"spellevo/internal/nn"
	"spellevo/internal/parallel"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

// Example is one labeled dataset entry.
type Example interface {
	NetworkInputs() []float64
}

// Scorer rates the outputs a network produced for one example; higher is
// better. It is called concurrently from pool workers.
type Scorer[E Example] interface {
	Score(example E, outputs []float64) float64
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc[E Example] func(example E, outputs []float64) float64

func (f ScorerFunc[E]) Score(example E, outputs []float64) float64 {
	return f(example, outputs)
}

// ScoringContext is broadcast to every item of a scoring round. The network
// is cloned per item.
type ScoringContext[E Example] struct {
	network    nn.Network
	activation nn.ActivationFunc
	scorer     Scorer[E]
}

func (c ScoringContext[E]) Clone() ScoringContext[E] {
	c.network = c.network.Clone()
	return c
}

type partialScore struct {
	sum   float64
	count int
	err   error
}

// mergeScores keeps every example error through errors.Join, so errors.Is
// sees the same failures whatever order the round combines results in.
func mergeScores(a, b partialScore) partialScore {
	return partialScore{
		sum:   a.sum + b.sum,
		count: a.count + b.count,
		err:   errors.Join(a.err, b.err),
	}
}

func scoreExample[E Example](c ScoringContext[E], example E) partialScore {
	outputs, err := c.network.Apply(example.NetworkInputs(), c.activation)
	if err != nil {
		return partialScore{count: 1, err: err}
	}
	return partialScore{sum: c.scorer.Score(example, outputs), count: 1}
}

// ScoringPool is a worker pool that scores one network against dataset
// examples, one example per item.
type ScoringPool[E Example] struct {
	pool *parallel.Pool[ScoringContext[E], E, partialScore]
}

func NewScoringPool[E Example](cfg parallel.Config) (*ScoringPool[E], error) {
	pool, err := parallel.NewPool[ScoringContext[E], E, partialScore](scoreExample[E], cfg)
	if err != nil {
		return nil, err
	}
	return &ScoringPool[E]{pool: pool}, nil
}

func (p *ScoringPool[E]) Workers() int {
	return p.pool.Workers()
}

func (p *ScoringPool[E]) Close() error {
	return p.pool.Close()
}

// ScoreNetwork returns the mean per-example score of network over dataset,
// computed in one fork-join round.
func ScoreNetwork[E Example](ctx context.Context, pool *ScoringPool[E], dataset []E, network nn.Network, scorer Scorer[E], activation nn.ActivationFunc) (float64, error) {
	if pool == nil {
		return 0, fmt.Errorf("%w: scoring pool is required", ErrInvalidConfiguration)
	}
	if len(dataset) == 0 {
		return 0, fmt.Errorf("%w: dataset is empty", ErrInvalidConfiguration)
	}
	if scorer == nil {
		return 0, fmt.Errorf("%w: scorer is required", ErrInvalidConfiguration)
	}
	if activation == nil {
		return 0, fmt.Errorf("%w: activation is required", ErrInvalidConfiguration)
	}

	total, err := pool.pool.ExecAndCollect(ctx, dataset, partialScore{}, mergeScores, ScoringContext[E]{
		network:    network,
		activation: activation,
		scorer:     scorer,
	})
	if err != nil {
		return 0, err
	}
	if total.err != nil {
		return 0, fmt.Errorf("score network: %w", total.err)
	}
	if total.count != len(dataset) {
		return 0, fmt.Errorf("%w: collected %d scores for %d examples", parallel.ErrPoolCommunication, total.count, len(dataset))
	}
	return total.sum / float64(len(dataset)), nil
}
