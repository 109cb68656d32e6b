package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"spellevo/internal/evo"
	"spellevo/internal/hostinfo"
	"spellevo/internal/model"
	"spellevo/internal/nn"
	"spellevo/internal/parallel"
	"spellevo/internal/spelling"
	"spellevo/internal/storage"
)

// ErrRunStopped is returned when a run was stopped through StopRun or Stop.
var ErrRunStopped = errors.New("run stopped")

type Config struct {
	Store          storage.Store
	Logger         *slog.Logger
	PoolMetrics    *parallel.Metrics
	TrainerMetrics *evo.Metrics
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

type TrainingConfig struct {
	RunID          string
	TrainFile      string
	TestFile       string
	Train          []spelling.Input
	Test           []spelling.Input
	PopulationSize int
	Generations    int
	// ChunkSize is the number of generations between progress reports.
	ChunkSize    int
	MutationRate float64
	Seed         int64
	Workers      int
	Activation   string
	LayerSizes   []int
	// RoundTimeout bounds a single generation; zero means no bound.
	RoundTimeout time.Duration
	OnChunk      func(ChunkProgress)
}

type ChunkProgress struct {
	RunID       string
	Generation  int
	Generations int
	BestFitness float64
	MeanFitness float64
	Elapsed     time.Duration
}

type TrainingResult struct {
	Run                   model.RunRecord
	Champion              model.ChampionRecord
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	Host                  hostinfo.Snapshot
}

// Polis owns the run-history store and the training runs executed against
// it.
type Polis struct {
	store  storage.Store
	logger *slog.Logger
	config Config

	mu             sync.RWMutex
	started        bool
	lastStopReason StopReason
	runs           map[string]context.CancelFunc
}

func NewPolis(cfg Config) *Polis {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Polis{
		store:          cfg.Store,
		logger:         logger,
		config:         cfg,
		runs:           make(map[string]context.CancelFunc),
		lastStopReason: StopReasonNormal,
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *Polis) Create(ctx context.Context) error {
	return p.Init(ctx)
}

// Reset stops active runs and clears the store.
func (p *Polis) Reset(ctx context.Context) error {
	_ = p.StopWithReason(StopReasonShutdown)
	if err := p.Init(ctx); err != nil {
		return err
	}
	return p.store.Reset(ctx)
}

func (p *Polis) Store() storage.Store {
	return p.store
}

func (p *Polis) Stop() {
	_ = p.StopWithReason(StopReasonNormal)
}

func (p *Polis) Shutdown() {
	_ = p.StopWithReason(StopReasonShutdown)
}

func (p *Polis) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	if !isValidStopReason(reason) {
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.runs {
		cancel()
	}
	p.started = false
	p.lastStopReason = reason
	p.runs = make(map[string]context.CancelFunc)
	return nil
}

func (p *Polis) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) LastStopReason() StopReason {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastStopReason
}

// RunTraining evolves a spelling classifier and persists the run. A run that
// is stopped or fails mid-way still persists what it reached, marked as
// aborted, and returns the partial result together with the error.
func (p *Polis) RunTraining(ctx context.Context, cfg TrainingConfig) (TrainingResult, error) {
	if err := validateTrainingConfig(cfg); err != nil {
		return TrainingResult{}, err
	}
	activation, err := nn.GetActivation(cfg.Activation)
	if err != nil {
		return TrainingResult{}, err
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 || chunk > cfg.Generations {
		chunk = max(cfg.Generations, 1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.registerRun(cfg.RunID, cancel); err != nil {
		return TrainingResult{}, err
	}
	defer p.unregisterRun(cfg.RunID)

	host := hostinfo.Collect(runCtx)
	logger := p.logger.With("run_id", cfg.RunID)
	logger.Info("run starting", append([]any{
		"train_examples", len(cfg.Train),
		"test_examples", len(cfg.Test),
		"population", cfg.PopulationSize,
		"generations", cfg.Generations,
	}, host.LogAttrs()...)...)

	pool, err := evo.NewScoringPool[spelling.Input](parallel.Config{Workers: cfg.Workers, Metrics: p.config.PoolMetrics})
	if err != nil {
		return TrainingResult{}, err
	}
	defer pool.Close()

	started := time.Now()
	trainer, err := evo.NewTrainer(runCtx, evo.TrainerConfig{
		PopulationSize: cfg.PopulationSize,
		Shape:          nn.Shape{LayerSizes: cfg.LayerSizes},
		Activation:     activation,
		Seed:           cfg.Seed,
		Logger:         logger,
		Metrics:        p.config.TrainerMetrics,
	}, cfg.Train, evo.Scorer[spelling.Input](spelling.Scorer{}), pool)
	if err != nil {
		return TrainingResult{}, stoppedOr(runCtx, ctx, err)
	}

	var trainErr error
	for trainer.Generation() < cfg.Generations && trainErr == nil {
		target := min(trainer.Generation()+chunk, cfg.Generations)
		for trainer.Generation() < target {
			if trainErr = p.trainGeneration(runCtx, trainer, cfg); trainErr != nil {
				break
			}
		}
		diagnostics := trainer.Diagnostics()
		last := diagnostics[len(diagnostics)-1]
		progress := ChunkProgress{
			RunID:       cfg.RunID,
			Generation:  trainer.Generation(),
			Generations: cfg.Generations,
			BestFitness: last.BestFitness,
			MeanFitness: last.MeanFitness,
			Elapsed:     time.Since(started),
		}
		logger.Info("chunk complete",
			"generation", progress.Generation,
			"best", progress.BestFitness,
			"mean", progress.MeanFitness,
			"elapsed", progress.Elapsed,
		)
		if cfg.OnChunk != nil {
			cfg.OnChunk(progress)
		}
	}
	trainErr = stoppedOr(runCtx, ctx, trainErr)

	best := trainer.Best()
	diagnostics := toModelDiagnostics(trainer.Diagnostics())
	record := model.RunRecord{
		VersionedRecord:    storage.CurrentVersion(),
		ID:                 cfg.RunID,
		CreatedAt:          started.UTC(),
		TrainFile:          cfg.TrainFile,
		TestFile:           cfg.TestFile,
		TrainExamples:      len(cfg.Train),
		TestExamples:       len(cfg.Test),
		PopulationSize:     cfg.PopulationSize,
		Generations:        trainer.Generation(),
		MutationRate:       cfg.MutationRate,
		Seed:               cfg.Seed,
		Workers:            pool.Workers(),
		Activation:         cfg.Activation,
		LayerSizes:         append([]int(nil), cfg.LayerSizes...),
		InitialBestFitness: diagnostics[0].BestFitness,
		BestFitness:        best.Score,
		Evaluations:        trainer.Evaluations(),
		Host:               host.CPUModel,
	}

	if trainErr == nil && len(cfg.Test) > 0 {
		testFitness, err := trainer.Evaluate(runCtx, cfg.Test)
		if err != nil {
			trainErr = stoppedOr(runCtx, ctx, fmt.Errorf("score test set: %w", err))
		} else {
			record.TestFitness = &testFitness
			logger.Info("test set scored", "test_fitness", testFitness)
		}
	}
	record.ElapsedMS = time.Since(started).Milliseconds()
	if trainErr != nil {
		record.Aborted = true
		record.Error = trainErr.Error()
	}

	result := TrainingResult{
		Run:                   record,
		Champion:              toChampionRecord(cfg.RunID, trainer.Generation(), cfg.Activation, best),
		BestByGeneration:      bestByGeneration(diagnostics),
		GenerationDiagnostics: diagnostics,
		Host:                  host,
	}
	// An interrupted run is still persisted.
	if err := p.persist(context.WithoutCancel(ctx), result); err != nil {
		return result, errors.Join(trainErr, err)
	}
	logger.Info("run finished",
		"generations", record.Generations,
		"best", record.BestFitness,
		"evaluations", record.Evaluations,
		"aborted", record.Aborted,
	)
	return result, trainErr
}

func (p *Polis) trainGeneration(ctx context.Context, trainer *evo.Trainer[spelling.Input], cfg TrainingConfig) error {
	if cfg.RoundTimeout <= 0 {
		return trainer.Train(ctx, cfg.MutationRate, 1)
	}
	genCtx, cancel := context.WithTimeout(ctx, cfg.RoundTimeout)
	defer cancel()
	return trainer.Train(genCtx, cfg.MutationRate, 1)
}

func (p *Polis) persist(ctx context.Context, result TrainingResult) error {
	runID := result.Run.ID
	if err := p.store.SaveRun(ctx, result.Run); err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	if err := p.store.SaveFitnessHistory(ctx, runID, result.BestByGeneration); err != nil {
		return fmt.Errorf("save fitness history %s: %w", runID, err)
	}
	if err := p.store.SaveGenerationDiagnostics(ctx, runID, result.GenerationDiagnostics); err != nil {
		return fmt.Errorf("save diagnostics %s: %w", runID, err)
	}
	if err := p.store.SaveChampion(ctx, result.Champion); err != nil {
		return fmt.Errorf("save champion %s: %w", runID, err)
	}
	return nil
}

func validateTrainingConfig(cfg TrainingConfig) error {
	if len(cfg.Train) == 0 {
		return fmt.Errorf("%w: training set is empty", evo.ErrInvalidConfiguration)
	}
	if cfg.PopulationSize <= 0 {
		return fmt.Errorf("%w: population size must be > 0", evo.ErrInvalidConfiguration)
	}
	if cfg.Generations < 0 {
		return fmt.Errorf("%w: generations must be >= 0", evo.ErrInvalidConfiguration)
	}
	if cfg.MutationRate < 0 {
		return fmt.Errorf("%w: mutation rate must be >= 0", evo.ErrInvalidConfiguration)
	}
	return nil
}

// stoppedOr reports ErrRunStopped when the run context was cancelled by
// StopRun rather than by the caller.
func stoppedOr(runCtx, parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if runCtx.Err() != nil && parent.Err() == nil {
		return fmt.Errorf("%w: %w", ErrRunStopped, err)
	}
	return err
}

func (p *Polis) registerRun(runID string, cancel context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return fmt.Errorf("polis is not initialized")
	}
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	p.runs[runID] = cancel
	return nil
}

func (p *Polis) unregisterRun(runID string) {
	p.mu.Lock()
	delete(p.runs, runID)
	p.mu.Unlock()
}

func isValidStopReason(reason StopReason) bool {
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
		return true
	default:
		return false
	}
}
