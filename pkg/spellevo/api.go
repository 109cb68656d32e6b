package spellevo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"spellevo/internal/evo"
	"spellevo/internal/hostinfo"
	"spellevo/internal/model"
	"spellevo/internal/nn"
	"spellevo/internal/parallel"
	"spellevo/internal/platform"
	"spellevo/internal/spelling"
	"spellevo/internal/stats"
	"spellevo/internal/storage"
)

const (
	defaultBenchmarksDir = "benchmarks"
	defaultExportsDir    = "exports"
	defaultDBPath        = "spellevo.db"

	// indexTimeLayout keeps a fixed width so index timestamps sort as strings.
	indexTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	DefaultPopulation   = 50
	DefaultGenerations  = 100
	DefaultMutationRate = 0.5
)

// DefaultLayers is the network shape used when a request names none.
var DefaultLayers = []int{spelling.Width, 20, 1}

type Options struct {
	StoreKind     string
	DBPath        string
	BenchmarksDir string
	ExportsDir    string
	Logger        *slog.Logger
	// Registerer receives pool and trainer metrics; nil disables them.
	Registerer prometheus.Registerer
}

type Client struct {
	store     storage.Store
	storeKind string
	polis     *platform.Polis
	logger    *slog.Logger

	poolMetrics    *parallel.Metrics
	trainerMetrics *evo.Metrics

	benchmarksDir string
	exportsDir    string
}

type TrainRequest struct {
	RunID        string
	TrainFile    string
	TestFile     string
	Population   int
	Generations  int
	Chunk        int
	MutationRate float64
	Seed         int64
	Workers      int
	Activation   string
	Layers       []int
	RoundTimeout time.Duration
	OnProgress   func(Progress)
}

type Progress struct {
	RunID       string
	Generation  int
	Generations int
	BestFitness float64
	MeanFitness float64
	Elapsed     time.Duration
}

type TrainSummary struct {
	RunID            string
	ArtifactsDir     string
	BestByGeneration []float64
	InitialBest      float64
	FinalBest        float64
	TestFitness      *float64
	Generations      int
	Evaluations      int
	Workers          int
	Elapsed          time.Duration
	Aborted          bool
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	TrainFile        string
	Seed             int64
	Population       int
	Generations      int
	Workers          int
	FinalBestFitness float64
}

// RunRef selects a run by id or the most recent one.
type RunRef struct {
	RunID  string
	Latest bool
}

type FitnessHistoryRequest struct {
	RunRef
	Limit int
}

type DiagnosticsRequest struct {
	RunRef
	Limit int
}

type CheckRequest struct {
	RunRef
	Words []string
}

type CheckResult struct {
	Word    string
	Output  float64
	Correct bool
}

type ExportRequest struct {
	RunRef
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type BenchmarkRequest struct {
	Train       TrainRequest
	Runs        int
	FitnessGoal *float64
	Notes       string
}

type BenchmarkSummary struct {
	ExperimentID string
	RunIDs       []string
	Report       stats.ExperimentReport
}

type GenerateRequest struct {
	WordsFile           string
	OutDir              string
	Seed                int64
	TestFraction        float64
	MisspellingsPerWord int
}

type InfoSummary struct {
	Host           hostinfo.Snapshot
	DefaultWorkers int
	Activations    []string
	StoreKind      string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	benchmarksDir := opts.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		poolMetrics    *parallel.Metrics
		trainerMetrics *evo.Metrics
	)
	if opts.Registerer != nil {
		var err error
		if poolMetrics, err = parallel.NewMetrics(opts.Registerer); err != nil {
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
		if trainerMetrics, err = evo.NewMetrics(opts.Registerer); err != nil {
			return nil, fmt.Errorf("register trainer metrics: %w", err)
		}
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:          store,
		storeKind:      storeKind,
		logger:         logger,
		poolMetrics:    poolMetrics,
		trainerMetrics: trainerMetrics,
		benchmarksDir:  benchmarksDir,
		exportsDir:     exportsDir,
	}, nil
}

func (c *Client) Close() error {
	if c.polis != nil {
		c.polis.Shutdown()
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

// Reset clears the run-history store. Artifact directories are left alone.
func (c *Client) Reset(ctx context.Context) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.Reset(ctx)
}

// Train reads the corpora, evolves a classifier and writes the run's
// artifacts. A stopped or failed run returns its partial summary with the
// error.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if req.TrainFile == "" {
		return TrainSummary{}, errors.New("train file is required")
	}
	if req.Population <= 0 {
		req.Population = DefaultPopulation
	}
	if req.Generations < 0 {
		return TrainSummary{}, errors.New("generations must be >= 0")
	}
	if req.Activation == "" {
		req.Activation = nn.DefaultActivation
	}
	if len(req.Layers) == 0 {
		req.Layers = append([]int(nil), DefaultLayers...)
	}

	train, err := spelling.ReadFile(req.TrainFile)
	if err != nil {
		return TrainSummary{}, err
	}
	var test []spelling.Input
	if req.TestFile != "" {
		if test, err = spelling.ReadFile(req.TestFile); err != nil {
			return TrainSummary{}, err
		}
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return TrainSummary{}, err
	}

	cfg := platform.TrainingConfig{
		RunID:          req.RunID,
		TrainFile:      req.TrainFile,
		TestFile:       req.TestFile,
		Train:          train,
		Test:           test,
		PopulationSize: req.Population,
		Generations:    req.Generations,
		ChunkSize:      req.Chunk,
		MutationRate:   req.MutationRate,
		Seed:           req.Seed,
		Workers:        req.Workers,
		Activation:     req.Activation,
		LayerSizes:     req.Layers,
		RoundTimeout:   req.RoundTimeout,
	}
	if req.OnProgress != nil {
		cfg.OnChunk = func(progress platform.ChunkProgress) {
			req.OnProgress(Progress(progress))
		}
	}

	result, trainErr := p.RunTraining(ctx, cfg)
	if result.Run.ID == "" {
		return TrainSummary{}, trainErr
	}

	runDir, err := c.writeArtifacts(cfg, result)
	if err != nil {
		return TrainSummary{}, errors.Join(trainErr, err)
	}

	return TrainSummary{
		RunID:            result.Run.ID,
		ArtifactsDir:     filepath.Clean(runDir),
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		InitialBest:      result.Run.InitialBestFitness,
		FinalBest:        result.Run.BestFitness,
		TestFitness:      result.Run.TestFitness,
		Generations:      result.Run.Generations,
		Evaluations:      result.Run.Evaluations,
		Workers:          result.Run.Workers,
		Elapsed:          time.Duration(result.Run.ElapsedMS) * time.Millisecond,
		Aborted:          result.Run.Aborted,
	}, trainErr
}

func (c *Client) writeArtifacts(cfg platform.TrainingConfig, result platform.TrainingResult) (string, error) {
	runDir, err := stats.WriteRunArtifacts(c.benchmarksDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          result.Run.ID,
			TrainFile:      cfg.TrainFile,
			TestFile:       cfg.TestFile,
			PopulationSize: cfg.PopulationSize,
			Generations:    cfg.Generations,
			ChunkSize:      cfg.ChunkSize,
			MutationRate:   cfg.MutationRate,
			Seed:           cfg.Seed,
			Workers:        result.Run.Workers,
			Activation:     cfg.Activation,
			LayerSizes:     cfg.LayerSizes,
			RoundTimeoutMS: cfg.RoundTimeout.Milliseconds(),
		},
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: result.GenerationDiagnostics,
		FinalBestFitness:      result.Run.BestFitness,
		TestFitness:           result.Run.TestFitness,
		Champion:              result.Champion,
	})
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.benchmarksDir, stats.RunIndexEntry{
		RunID:            result.Run.ID,
		TrainFile:        cfg.TrainFile,
		PopulationSize:   cfg.PopulationSize,
		Generations:      result.Run.Generations,
		Seed:             cfg.Seed,
		Workers:          result.Run.Workers,
		FinalBestFitness: result.Run.BestFitness,
		CreatedAtUTC:     result.Run.CreatedAt.UTC().Format(indexTimeLayout),
	}); err != nil {
		return "", err
	}
	return runDir, nil
}

// Benchmark repeats one training configuration with consecutive seeds and
// aggregates the final results.
func (c *Client) Benchmark(ctx context.Context, req BenchmarkRequest) (BenchmarkSummary, error) {
	if req.Runs <= 0 {
		return BenchmarkSummary{}, errors.New("benchmark runs must be > 0")
	}
	exp := stats.BenchmarkExperiment{
		ID:           uuid.NewString(),
		Notes:        req.Notes,
		TotalRuns:    req.Runs,
		StartedAtUTC: time.Now().UTC().Format(indexTimeLayout),
		FitnessGoal:  req.FitnessGoal,
	}
	if err := stats.WriteBenchmarkExperiment(c.benchmarksDir, exp); err != nil {
		return BenchmarkSummary{}, err
	}

	for i := 0; i < req.Runs; i++ {
		run := req.Train
		run.RunID = ""
		run.Seed = req.Train.Seed + int64(i)
		summary, err := c.Train(ctx, run)
		if summary.RunID != "" {
			exp.RunIDs = append(exp.RunIDs, summary.RunID)
			benchmark, ok, readErr := stats.ReadBenchmarkSummary(c.benchmarksDir, summary.RunID)
			if readErr != nil {
				return BenchmarkSummary{}, readErr
			}
			if ok {
				exp.Summaries = append(exp.Summaries, benchmark)
			}
		}
		if err != nil {
			exp.Interruptions = append(exp.Interruptions, fmt.Sprintf("run %d (seed %d): %v", i+1, run.Seed, err))
			report := stats.BuildExperimentReport(exp.Summaries, req.FitnessGoal)
			exp.Report = &report
			_ = stats.WriteBenchmarkExperiment(c.benchmarksDir, exp)
			return BenchmarkSummary{ExperimentID: exp.ID, RunIDs: exp.RunIDs, Report: report}, err
		}
	}

	report := stats.BuildExperimentReport(exp.Summaries, req.FitnessGoal)
	exp.Report = &report
	exp.CompletedAtUTC = time.Now().UTC().Format(indexTimeLayout)
	if err := stats.WriteBenchmarkExperiment(c.benchmarksDir, exp); err != nil {
		return BenchmarkSummary{}, err
	}
	return BenchmarkSummary{ExperimentID: exp.ID, RunIDs: exp.RunIDs, Report: report}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			CreatedAtUTC:     e.CreatedAtUTC,
			TrainFile:        e.TrainFile,
			Seed:             e.Seed,
			Population:       e.PopulationSize,
			Generations:      e.Generations,
			Workers:          e.Workers,
			FinalBestFitness: e.FinalBestFitness,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunRef, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// FitnessHistory returns the best score per generation, starting with the
// initial population. The store is consulted first, then the run artifacts.
func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunRef, "fitness history")
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}

	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if history, ok, err = stats.ReadBenchmarkSeries(c.benchmarksDir, runID); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunRef, "diagnostics")
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}

	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.benchmarksDir, runID); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) Champion(ctx context.Context, ref RunRef) (model.ChampionRecord, error) {
	runID, err := c.resolveRunID(ref, "champion")
	if err != nil {
		return model.ChampionRecord{}, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return model.ChampionRecord{}, err
	}

	champion, ok, err := c.store.GetChampion(ctx, runID)
	if err != nil {
		return model.ChampionRecord{}, err
	}
	if !ok {
		if champion, ok, err = stats.ReadChampion(c.benchmarksDir, runID); err != nil {
			return model.ChampionRecord{}, err
		}
	}
	if !ok {
		return model.ChampionRecord{}, fmt.Errorf("champion not found for run id: %s", runID)
	}
	return champion, nil
}

// Check scores words with a run's champion network.
func (c *Client) Check(ctx context.Context, req CheckRequest) ([]CheckResult, error) {
	champion, err := c.Champion(ctx, req.RunRef)
	if err != nil {
		return nil, err
	}
	network, activation, err := platform.ChampionNetwork(champion)
	if err != nil {
		return nil, fmt.Errorf("champion %s: %w", champion.RunID, err)
	}

	out := make([]CheckResult, 0, len(req.Words))
	for _, word := range req.Words {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		outputs, err := network.Apply(spelling.Encode(word), activation)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", word, err)
		}
		out = append(out, CheckResult{
			Word:    word,
			Output:  outputs[0],
			Correct: spelling.Verdict(outputs[0]),
		})
	}
	return out, nil
}

// Generate writes train.txt and test.txt built from a list of correctly
// spelled words, one per line.
func (c *Client) Generate(_ context.Context, req GenerateRequest) ([]string, error) {
	if req.WordsFile == "" {
		return nil, errors.New("words file is required")
	}
	f, err := os.Open(req.WordsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		words = append(words, strings.Fields(scanner.Text())...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	corpus, err := spelling.Generate(words, req.Seed, spelling.GenerateOptions{
		TestFraction:        req.TestFraction,
		MisspellingsPerWord: req.MisspellingsPerWord,
	})
	if err != nil {
		return nil, err
	}
	return spelling.WriteCorpusFiles(req.OutDir, corpus)
}

func (c *Client) Info(ctx context.Context) InfoSummary {
	return InfoSummary{
		Host:           hostinfo.Collect(ctx),
		DefaultWorkers: parallel.DefaultWorkers(),
		Activations:    nn.ListActivations(),
		StoreKind:      c.storeKind,
	}
}

func (c *Client) resolveRunID(ref RunRef, what string) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if !ref.Latest {
		if ref.RunID == "" {
			return "", fmt.Errorf("%s requires run id or latest", what)
		}
		return ref.RunID, nil
	}
	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{
		Store:          c.store,
		Logger:         c.logger,
		PoolMetrics:    c.poolMetrics,
		TrainerMetrics: c.trainerMetrics,
	})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}
