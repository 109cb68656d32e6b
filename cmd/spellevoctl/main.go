package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"

	"spellevo/internal/storage"
	"spellevo/pkg/spellevo"
)

const (
	benchmarksDir = "benchmarks"
	exportsDir    = "exports"
	defaultDBPath = "spellevo.db"
)

var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "benchmark":
		return runBenchmark(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "champion":
		return runChampion(ctx, args[1:])
	case "check":
		return runCheck(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "generate":
		return runGenerate(ctx, args[1:])
	case "info":
		return runInfo(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// clientFlags are shared by every command that opens the run store.
type clientFlags struct {
	storeKind *string
	dbPath    *string
	logLevel  *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", defaultDBPath, "sqlite database path"),
		logLevel:  fs.String("log-level", "warn", "log level: debug|info|warn|error"),
	}
}

func (f clientFlags) open(registerer prometheus.Registerer) (*spellevo.Client, error) {
	logger, err := newLogger(*f.logLevel)
	if err != nil {
		return nil, err
	}
	return spellevo.New(spellevo.Options{
		StoreKind:     *f.storeKind,
		DBPath:        *f.dbPath,
		BenchmarksDir: benchmarksDir,
		ExportsDir:    exportsDir,
		Logger:        logger,
		Registerer:    registerer,
	})
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "initialized store=%s\n", *cf.storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "reset store=%s\n", *cf.storeKind)
	return nil
}

// trainFlags registers the training flags and returns a function that builds
// the request once the flag set has been parsed.
func trainFlags(fs *flag.FlagSet) func() (spellevo.TrainRequest, error) {
	configPath := fs.String("config", "", "optional training config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	trainFile := fs.String("train", "", "training examples: one \"word true|false\" per line")
	testFile := fs.String("test", "", "held-out examples scored with the champion (optional)")
	population := fs.Int("pop", spellevo.DefaultPopulation, "population size")
	generations := fs.Int("gens", spellevo.DefaultGenerations, "generation count")
	chunk := fs.Int("chunk", 0, "generations between progress reports (0 reports once)")
	mutationRate := fs.Float64("mutation-rate", spellevo.DefaultMutationRate, "probability that a weight or bias is perturbed")
	seed := fs.Int64("seed", 1, "rng seed")
	workers := fs.Int("workers", 0, "worker count (0 uses the machine's cores)")
	activation := fs.String("activation", "", "activation function name (see info)")
	layers := fs.String("layers", "", "comma separated layer sizes, input first (default 20,20,1)")
	roundTimeout := fs.Duration("round-timeout", 0, "bound on a single generation (0 disables)")

	return func() (spellevo.TrainRequest, error) {
		setFlags := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) {
			setFlags[f.Name] = true
		})

		req, err := loadOrDefaultTrainRequest(*configPath)
		if err != nil {
			return spellevo.TrainRequest{}, err
		}
		if *configPath == "" {
			req = spellevo.TrainRequest{
				RunID:        *runID,
				TrainFile:    *trainFile,
				TestFile:     *testFile,
				Population:   *population,
				Generations:  *generations,
				Chunk:        *chunk,
				MutationRate: *mutationRate,
				Seed:         *seed,
				Workers:      *workers,
				Activation:   *activation,
				RoundTimeout: *roundTimeout,
			}
			setFlags["layers"] = *layers != ""
		}

		flagValue := map[string]any{
			"run-id":        *runID,
			"train":         *trainFile,
			"test":          *testFile,
			"pop":           *population,
			"gens":          *generations,
			"chunk":         *chunk,
			"mutation-rate": *mutationRate,
			"seed":          *seed,
			"workers":       *workers,
			"activation":    *activation,
			"layers":        *layers,
			"round-timeout": *roundTimeout,
		}
		if err := overrideFromFlags(&req, setFlags, flagValue); err != nil {
			return spellevo.TrainRequest{}, err
		}
		return req, nil
	}
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	cf := addClientFlags(fs)
	buildRequest := trainFlags(fs)
	metricsAddr := fs.String("metrics-addr", "", "serve prometheus metrics on this address while training")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := buildRequest()
	if err != nil {
		return err
	}
	if req.TrainFile == "" {
		return errors.New("train requires --train or a config with train_file")
	}

	var registry *prometheus.Registry
	if *metricsAddr != "" {
		registry = prometheus.NewRegistry()
	}
	client, err := cf.open(registererOrNil(registry))
	if err != nil {
		return err
	}
	defer client.Close()

	if !*jsonOut {
		req.OnProgress = func(p spellevo.Progress) {
			fmt.Fprintf(stdout, "generation=%d/%d best=%.6f mean=%.6f elapsed=%s\n",
				p.Generation, p.Generations, p.BestFitness, p.MeanFitness, p.Elapsed.Round(time.Millisecond))
		}
	}

	var summary spellevo.TrainSummary
	trainErr := withMetricsServer(ctx, *metricsAddr, registry, func(ctx context.Context) error {
		var err error
		summary, err = client.Train(ctx, req)
		return err
	})
	if summary.RunID == "" {
		return trainErr
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
		return trainErr
	}

	testDisplay := "n/a"
	if summary.TestFitness != nil {
		testDisplay = fmt.Sprintf("%.6f", *summary.TestFitness)
	}
	fmt.Fprintf(stdout, "run_id=%s generations=%d initial_best=%.6f final_best=%.6f test_fitness=%s evaluations=%s workers=%d elapsed=%s aborted=%t\n",
		summary.RunID,
		summary.Generations,
		summary.InitialBest,
		summary.FinalBest,
		testDisplay,
		humanize.Comma(int64(summary.Evaluations)),
		summary.Workers,
		summary.Elapsed.Round(time.Millisecond),
		summary.Aborted,
	)
	fmt.Fprintf(stdout, "artifacts=%s\n", summary.ArtifactsDir)
	return trainErr
}

func runBenchmark(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("benchmark", flag.ContinueOnError)
	cf := addClientFlags(fs)
	buildRequest := trainFlags(fs)
	runs := fs.Int("runs", 5, "number of seeds to train, starting at --seed")
	goal := fs.Float64("fitness-goal", 0, "final best fitness counted as a success (0 counts every run)")
	notes := fs.String("notes", "", "free-form notes stored with the experiment")
	metricsAddr := fs.String("metrics-addr", "", "serve prometheus metrics on this address while training")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := buildRequest()
	if err != nil {
		return err
	}
	if req.TrainFile == "" {
		return errors.New("benchmark requires --train or a config with train_file")
	}

	var registry *prometheus.Registry
	if *metricsAddr != "" {
		registry = prometheus.NewRegistry()
	}
	client, err := cf.open(registererOrNil(registry))
	if err != nil {
		return err
	}
	defer client.Close()

	bench := spellevo.BenchmarkRequest{Train: req, Runs: *runs, Notes: *notes}
	if *goal > 0 {
		bench.FitnessGoal = goal
	}

	var summary spellevo.BenchmarkSummary
	benchErr := withMetricsServer(ctx, *metricsAddr, registry, func(ctx context.Context) error {
		var err error
		summary, err = client.Benchmark(ctx, bench)
		return err
	})
	if summary.ExperimentID == "" {
		return benchErr
	}

	report := summary.Report
	fmt.Fprintf(stdout, "experiment_id=%s runs=%d success_runs=%d success_rate=%.3f final_best_mean=%.6f final_best_std=%.6f final_best_min=%.6f final_best_max=%.6f\n",
		summary.ExperimentID,
		report.TotalRuns,
		report.SuccessRuns,
		report.SuccessRate,
		report.FinalBestMean,
		report.FinalBestStd,
		report.FinalBestMin,
		report.FinalBestMax,
	)
	if report.TestRuns > 0 {
		fmt.Fprintf(stdout, "test_mean=%.6f test_runs=%d\n", report.TestMean, report.TestRuns)
	}
	for _, id := range summary.RunIDs {
		fmt.Fprintf(stdout, "run_id=%s\n", id)
	}
	return benchErr
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := spellevo.New(spellevo.Options{StoreKind: "memory", BenchmarksDir: benchmarksDir})
	if err != nil {
		return err
	}
	defer client.Close()

	items, err := client.Runs(ctx, spellevo.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}

	for _, item := range items {
		created := item.CreatedAtUTC
		if at, err := time.Parse(time.RFC3339Nano, item.CreatedAtUTC); err == nil {
			created = humanize.Time(at)
		}
		fmt.Fprintf(stdout, "run_id=%s created=%q train=%s seed=%d pop=%d gens=%d workers=%d final_best_fitness=%.6f\n",
			item.RunID,
			created,
			item.TrainFile,
			item.Seed,
			item.Population,
			item.Generations,
			item.Workers,
			item.FinalBestFitness,
		)
	}
	return nil
}

func runRefFlags(fs *flag.FlagSet) func() spellevo.RunRef {
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	return func() spellevo.RunRef {
		return spellevo.RunRef{RunID: *runID, Latest: *latest}
	}
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	cf := addClientFlags(fs)
	ref := runRefFlags(fs)
	limit := fs.Int("limit", 0, "max generations to show (0 shows all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	history, err := client.FitnessHistory(ctx, spellevo.FitnessHistoryRequest{RunRef: ref(), Limit: *limit})
	if err != nil {
		return err
	}
	for i, best := range history {
		fmt.Fprintf(stdout, "generation=%d best_fitness=%.6f\n", i, best)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	cf := addClientFlags(fs)
	ref := runRefFlags(fs)
	limit := fs.Int("limit", 0, "max generations to show (0 shows all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	diagnostics, err := client.Diagnostics(ctx, spellevo.DiagnosticsRequest{RunRef: ref(), Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Fprintf(stdout, "generation=%d best=%.6f mean=%.6f min=%.6f std=%.6f best_priority=%.6f mean_age=%.3f max_age=%.3f evaluations=%s elapsed_ms=%d\n",
			d.Generation,
			d.BestFitness,
			d.MeanFitness,
			d.MinFitness,
			d.StdFitness,
			d.BestPriority,
			d.MeanAge,
			d.MaxAge,
			humanize.Comma(int64(d.Evaluations)),
			d.ElapsedMS,
		)
	}
	return nil
}

func runChampion(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("champion", flag.ContinueOnError)
	cf := addClientFlags(fs)
	ref := runRefFlags(fs)
	jsonOut := fs.Bool("json", false, "emit the full champion record as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	champion, err := client.Champion(ctx, ref())
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(champion)
	}
	fmt.Fprintf(stdout, "run_id=%s generation=%d score=%.6f age=%.3f activation=%s layers=%s\n",
		champion.RunID,
		champion.Generation,
		champion.Score,
		champion.Age,
		champion.Activation,
		formatLayers(champion.LayerSizes),
	)
	return nil
}

// runCheck classifies words given as arguments. Without arguments it reads
// words from stdin, prompting when stdin is a terminal.
func runCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	cf := addClientFlags(fs)
	ref := runRefFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	check := func(words []string) error {
		results, err := client.Check(ctx, spellevo.CheckRequest{RunRef: ref(), Words: words})
		if err != nil {
			return err
		}
		for _, r := range results {
			verdict := "misspelled"
			if r.Correct {
				verdict = "correct"
			}
			fmt.Fprintf(stdout, "word=%s output=%.6f verdict=%s\n", r.Word, r.Output, verdict)
		}
		return nil
	}

	if fs.NArg() > 0 {
		return check(fs.Args())
	}

	interactive := stdinIsTerminal()
	scanner := bufio.NewScanner(stdin)
	for {
		if interactive {
			fmt.Fprint(stdout, "word> ")
		}
		if !scanner.Scan() {
			break
		}
		words := strings.Fields(scanner.Text())
		if len(words) == 0 {
			continue
		}
		if err := check(words); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func stdinIsTerminal() bool {
	f, ok := stdin.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	ref := runRefFlags(fs)
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := spellevo.New(spellevo.Options{StoreKind: "memory", BenchmarksDir: benchmarksDir, ExportsDir: exportsDir})
	if err != nil {
		return err
	}
	defer client.Close()

	exported, err := client.Export(ctx, spellevo.ExportRequest{RunRef: ref(), OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	wordsFile := fs.String("words", "", "file of correctly spelled words")
	outDir := fs.String("out", "data", "output directory for train.txt and test.txt")
	seed := fs.Int64("seed", 1, "rng seed")
	testFraction := fs.Float64("test-fraction", 0.2, "share of examples written to test.txt")
	misspellings := fs.Int("misspellings", 1, "misspelled variants per word")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := spellevo.New(spellevo.Options{StoreKind: "memory", BenchmarksDir: benchmarksDir})
	if err != nil {
		return err
	}
	defer client.Close()

	paths, err := client.Generate(ctx, spellevo.GenerateRequest{
		WordsFile:           *wordsFile,
		OutDir:              *outDir,
		Seed:                *seed,
		TestFraction:        *testFraction,
		MisspellingsPerWord: *misspellings,
	})
	if err != nil {
		return err
	}
	for _, path := range paths {
		fmt.Fprintf(stdout, "wrote %s\n", path)
	}
	return nil
}

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit host info as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := spellevo.New(spellevo.Options{StoreKind: "memory", BenchmarksDir: benchmarksDir})
	if err != nil {
		return err
	}
	defer client.Close()

	info := client.Info(ctx)
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	host := info.Host
	fmt.Fprintf(stdout, "cpu=%q physical_cores=%d logical_cores=%d gomaxprocs=%d default_workers=%d\n",
		host.CPUModel, host.PhysicalCores, host.LogicalCores, host.GOMAXPROCS, info.DefaultWorkers)
	fmt.Fprintf(stdout, "memory_total=%s memory_available=%s memory_used=%.1f%% cpu_used=%.1f%%\n",
		humanize.IBytes(host.TotalMemory), humanize.IBytes(host.AvailMemory), host.MemoryPercent, host.CPUPercent)
	fmt.Fprintf(stdout, "go=%s default_store=%s activations=%s\n",
		host.GoVersion, storage.DefaultStoreKind(), strings.Join(info.Activations, ","))
	for _, w := range host.Warnings {
		fmt.Fprintf(stdout, "warning=%q\n", w)
	}
	return nil
}

func formatLayers(sizes []int) string {
	parts := make([]string, len(sizes))
	for i, size := range sizes {
		parts[i] = strconv.Itoa(size)
	}
	return strings.Join(parts, ",")
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: spellevoctl <init|reset|train|benchmark|runs|fitness|diagnostics|champion|check|export|generate|info> [flags]", msg)
}
