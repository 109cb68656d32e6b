package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const benchmarkExperimentsDir = "experiments"

// BenchmarkExperiment groups repeated runs of one configuration under
// different seeds.
type BenchmarkExperiment struct {
	ID             string             `json:"id"`
	Notes          string             `json:"notes,omitempty"`
	TotalRuns      int                `json:"total_runs"`
	StartedAtUTC   string             `json:"started_at_utc,omitempty"`
	CompletedAtUTC string             `json:"completed_at_utc,omitempty"`
	FitnessGoal    *float64           `json:"fitness_goal,omitempty"`
	Interruptions  []string           `json:"interruptions,omitempty"`
	RunIDs         []string           `json:"run_ids,omitempty"`
	Summaries      []BenchmarkSummary `json:"summaries,omitempty"`
	Report         *ExperimentReport  `json:"report,omitempty"`
}

type ExperimentReport struct {
	TotalRuns     int     `json:"total_runs"`
	SuccessRuns   int     `json:"success_runs"`
	SuccessRate   float64 `json:"success_rate"`
	FinalBestMean float64 `json:"final_best_mean"`
	FinalBestStd  float64 `json:"final_best_std"`
	FinalBestMin  float64 `json:"final_best_min"`
	FinalBestMax  float64 `json:"final_best_max"`
	TestMean      float64 `json:"test_mean,omitempty"`
	TestRuns      int     `json:"test_runs,omitempty"`
}

// BuildExperimentReport aggregates run summaries. A run succeeds when its
// final best reaches goal; with no goal every run counts as a success.
func BuildExperimentReport(summaries []BenchmarkSummary, goal *float64) ExperimentReport {
	report := ExperimentReport{TotalRuns: len(summaries)}
	if len(summaries) == 0 {
		return report
	}

	finals := make([]float64, len(summaries))
	var tests []float64
	for i, summary := range summaries {
		finals[i] = summary.FinalBest
		if goal == nil || summary.FinalBest >= *goal {
			report.SuccessRuns++
		}
		if summary.TestFitness != nil {
			tests = append(tests, *summary.TestFitness)
		}
	}
	report.SuccessRate = float64(report.SuccessRuns) / float64(report.TotalRuns)
	report.FinalBestMean, report.FinalBestStd = stat.MeanStdDev(finals, nil)
	if len(finals) < 2 {
		report.FinalBestStd = 0
	}
	report.FinalBestMin = floats.Min(finals)
	report.FinalBestMax = floats.Max(finals)
	if len(tests) > 0 {
		report.TestMean = stat.Mean(tests, nil)
		report.TestRuns = len(tests)
	}
	return report
}

func WriteBenchmarkExperiment(baseDir string, exp BenchmarkExperiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	path := benchmarkExperimentPath(baseDir, exp.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSON(path, exp)
}

func ReadBenchmarkExperiment(baseDir, id string) (BenchmarkExperiment, bool, error) {
	if id == "" {
		return BenchmarkExperiment{}, false, fmt.Errorf("experiment id is required")
	}
	path := benchmarkExperimentPath(baseDir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return BenchmarkExperiment{}, false, nil
		}
		return BenchmarkExperiment{}, false, err
	}
	var exp BenchmarkExperiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return BenchmarkExperiment{}, false, err
	}
	return exp, true, nil
}

func ListBenchmarkExperiments(baseDir string) ([]BenchmarkExperiment, error) {
	root := filepath.Join(baseDir, benchmarkExperimentsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []BenchmarkExperiment{}, nil
		}
		return nil, err
	}

	exps := make([]BenchmarkExperiment, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, ok, err := ReadBenchmarkExperiment(baseDir, entry.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		exps = append(exps, exp)
	}
	sort.Slice(exps, func(i, j int) bool {
		switch {
		case exps[i].StartedAtUTC == exps[j].StartedAtUTC:
			return exps[i].ID < exps[j].ID
		case exps[i].StartedAtUTC == "":
			return false
		case exps[j].StartedAtUTC == "":
			return true
		default:
			return exps[i].StartedAtUTC > exps[j].StartedAtUTC
		}
	})
	return exps, nil
}

func benchmarkExperimentPath(baseDir, id string) string {
	return filepath.Join(baseDir, benchmarkExperimentsDir, id, "experiment.json")
}
