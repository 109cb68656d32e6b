package spelling

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestEncode(t *testing.T) {
	got := Encode("az b?Q")
	want := make([]float64, Width)
	copy(want, []float64{1, 26, 0, 2, 0, 0})
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected encoding: %v", got)
	}

	long := Encode(strings.Repeat("c", Width+5))
	if len(long) != Width {
		t.Fatalf("expected %d features, got %d", Width, len(long))
	}
	for i, v := range long {
		if v != 3 {
			t.Fatalf("feature %d: expected 3, got %v", i, v)
		}
	}
}

func TestReadInputs(t *testing.T) {
	in := strings.NewReader("apple true\n\n  aple   false \nbanana true\n")
	inputs, err := ReadInputs(in)
	if err != nil {
		t.Fatalf("read inputs: %v", err)
	}
	if len(inputs) != 3 {
		t.Fatalf("expected 3 inputs, got %d", len(inputs))
	}
	if inputs[1].Value != "aple" || inputs[1].CorrectlySpelled {
		t.Fatalf("unexpected second input: %+v", inputs[1])
	}
	if inputs[0].Target() != 1 || inputs[1].Target() != 0 {
		t.Fatalf("unexpected targets: %v %v", inputs[0].Target(), inputs[1].Target())
	}
	if len(inputs[2].NetworkInputs()) != Width || inputs[2].NetworkInputs()[0] != 2 {
		t.Fatalf("unexpected features: %v", inputs[2].NetworkInputs())
	}
}

func TestReadInputsReportsLine(t *testing.T) {
	cases := map[string]string{
		"missing label": "apple true\npear\n",
		"bad label":     "apple true\npear yes\n",
		"extra field":   "apple true\npear true x\n",
	}
	for name, corpus := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadInputs(strings.NewReader(corpus))
			if !errors.Is(err, ErrMalformedLine) {
				t.Fatalf("expected malformed line error, got %v", err)
			}
			if !strings.Contains(err.Error(), "line 2") {
				t.Fatalf("expected line number in %q", err)
			}
		})
	}
}

func TestWriteInputsRoundTripsThroughReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := []Input{NewInput("cat", true), NewInput("cta", false)}
	if err := WriteInputs(f, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestScorer(t *testing.T) {
	s := Scorer{}
	if got := s.Score(NewInput("cat", true), []float64{0.75}); math.Abs(got-0.75) > 1e-12 {
		t.Fatalf("expected 0.75, got %v", got)
	}
	if got := s.Score(NewInput("cta", false), []float64{0.75}); math.Abs(got-0.25) > 1e-12 {
		t.Fatalf("expected 0.25, got %v", got)
	}
	if got := s.Score(NewInput("cat", true), nil); !math.IsNaN(got) {
		t.Fatalf("expected NaN for empty output, got %v", got)
	}
	if !Verdict(0.5) || Verdict(0.49) {
		t.Fatal("unexpected verdict threshold")
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	words := []string{"apple", "Banana", "cherry", "apple", "", "date", "elderberry"}
	opts := GenerateOptions{TestFraction: 0.25, MisspellingsPerWord: 2}

	a, err := Generate(words, 7, opts)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := Generate(words, 7, opts)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("expected same corpus for same seed")
	}

	correct := 0
	for _, in := range append(append([]Input(nil), a.Train...), a.Test...) {
		if in.CorrectlySpelled {
			correct++
			continue
		}
		for _, w := range []string{"apple", "banana", "cherry", "date", "elderberry"} {
			if in.Value == w {
				t.Fatalf("misspelling %q collides with a known word", in.Value)
			}
		}
	}
	if correct != 5 {
		t.Fatalf("expected 5 correctly spelled words, got %d", correct)
	}
	if len(a.Test) == 0 || len(a.Train) <= len(a.Test) {
		t.Fatalf("unexpected split: train=%d test=%d", len(a.Train), len(a.Test))
	}
}

func TestGenerateValidation(t *testing.T) {
	if _, err := Generate(nil, 1, GenerateOptions{}); err == nil {
		t.Fatal("expected error for empty word list")
	}
	if _, err := Generate([]string{"a"}, 1, GenerateOptions{TestFraction: 1}); err == nil {
		t.Fatal("expected error for test fraction 1")
	}
}

func TestWriteCorpusFiles(t *testing.T) {
	corpus, err := Generate([]string{"alpha", "beta", "gamma", "delta"}, 3, GenerateOptions{TestFraction: 0.5})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	paths, err := WriteCorpusFiles(filepath.Join(t.TempDir(), "corpus"), corpus)
	if err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 files, got %v", paths)
	}
	train, err := ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read train: %v", err)
	}
	if len(train) != len(corpus.Train) {
		t.Fatalf("expected %d train inputs, got %d", len(corpus.Train), len(train))
	}
}
