package spelling

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

type GenerateOptions struct {
	// TestFraction of the labeled words is held out for testing.
	TestFraction float64
	// MisspellingsPerWord is the number of misspelled variants per word.
	MisspellingsPerWord int
}

type Corpus struct {
	Train []Input
	Test  []Input
}

// Generate builds a labeled corpus from correctly spelled words by adding
// seeded misspellings. Words are lowercased; blank and duplicate words are
// skipped.
func Generate(words []string, seed int64, opts GenerateOptions) (Corpus, error) {
	if opts.TestFraction < 0 || opts.TestFraction >= 1 {
		return Corpus{}, fmt.Errorf("test fraction must be in [0, 1), got %v", opts.TestFraction)
	}
	if opts.MisspellingsPerWord <= 0 {
		opts.MisspellingsPerWord = 1
	}

	rng := rand.New(rand.NewSource(seed))
	known := map[string]bool{}
	var clean []string
	for _, word := range words {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" || known[word] {
			continue
		}
		known[word] = true
		clean = append(clean, word)
	}
	if len(clean) == 0 {
		return Corpus{}, fmt.Errorf("no words to generate from")
	}

	inputs := make([]Input, 0, len(clean)*(1+opts.MisspellingsPerWord))
	for _, word := range clean {
		inputs = append(inputs, NewInput(word, true))
		for i := 0; i < opts.MisspellingsPerWord; i++ {
			variant := misspell(word, rng)
			if known[variant] {
				continue
			}
			inputs = append(inputs, NewInput(variant, false))
		}
	}
	rng.Shuffle(len(inputs), func(i, j int) { inputs[i], inputs[j] = inputs[j], inputs[i] })

	split := len(inputs) - int(float64(len(inputs))*opts.TestFraction)
	return Corpus{Train: inputs[:split], Test: inputs[split:]}, nil
}

// WriteCorpusFiles writes train.txt and test.txt under dir.
func WriteCorpusFiles(dir string, corpus Corpus) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	files := []struct {
		name   string
		inputs []Input
	}{
		{name: "train.txt", inputs: corpus.Train},
		{name: "test.txt", inputs: corpus.Test},
	}
	paths := make([]string, 0, len(files))
	for _, file := range files {
		path := filepath.Join(dir, file.name)
		if err := writeInputsFile(path, file.inputs); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeInputsFile(path string, inputs []Input) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteInputs(f, inputs); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// misspell applies one random edit: substitution, transposition, deletion
// or insertion. The result always differs from word.
func misspell(word string, rng *rand.Rand) string {
	letters := []rune(word)
	for {
		edited := edit(letters, rng)
		if string(edited) != word {
			return string(edited)
		}
	}
}

func edit(letters []rune, rng *rand.Rand) []rune {
	out := append([]rune(nil), letters...)
	pos := rng.Intn(len(out))
	switch op := rng.Intn(4); {
	case op == 0:
		out[pos] = randomLetter(rng)
	case op == 1 && len(out) > 1:
		if pos == len(out)-1 {
			pos--
		}
		out[pos], out[pos+1] = out[pos+1], out[pos]
	case op == 2 && len(out) > 1:
		out = append(out[:pos], out[pos+1:]...)
	default:
		out = append(out[:pos], append([]rune{randomLetter(rng)}, out[pos:]...)...)
	}
	return out
}

func randomLetter(rng *rand.Rand) rune {
	return rune('a' + rng.Intn(26))
}
