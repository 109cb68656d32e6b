package spelling

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Width is the number of characters encoded per word. Longer words are
// truncated.
const Width = 20

var ErrMalformedLine = errors.New("malformed corpus line")

// Input is one labeled word.
type Input struct {
	Value            string
	Features         []float64
	CorrectlySpelled bool
}

func NewInput(value string, correctlySpelled bool) Input {
	return Input{
		Value:            value,
		Features:         Encode(value),
		CorrectlySpelled: correctlySpelled,
	}
}

func (in Input) NetworkInputs() []float64 {
	return in.Features
}

// Target is 1 for a correctly spelled word and 0 otherwise.
func (in Input) Target() float64 {
	if in.CorrectlySpelled {
		return 1
	}
	return 0
}

// EncodeRune maps a lowercase ASCII letter to its position in the alphabet.
// Space and every other rune encode as 0.
func EncodeRune(r rune) float64 {
	if r >= 'a' && r <= 'z' {
		return float64(r - 'a' + 1)
	}
	return 0
}

// Encode returns Width features for value, padded with zeros.
func Encode(value string) []float64 {
	features := make([]float64, Width)
	i := 0
	for _, r := range value {
		if i == Width {
			break
		}
		features[i] = EncodeRune(r)
		i++
	}
	return features
}

// ReadInputs parses "<word> <true|false>" lines. Blank lines are skipped;
// anything else that does not match is an error naming the line.
func ReadInputs(r io.Reader) ([]Input, error) {
	scanner := bufio.NewScanner(r)
	var inputs []Input
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected 2 fields, got %d", ErrMalformedLine, line, len(fields))
		}
		correct, err := parseLabel(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedLine, line, err)
		}
		inputs = append(inputs, NewInput(fields[0], correct))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return inputs, nil
}

func ReadFile(path string) ([]Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	inputs, err := ReadInputs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inputs, nil
}

// WriteInputs writes inputs in the format ReadInputs accepts.
func WriteInputs(w io.Writer, inputs []Input) error {
	bw := bufio.NewWriter(w)
	for _, in := range inputs {
		if _, err := fmt.Fprintf(bw, "%s %t\n", in.Value, in.CorrectlySpelled); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func parseLabel(raw string) (bool, error) {
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("label must be true or false, got %q", raw)
	}
}
