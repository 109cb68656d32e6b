package spelling

import (
	"math"

	"spellevo/internal/evo"
)

// Scorer rates a network output against the label: 1 - |output - target|.
type Scorer struct{}

var _ evo.Scorer[Input] = Scorer{}

func (Scorer) Score(in Input, outputs []float64) float64 {
	if len(outputs) == 0 {
		return math.NaN()
	}
	return 1 - math.Abs(outputs[0]-in.Target())
}

// Verdict reports whether an output reads as "correctly spelled".
func Verdict(output float64) bool {
	return output >= 0.5
}
