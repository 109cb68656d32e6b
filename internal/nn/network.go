package nn

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	ErrInvalidShape = errors.New("invalid network shape")
	ErrInputWidth   = errors.New("input width mismatch")
)

// Shape lists neuron counts from the input layer to the output layer.
type Shape struct {
	LayerSizes []int `json:"layer_sizes"`
}

func (s Shape) Validate() error {
	if len(s.LayerSizes) == 0 {
		return fmt.Errorf("%w: at least one layer is required", ErrInvalidShape)
	}
	for i, size := range s.LayerSizes {
		if size <= 0 {
			return fmt.Errorf("%w: layer %d has %d neurons", ErrInvalidShape, i, size)
		}
	}
	return nil
}

func (s Shape) Inputs() int {
	if len(s.LayerSizes) == 0 {
		return 0
	}
	return s.LayerSizes[0]
}

func (s Shape) Outputs() int {
	if len(s.LayerSizes) == 0 {
		return 0
	}
	return s.LayerSizes[len(s.LayerSizes)-1]
}

// Layer holds one bias per neuron. Weights[i][j] connects neuron i to neuron
// j of the following layer; the output layer has no weights.
type Layer struct {
	Biases  []float64   `json:"biases"`
	Weights [][]float64 `json:"weights,omitempty"`
}

// Network is a fully connected feed-forward network. Values are treated as
// immutable once scored: Mutated and Clone return independent copies.
type Network struct {
	Layers []Layer `json:"layers"`
}

// Randomized builds a network for shape with every weight and bias drawn
// uniformly from [0, 1).
func Randomized(shape Shape, rng *rand.Rand) (Network, error) {
	if err := shape.Validate(); err != nil {
		return Network{}, err
	}
	if rng == nil {
		return Network{}, fmt.Errorf("random source is required")
	}

	sizes := shape.LayerSizes
	network := Network{Layers: make([]Layer, len(sizes))}
	for li, size := range sizes {
		layer := Layer{Biases: make([]float64, size)}
		var next int
		if li+1 < len(sizes) {
			next = sizes[li+1]
			layer.Weights = make([][]float64, size)
		}
		for i := 0; i < size; i++ {
			layer.Biases[i] = rng.Float64()
			if next == 0 {
				continue
			}
			layer.Weights[i] = make([]float64, next)
			for j := range layer.Weights[i] {
				layer.Weights[i][j] = rng.Float64()
			}
		}
		network.Layers[li] = layer
	}
	return network, nil
}

func (n Network) Shape() Shape {
	sizes := make([]int, len(n.Layers))
	for i, layer := range n.Layers {
		sizes[i] = len(layer.Biases)
	}
	return Shape{LayerSizes: sizes}
}

func (n Network) Clone() Network {
	out := Network{Layers: make([]Layer, len(n.Layers))}
	for li, layer := range n.Layers {
		cloned := Layer{Biases: append([]float64(nil), layer.Biases...)}
		if layer.Weights != nil {
			cloned.Weights = make([][]float64, len(layer.Weights))
			for i, row := range layer.Weights {
				cloned.Weights[i] = append([]float64(nil), row...)
			}
		}
		out.Layers[li] = cloned
	}
	return out
}

// Apply propagates inputs through the network. Input and hidden neurons emit
// act(bias + accumulated input), weighted into the next layer. Output neurons
// emit act(accumulated input); their biases are carried but not used. Apply
// does not modify n.
func (n Network) Apply(inputs []float64, act ActivationFunc) ([]float64, error) {
	if len(n.Layers) == 0 {
		return nil, fmt.Errorf("%w: network has no layers", ErrInvalidShape)
	}
	if act == nil {
		return nil, fmt.Errorf("activation function is required")
	}
	if len(inputs) != len(n.Layers[0].Biases) {
		return nil, fmt.Errorf("%w: got=%d want=%d", ErrInputWidth, len(inputs), len(n.Layers[0].Biases))
	}

	values := inputs
	last := len(n.Layers) - 1
	for li := 0; li < last; li++ {
		layer := n.Layers[li]
		next := make([]float64, len(n.Layers[li+1].Biases))
		for i, value := range values {
			activated := act(layer.Biases[i] + value)
			for j, weight := range layer.Weights[i] {
				next[j] += weight * activated
			}
		}
		values = next
	}

	out := make([]float64, len(values))
	for i, value := range values {
		out[i] = act(value)
	}
	return out, nil
}

// Mutated returns a copy of n with every weight and bias shifted by
// rate * U(-1, 1). The receiver is left untouched.
func (n Network) Mutated(rate float64, rng *rand.Rand) Network {
	child := n.Clone()
	for li := range child.Layers {
		layer := &child.Layers[li]
		for i := range layer.Biases {
			layer.Biases[i] += rate * (2*rng.Float64() - 1)
		}
		for i := range layer.Weights {
			for j := range layer.Weights[i] {
				layer.Weights[i][j] += rate * (2*rng.Float64() - 1)
			}
		}
	}
	return child
}
