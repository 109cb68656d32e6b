package platform

import (
	"fmt"

	"spellevo/internal/evo"
	"spellevo/internal/model"
	"spellevo/internal/nn"
	"spellevo/internal/storage"
)

func toModelDiagnostics(diags []evo.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, 0, len(diags))
	for _, d := range diags {
		out = append(out, model.GenerationDiagnostics{
			Generation:   d.Generation,
			BestFitness:  d.BestFitness,
			MeanFitness:  d.MeanFitness,
			MinFitness:   d.MinFitness,
			StdFitness:   d.StdFitness,
			BestPriority: d.BestPriority,
			MeanAge:      d.MeanAge,
			MaxAge:       d.MaxAge,
			Evaluations:  d.Evaluations,
			ElapsedMS:    d.ElapsedMS,
		})
	}
	return out
}

func bestByGeneration(diags []model.GenerationDiagnostics) []float64 {
	out := make([]float64, len(diags))
	for i, d := range diags {
		out[i] = d.BestFitness
	}
	return out
}

func toChampionRecord(runID string, generation int, activation string, best evo.ScoredNetwork) model.ChampionRecord {
	layers := make([]model.NetworkLayer, len(best.Network.Layers))
	for i, layer := range best.Network.Clone().Layers {
		layers[i] = model.NetworkLayer{Biases: layer.Biases, Weights: layer.Weights}
	}
	return model.ChampionRecord{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		Generation:      generation,
		Score:           best.Score,
		Age:             best.Age,
		Activation:      activation,
		LayerSizes:      best.Network.Shape().LayerSizes,
		Layers:          layers,
	}
}

// ChampionNetwork rebuilds the network stored in a champion record and
// checks that it matches the recorded layer sizes.
func ChampionNetwork(champion model.ChampionRecord) (nn.Network, nn.ActivationFunc, error) {
	network := nn.Network{Layers: make([]nn.Layer, len(champion.Layers))}
	for i, layer := range champion.Layers {
		network.Layers[i] = nn.Layer{Biases: layer.Biases, Weights: layer.Weights}
	}
	network = network.Clone()

	shape := network.Shape()
	if err := shape.Validate(); err != nil {
		return nn.Network{}, nil, err
	}
	if len(shape.LayerSizes) != len(champion.LayerSizes) {
		return nn.Network{}, nil, fmt.Errorf("%w: champion has %d layers, record lists %d", nn.ErrInvalidShape, len(shape.LayerSizes), len(champion.LayerSizes))
	}
	for i, size := range shape.LayerSizes {
		if size != champion.LayerSizes[i] {
			return nn.Network{}, nil, fmt.Errorf("%w: layer %d has %d neurons, record lists %d", nn.ErrInvalidShape, i, size, champion.LayerSizes[i])
		}
		if i+1 < len(network.Layers) {
			if len(network.Layers[i].Weights) != size {
				return nn.Network{}, nil, fmt.Errorf("%w: layer %d has %d weight rows", nn.ErrInvalidShape, i, len(network.Layers[i].Weights))
			}
			for _, row := range network.Layers[i].Weights {
				if len(row) != shape.LayerSizes[i+1] {
					return nn.Network{}, nil, fmt.Errorf("%w: layer %d weight row has %d entries", nn.ErrInvalidShape, i, len(row))
				}
			}
		}
	}

	name := champion.Activation
	if name == "" {
		name = nn.DefaultActivation
	}
	activation, err := nn.GetActivation(name)
	if err != nil {
		return nn.Network{}, nil, err
	}
	return network, activation, nil
}
