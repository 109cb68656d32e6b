package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"spellevo/pkg/spellevo"
)

// loadTrainRequestFromConfig reads a JSON training config. Unknown keys are
// ignored and absent keys keep their zero value.
func loadTrainRequestFromConfig(path string) (spellevo.TrainRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return spellevo.TrainRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return spellevo.TrainRequest{}, err
	}

	var req spellevo.TrainRequest
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(raw["train_file"]); ok {
		req.TrainFile = v
	}
	if v, ok := asString(raw["test_file"]); ok {
		req.TestFile = v
	}
	if v, ok := asInt(raw["population"]); ok {
		req.Population = v
	}
	if v, ok := asInt(raw["generations"]); ok {
		req.Generations = v
	}
	if v, ok := asInt(raw["chunk"]); ok {
		req.Chunk = v
	}
	if v, ok := asFloat64(raw["mutation_rate"]); ok {
		req.MutationRate = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asString(raw["activation"]); ok {
		req.Activation = v
	}
	if v, ok := asInt(raw["round_timeout_ms"]); ok {
		req.RoundTimeout = time.Duration(v) * time.Millisecond
	}
	if rawLayers, ok := raw["layers"].([]any); ok {
		layers := make([]int, 0, len(rawLayers))
		for i, item := range rawLayers {
			size, ok := asInt(item)
			if !ok {
				return spellevo.TrainRequest{}, fmt.Errorf("layers[%d]: expected a number", i)
			}
			layers = append(layers, size)
		}
		req.Layers = layers
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func overrideFromFlags(req *spellevo.TrainRequest, set map[string]bool, flagValue map[string]any) error {
	for name, isSet := range set {
		if !isSet {
			continue
		}
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "train":
			req.TrainFile = v.(string)
		case "test":
			req.TestFile = v.(string)
		case "pop":
			req.Population = v.(int)
		case "gens":
			req.Generations = v.(int)
		case "chunk":
			req.Chunk = v.(int)
		case "mutation-rate":
			req.MutationRate = v.(float64)
		case "seed":
			req.Seed = v.(int64)
		case "workers":
			req.Workers = v.(int)
		case "activation":
			req.Activation = v.(string)
		case "round-timeout":
			req.RoundTimeout = v.(time.Duration)
		case "layers":
			layers, err := parseLayers(v.(string))
			if err != nil {
				return err
			}
			req.Layers = layers
		}
	}
	return nil
}

func parseLayers(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	layers := make([]int, 0, len(parts))
	for _, part := range parts {
		size, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid layer size %q: %w", part, err)
		}
		layers = append(layers, size)
	}
	return layers, nil
}

func loadOrDefaultTrainRequest(configPath string) (spellevo.TrainRequest, error) {
	if configPath == "" {
		return spellevo.TrainRequest{}, nil
	}
	req, err := loadTrainRequestFromConfig(configPath)
	if err != nil {
		return spellevo.TrainRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}
