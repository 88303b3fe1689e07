package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Processor carries the image preprocessing configuration of a
// vision-language checkpoint. Text-only pruning never consumes it, but the
// loader contract returns it so a vision calibration path can be attached
// without touching the loader again.
type Processor struct {
	ImageMean []float64 `json:"image_mean"`
	ImageStd  []float64 `json:"image_std"`
	Size      struct {
		ShortestEdge int `json:"shortest_edge"`
	} `json:"size"`
	ProcessorClass string `json:"processor_class"`
}

// LoadProcessor reads preprocessor_config.json from a model directory.
func LoadProcessor(dir string) (*Processor, error) {
	data, err := os.ReadFile(filepath.Join(dir, "preprocessor_config.json"))
	if err != nil {
		return nil, fmt.Errorf("read preprocessor_config.json: %w", err)
	}
	var proc Processor
	if err := json.Unmarshal(data, &proc); err != nil {
		return nil, fmt.Errorf("parse preprocessor_config.json: %w", err)
	}
	return &proc, nil
}
