package prune

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/tensor"
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// gradient scores each weight by |W| * |G| using a precomputed gradient
// accumulator loaded from disk, keyed by parameter name.
type gradient struct{}

func (*gradient) Name() string { return Gradient.String() }

func (c *gradient) Apply(req *Request, m model.Model, _ tokenizer.Tokenizer, _ tensor.Device) error {
	layers, err := selectLayers(m, req.LayerNo)
	if err != nil {
		return err
	}

	grads, err := loadGradients(req.GradientPath, linearNames(layers))
	if err != nil {
		return err
	}

	for _, layer := range layers {
		for _, lin := range layer.Linears() {
			scores, err := gradientScores(req, lin, grads)
			if err != nil {
				return err
			}
			zeroLowest(lin, scores, req.SparsityRatio, req.PruneN, req.PruneM)
		}
		slog.Debug("pruned layer", "criterion", c.Name(), "layer", layer.Index)
	}
	return nil
}

// linearNames lists the parameter names of every prunable linear.
func linearNames(layers []*model.Layer) []string {
	var names []string
	for _, layer := range layers {
		for _, lin := range layer.Linears() {
			names = append(names, lin.Name)
		}
	}
	return names
}

// gradientScores computes |W| * f(|G|) with the request's gradient flags:
// GradExponent squares the gradient factor, GradientInv inverts it so
// high-gradient weights are removed first instead of kept.
func gradientScores(req *Request, lin *model.Linear, grads map[string][]float32) ([]float32, error) {
	grad, ok := grads[lin.Name]
	if !ok {
		return nil, fmt.Errorf("gradient file has no tensor for %s", lin.Name)
	}
	weights := lin.Weights()
	if len(grad) != len(weights) {
		return nil, fmt.Errorf("%s: gradient has %d values, weight has %d",
			lin.Name, len(grad), len(weights))
	}

	scores := make([]float32, len(weights))
	for i, w := range weights {
		g := math.Abs(float64(grad[i]))
		if req.GradExponent {
			g *= g
		}
		if req.GradientInv {
			g = 1 / (g + 1e-10)
		}
		scores[i] = float32(math.Abs(float64(w)) * g)
	}
	return scores, nil
}
