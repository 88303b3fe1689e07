package prune

import (
	"log/slog"
	"math"

	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/tensor"
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// magnitude zeroes the smallest-magnitude weights. It needs no calibration
// data: the score of a weight is its absolute value.
type magnitude struct{}

func (*magnitude) Name() string { return Magnitude.String() }

func (c *magnitude) Apply(req *Request, m model.Model, _ tokenizer.Tokenizer, _ tensor.Device) error {
	layers, err := selectLayers(m, req.LayerNo)
	if err != nil {
		return err
	}
	for _, layer := range layers {
		for _, lin := range layer.Linears() {
			weights := lin.Weights()
			scores := make([]float32, len(weights))
			for i, w := range weights {
				scores[i] = float32(math.Abs(float64(w)))
			}
			zeroLowest(lin, scores, req.SparsityRatio, req.PruneN, req.PruneM)
		}
		slog.Debug("pruned layer", "criterion", c.Name(), "layer", layer.Index)
	}
	return nil
}
