package prune

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/born-ml/sparsify/internal/calibration"
	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/tensor"
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// wanda scores each weight by |W| times the L2 norm of its input feature
// over the calibration activations, so weights that see little activation
// mass go first even when their magnitude is not the smallest.
type wanda struct {
	sampler *calibration.Sampler
	corpus  calibration.Corpus
}

func (*wanda) Name() string { return Wanda.String() }

func (c *wanda) Apply(req *Request, m model.Model, tok tokenizer.Tokenizer, _ tensor.Device) error {
	rec := newNormRecorder()
	if err := calibrate(req, m, tok, c.sampler, c.corpus, rec); err != nil {
		return err
	}

	layers, err := selectLayers(m, req.LayerNo)
	if err != nil {
		return err
	}
	for _, layer := range layers {
		for _, lin := range layer.Linears() {
			scores, err := wandaScores(lin, rec)
			if err != nil {
				return err
			}
			if req.UseVariant && req.PruneM == 0 {
				zeroCumulative(lin, scores, req.SparsityRatio)
			} else {
				zeroLowest(lin, scores, req.SparsityRatio, req.PruneN, req.PruneM)
			}
		}
		slog.Debug("pruned layer", "criterion", c.Name(), "layer", layer.Index)
	}
	return nil
}

// wandaScores computes |W| * ||X_j|| for every weight of a linear.
func wandaScores(lin *model.Linear, rec *normRecorder) ([]float32, error) {
	norms := rec.Norms(lin.Name)
	if norms == nil {
		return nil, fmt.Errorf("no activations recorded for %s", lin.Name)
	}
	if len(norms) != lin.In {
		return nil, fmt.Errorf("%s: recorded %d features, linear has %d inputs",
			lin.Name, len(norms), lin.In)
	}

	weights := lin.Weights()
	scores := make([]float32, len(weights))
	for row := 0; row < lin.Out; row++ {
		base := row * lin.In
		for i := 0; i < lin.In; i++ {
			w := float64(weights[base+i])
			scores[base+i] = float32(math.Abs(w)) * norms[i]
		}
	}
	return scores, nil
}
