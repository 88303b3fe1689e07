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

// gblmGradientWeight blends the gradient term against the activation norm
// term in the GBLM score.
const gblmGradientWeight = 100.0

// gblm combines the precomputed gradient magnitude with the calibration
// activation norm: score = |W| * (α·f(|G|) + ||X||). Weights that neither
// the loss landscape nor the calibration activations care about go first.
type gblm struct {
	sampler *calibration.Sampler
	corpus  calibration.Corpus
}

func (*gblm) Name() string { return GBLM.String() }

func (c *gblm) Apply(req *Request, m model.Model, tok tokenizer.Tokenizer, _ tensor.Device) error {
	rec := newNormRecorder()
	if err := calibrate(req, m, tok, c.sampler, c.corpus, rec); err != nil {
		return err
	}

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
			scores, err := gblmScores(req, lin, grads, rec)
			if err != nil {
				return err
			}
			zeroLowest(lin, scores, req.SparsityRatio, req.PruneN, req.PruneM)
		}
		slog.Debug("pruned layer", "criterion", c.Name(), "layer", layer.Index)
	}
	return nil
}

func gblmScores(req *Request, lin *model.Linear, grads map[string][]float32, rec *normRecorder) ([]float32, error) {
	grad, ok := grads[lin.Name]
	if !ok {
		return nil, fmt.Errorf("gradient file has no tensor for %s", lin.Name)
	}
	norms := rec.Norms(lin.Name)
	if norms == nil {
		return nil, fmt.Errorf("no activations recorded for %s", lin.Name)
	}
	weights := lin.Weights()
	if len(grad) != len(weights) {
		return nil, fmt.Errorf("%s: gradient has %d values, weight has %d",
			lin.Name, len(grad), len(weights))
	}

	scores := make([]float32, len(weights))
	for row := 0; row < lin.Out; row++ {
		base := row * lin.In
		for i := 0; i < lin.In; i++ {
			g := math.Abs(float64(grad[base+i]))
			if req.GradExponent {
				g *= g
			}
			if req.GradientInv {
				g = 1 / (g + 1e-10)
			}
			w := math.Abs(float64(weights[base+i]))
			scores[base+i] = float32(w * (gblmGradientWeight*g + float64(norms[i])))
		}
	}
	return scores, nil
}
