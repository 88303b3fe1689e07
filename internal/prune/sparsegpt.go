package prune

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/sparsify/internal/calibration"
	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/parallel"
	"github.com/born-ml/sparsify/internal/tensor"
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// dampingFraction of the mean Hessian diagonal keeps the Cholesky
// factorization well conditioned on rank-deficient calibration sets.
const dampingFraction = 0.01

// sparseGPT performs an OBS-style layer-wise solve: weights are removed in
// order of reconstruction saliency w² / [H⁻¹]_jj and the surviving weights
// of the row absorb the error through the inverse Hessian.
type sparseGPT struct {
	sampler *calibration.Sampler
	corpus  calibration.Corpus
}

func (*sparseGPT) Name() string { return SparseGPT.String() }

func (c *sparseGPT) Apply(req *Request, m model.Model, tok tokenizer.Tokenizer, _ tensor.Device) error {
	rec := newHessianRecorder()
	if err := calibrate(req, m, tok, c.sampler, c.corpus, rec); err != nil {
		return err
	}

	layers, err := selectLayers(m, req.LayerNo)
	if err != nil {
		return err
	}
	for _, layer := range layers {
		for _, lin := range layer.Linears() {
			if err := c.pruneLinear(req, lin, rec); err != nil {
				return err
			}
		}
		slog.Debug("pruned layer", "criterion", c.Name(), "layer", layer.Index)
	}
	return nil
}

func (c *sparseGPT) pruneLinear(req *Request, lin *model.Linear, rec *hessianRecorder) error {
	hessian := rec.Hessian(lin.Name)
	if hessian == nil {
		return fmt.Errorf("no activations recorded for %s", lin.Name)
	}

	hinv, err := invertDamped(hessian)
	if err != nil {
		return fmt.Errorf("%s: %w", lin.Name, err)
	}

	diag := make([]float64, lin.In)
	for j := 0; j < lin.In; j++ {
		diag[j] = hinv.At(j, j)
	}

	weights := lin.Weights()
	parallel.For(lin.Out, func(row int) {
		pruneRowOBS(weights[row*lin.In:(row+1)*lin.In], hinv, diag,
			req.SparsityRatio, req.PruneN, req.PruneM)
	}, parallel.DefaultConfig())
	return nil
}

// invertDamped returns (H + λI)⁻¹ with λ a fraction of the mean diagonal.
func invertDamped(h *mat.SymDense) (*mat.Dense, error) {
	dim, _ := h.Dims()

	var trace float64
	for i := 0; i < dim; i++ {
		trace += h.At(i, i)
	}
	damp := dampingFraction * trace / float64(dim)
	if damp <= 0 {
		damp = dampingFraction
	}
	damped := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			v := h.At(i, j)
			if i == j {
				v += damp
			}
			damped.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(damped) {
		return nil, fmt.Errorf("hessian not positive definite even after damping")
	}
	var sym mat.SymDense
	if err := chol.InverseTo(&sym); err != nil {
		return nil, fmt.Errorf("invert hessian: %w", err)
	}
	dense := mat.NewDense(dim, dim, nil)
	dense.Copy(&sym)
	return dense, nil
}

// pruneRowOBS sweeps one weight row left to right, zeroing the selected
// weights and compensating the error into the columns to their right.
func pruneRowOBS(row []float32, hinv *mat.Dense, diag []float64, ratio float64, n, m int) {
	in := len(row)
	w := make([]float64, in)
	for i, v := range row {
		w[i] = float64(v)
	}

	mask := selectOBSMask(w, diag, ratio, n, m)

	for j := 0; j < in; j++ {
		if !mask[j] || w[j] == 0 {
			continue
		}
		err := w[j] / diag[j]
		w[j] = 0
		for k := j + 1; k < in; k++ {
			if mask[k] {
				continue
			}
			w[k] -= err * hinv.At(j, k)
		}
	}

	for i := range row {
		if mask[i] {
			row[i] = 0
		} else {
			row[i] = float32(w[i])
		}
	}
}

// selectOBSMask marks the weights to zero by saliency w² / [H⁻¹]_jj,
// either the lowest ratio fraction of the row or N per M contiguous group.
func selectOBSMask(w, diag []float64, ratio float64, n, m int) []bool {
	in := len(w)
	scores := make([]float32, in)
	for j := 0; j < in; j++ {
		scores[j] = float32(w[j] * w[j] / diag[j])
	}

	mask := make([]bool, in)
	if n > 0 && m > 0 {
		for start := 0; start+m <= in; start += m {
			order := argsort(scores[start : start+m])
			for _, idx := range order[:n] {
				mask[start+idx] = true
			}
		}
		return mask
	}

	k := int(float64(in) * ratio)
	order := argsort(scores)
	for _, idx := range order[:k] {
		mask[idx] = true
	}
	return mask
}
