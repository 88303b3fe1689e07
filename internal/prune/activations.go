package prune

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/sparsify/internal/calibration"
	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// collect runs calibration windows through the model with a recorder
// attached, so criteria can accumulate activation statistics.
func collect(m model.Model, set calibration.Set, rec model.ActivationRecorder) error {
	recordable, ok := m.(model.Recordable)
	if !ok {
		return fmt.Errorf("model does not support activation recording")
	}
	recordable.SetRecorder(rec)
	defer recordable.SetRecorder(nil)

	for i, sample := range set {
		if _, err := m.Forward(sample.Input, sample.Mask); err != nil {
			return fmt.Errorf("calibration forward %d: %w", i, err)
		}
	}
	return nil
}

// calibrate draws the calibration set and feeds it through the model under
// the given recorder.
func calibrate(req *Request, m model.Model, tok tokenizer.Tokenizer,
	sampler *calibration.Sampler, corpus calibration.Corpus, rec model.ActivationRecorder) error {
	set, _, err := sampler.Sample(corpus, req.NSamples, req.Seed, req.SeqLen, tok)
	if err != nil {
		return fmt.Errorf("build calibration set: %w", err)
	}
	return collect(m, set, rec)
}

// normRecorder accumulates per-input-feature squared activation mass for
// every linear, yielding the column L2 norms wanda scores weights with.
type normRecorder struct {
	mu     sync.Mutex
	sumsq  map[string][]float64
	tokens map[string]int
}

func newNormRecorder() *normRecorder {
	return &normRecorder{
		sumsq:  map[string][]float64{},
		tokens: map[string]int{},
	}
}

// Record implements model.ActivationRecorder.
func (r *normRecorder) Record(name string, row []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.sumsq[name]
	if !ok {
		acc = make([]float64, len(row))
		r.sumsq[name] = acc
	}
	for i, v := range row {
		acc[i] += float64(v) * float64(v)
	}
	r.tokens[name]++
}

// Norms returns the per-feature L2 norms for a linear, nil if unseen.
func (r *normRecorder) Norms(name string) []float32 {
	acc, ok := r.sumsq[name]
	if !ok {
		return nil
	}
	norms := make([]float32, len(acc))
	for i, v := range acc {
		norms[i] = float32(math.Sqrt(v))
	}
	return norms
}

// hessianRecorder accumulates H = X·Xᵀ per linear for the sparsegpt solve.
type hessianRecorder struct {
	mu       sync.Mutex
	hessians map[string]*mat.SymDense
	tokens   map[string]int
}

func newHessianRecorder() *hessianRecorder {
	return &hessianRecorder{
		hessians: map[string]*mat.SymDense{},
		tokens:   map[string]int{},
	}
}

// Record implements model.ActivationRecorder.
func (r *hessianRecorder) Record(name string, row []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hessians[name]
	if !ok {
		h = mat.NewSymDense(len(row), nil)
		r.hessians[name] = h
	}
	x := mat.NewVecDense(len(row), nil)
	for i, v := range row {
		x.SetVec(i, float64(v))
	}
	h.SymRankOne(h, 1, x)
	r.tokens[name]++
}

// Hessian returns the accumulated X·Xᵀ for a linear, normalized by token
// count, nil if unseen.
func (r *hessianRecorder) Hessian(name string) *mat.SymDense {
	h, ok := r.hessians[name]
	if !ok || r.tokens[name] == 0 {
		return nil
	}
	dim, _ := h.Dims()
	scaled := mat.NewSymDense(dim, nil)
	scale := 2 / float64(r.tokens[name])
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			scaled.SetSym(i, j, h.At(i, j)*scale)
		}
	}
	return scaled
}
