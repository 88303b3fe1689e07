// Package prune implements the pruning criteria and the shared machinery
// they run on: mask selection, activation statistics, sparsity auditing.
//
// Every criterion satisfies the same capability interface and mutates the
// model's weights in place; nothing downstream consumes a return value.
package prune

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/sparsify/internal/calibration"
	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/tensor"
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// Method is the closed set of pruning criteria.
type Method int

// Pruning criteria.
const (
	Magnitude Method = iota
	Wanda
	SparseGPT
	Gradient
	GBLM
)

// ErrUnknownMethod is returned for criterion names outside the known set.
var ErrUnknownMethod = errors.New("unknown pruning method")

// MethodFromName resolves a criterion by name.
func MethodFromName(name string) (Method, error) {
	switch strings.ToLower(name) {
	case "magnitude":
		return Magnitude, nil
	case "wanda":
		return Wanda, nil
	case "sparsegpt":
		return SparseGPT, nil
	case "gradient":
		return Gradient, nil
	case "gblm":
		return GBLM, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
}

// String returns the method name.
func (m Method) String() string {
	switch m {
	case Magnitude:
		return "magnitude"
	case Wanda:
		return "wanda"
	case SparseGPT:
		return "sparsegpt"
	case Gradient:
		return "gradient"
	case GBLM:
		return "gblm"
	default:
		return "unknown"
	}
}

// GradNorm selects how a precomputed gradient accumulator was normalized.
type GradNorm int

// Gradient normalization modes.
const (
	GradNormNone GradNorm = iota
	GradNormAccumulation
	GradNorm2SampleDim
)

// GradNormFromName resolves a gradient-norm mode by name.
func GradNormFromName(name string) (GradNorm, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return GradNormNone, nil
	case "accumulation_norm":
		return GradNormAccumulation, nil
	case "2-norm-sample-dim":
		return GradNorm2SampleDim, nil
	default:
		return 0, fmt.Errorf("unknown gradient norm mode %q", name)
	}
}

// ErrInvalidSparsity flags a sparsity configuration that violates the N:M
// invariant. It is a fatal precondition, checked before any model load.
var ErrInvalidSparsity = errors.New("invalid sparsity configuration")

// Request is the immutable configuration of one pruning run.
type Request struct {
	// ModelID identifies the model to prune.
	ModelID string

	// Method selects the pruning criterion.
	Method Method

	// SparsityRatio is the target fraction of zeroed weights. Zero skips
	// pruning entirely.
	SparsityRatio float64

	// SparsityType is "unstructured" or an "N:M" pattern ("2:4", "4:8").
	SparsityType string

	// PruneN/PruneM are the parsed N:M pattern, both 0 for unstructured.
	PruneN, PruneM int

	// LayerNo restricts pruning to one transformer block; -1 means all.
	LayerNo int

	// Calibration inputs.
	NSamples int
	Seed     int64
	SeqLen   int

	// Gradient-criterion inputs.
	GradientPath string

	// GradNorm names the normalization the gradient file was produced
	// with. It is validated and carried for bookkeeping; no criterion
	// consumes it, since the scores already bake the normalization in.
	GradNorm GradNorm

	GradExponent bool
	GradientInv  bool

	// UseVariant enables the wanda cumulative-threshold variant.
	UseVariant bool
}

// Validate checks the sparsity invariants and parses the N:M pattern.
// Structured patterns remove exactly N of every M contiguous weights, which
// only yields the target density at ratio 0.5.
func (r *Request) Validate() error {
	if r.SparsityRatio < 0 || r.SparsityRatio > 1 {
		return fmt.Errorf("%w: sparsity ratio %v outside [0, 1]", ErrInvalidSparsity, r.SparsityRatio)
	}
	if r.SparsityType == "" || r.SparsityType == "unstructured" {
		r.PruneN, r.PruneM = 0, 0
		return nil
	}

	parts := strings.SplitN(r.SparsityType, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("%w: sparsity type %q is not N:M", ErrInvalidSparsity, r.SparsityType)
	}
	n, errN := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errN != nil || errM != nil || n <= 0 || m <= 0 || n >= m {
		return fmt.Errorf("%w: sparsity type %q is not a valid N:M pattern", ErrInvalidSparsity, r.SparsityType)
	}
	if r.SparsityRatio != 0.5 {
		return fmt.Errorf("%w: ratio must be 0.5 for structured %s sparsity, got %v",
			ErrInvalidSparsity, r.SparsityType, r.SparsityRatio)
	}
	r.PruneN, r.PruneM = n, m
	return nil
}

// Criterion scores and zeroes weights in place. Implementations restrict
// work to req.LayerNo when it is not -1 and honor the (PruneN, PruneM)
// pattern.
type Criterion interface {
	// Name returns the criterion name.
	Name() string

	// Apply mutates the model's weights toward req.SparsityRatio density.
	Apply(req *Request, m model.Model, tok tokenizer.Tokenizer, dev tensor.Device) error
}

// ForMethod builds the criterion for a method. Criteria that probe
// calibration activations receive the sampler and corpus to draw from.
func ForMethod(method Method, sampler *calibration.Sampler, corpus calibration.Corpus) (Criterion, error) {
	switch method {
	case Magnitude:
		return &magnitude{}, nil
	case Wanda:
		return &wanda{sampler: sampler, corpus: corpus}, nil
	case SparseGPT:
		return &sparseGPT{sampler: sampler, corpus: corpus}, nil
	case Gradient:
		return &gradient{}, nil
	case GBLM:
		return &gblm{sampler: sampler, corpus: corpus}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, method)
	}
}

// selectLayers returns the blocks a request prunes: all of them, or the one
// named by LayerNo.
func selectLayers(m model.Model, layerNo int) ([]*model.Layer, error) {
	accessor, ok := m.(model.LayerAccessor)
	if !ok {
		return nil, fmt.Errorf("model does not expose prunable layers")
	}
	layers := accessor.Layers()
	if layerNo < 0 {
		return layers, nil
	}
	if layerNo >= len(layers) {
		return nil, fmt.Errorf("layer %d out of range, model has %d layers", layerNo, len(layers))
	}
	return layers[layerNo : layerNo+1], nil
}
