// Package model loads transformer checkpoints and runs the CPU forward pass
// that calibration probes and perplexity evaluation drive.
//
// The loader resolves a model identifier to a weight directory, branches on
// the model family (causal LM, LLaVA, generic vision-language), materializes
// half-precision safetensors weights as float32 host tensors, and fixes the
// nominal calibration sequence length on the returned model.
package model

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/born-ml/sparsify/internal/tensor"
)

// NominalSeqLen is the fixed sequence length set on every loaded model,
// regardless of the checkpoint's own context length. Calibration sampling
// and evaluation use this value, not the model's native maximum.
const NominalSeqLen = 2048

// Model is the capability pruning criteria and evaluation consume.
type Model interface {
	// Forward runs the model over one window and returns logits with shape
	// [seq, vocab]. attentionMask entries of 0 exclude a position.
	Forward(inputIDs []int32, attentionMask []int8) (*tensor.RawTensor, error)

	// Parameters returns every named weight tensor.
	Parameters() []Parameter

	// Eval puts the model in evaluation mode.
	Eval()

	// Save persists the weights (and config) to a directory.
	Save(path string) error

	// SeqLen returns the nominal sequence length.
	SeqLen() int

	// DeviceMap returns the per-module device placement.
	DeviceMap() DeviceMap
}

// LayerAccessor exposes per-layer prunable weights. Criteria that score
// weights layer by layer require it.
type LayerAccessor interface {
	Layers() []*Layer
}

// Recordable accepts an activation recorder. Criteria that need calibration
// activations (wanda, sparsegpt, gblm) require it.
type Recordable interface {
	SetRecorder(r ActivationRecorder)
}

// ActivationRecorder observes the input rows flowing into each linear
// projection during a forward pass.
type ActivationRecorder interface {
	// Record is called once per token per linear, with the input feature
	// row about to be multiplied by the weight named name.
	Record(name string, row []float32)
}

// Parameter is a named weight tensor.
type Parameter struct {
	Name   string
	Tensor *tensor.RawTensor
}

// Linear is one prunable projection with weight shape [Out, In], row-major.
type Linear struct {
	Name string
	W    *tensor.RawTensor
	In   int
	Out  int
}

// Weights returns the mutable flat weight slice.
func (l *Linear) Weights() []float32 {
	return l.W.AsFloat32()
}

// Layer groups the prunable projections of one transformer block.
type Layer struct {
	Index int

	AttnQ, AttnK, AttnV, AttnO *Linear
	FFNGate, FFNUp, FFNDown    *Linear

	// Norm weights are not prunable but travel with the layer for the
	// forward pass and for save round-trips.
	InputNorm    *tensor.RawTensor
	PostAttnNorm *tensor.RawTensor
}

// Linears returns the layer's prunable projections in a stable order.
func (l *Layer) Linears() []*Linear {
	return []*Linear{l.AttnQ, l.AttnK, l.AttnV, l.AttnO, l.FFNGate, l.FFNUp, l.FFNDown}
}

// DeviceMap records per-module device placement, keyed by module name
// ("model.layers.0", "lm_head", ...).
type DeviceMap map[string]tensor.Device

// First returns the first accelerator in the map, or CPU when every module
// sits on the host.
func (m DeviceMap) First() tensor.Device {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if m[name].Accelerator() {
			return m[name]
		}
	}
	return tensor.CPU
}

// Head returns the device hosting the language-model output head.
func (m DeviceMap) Head() tensor.Device {
	return m["lm_head"]
}

// Log prints the resolved placement for observability.
func (m DeviceMap) Log(logger *slog.Logger) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Info("device placement", "module", name, "device", m[name].String())
	}
}

// largeModelMarkers flag identifiers of models sharded across devices,
// where downstream pruning needs the output head's device.
var largeModelMarkers = []string{"30b", "65b", "70b"}

// SelectDevice picks the working device for a pruning run: the device
// hosting lm_head for very large sharded models, else the first accelerator.
func SelectDevice(modelID string, m DeviceMap) tensor.Device {
	lower := strings.ToLower(modelID)
	for _, marker := range largeModelMarkers {
		if strings.Contains(lower, marker) {
			return m.Head()
		}
	}
	return m.First()
}
