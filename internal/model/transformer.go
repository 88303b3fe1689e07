package model

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/born-ml/sparsify/internal/parallel"
	"github.com/born-ml/sparsify/internal/tensor"
)

// Transformer is a LLaMA-style decoder running on host float32 weights.
// It exists so pruning criteria have real activations to probe and
// perplexity evaluation has real logits, not so inference is fast.
type Transformer struct {
	cfg    Config
	family Family
	seqlen int

	embed     *tensor.RawTensor // [vocab, hidden]
	layers    []*Layer
	finalNorm *tensor.RawTensor
	lmHead    *Linear // nil when embeddings are tied

	deviceMap DeviceMap
	recorder  ActivationRecorder
	modelDir  string

	parallel parallel.Config
}

// NewTransformer allocates a transformer with zeroed weights for the given
// config. The loader fills weights in from a checkpoint; tests fill them
// directly.
func NewTransformer(cfg Config, family Family) (*Transformer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	t := &Transformer{
		cfg:      cfg,
		family:   family,
		seqlen:   NominalSeqLen,
		parallel: parallel.DefaultConfig(),
	}

	var err error
	alloc := func(shape tensor.Shape) *tensor.RawTensor {
		if err != nil {
			return nil
		}
		var raw *tensor.RawTensor
		raw, err = tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
		return raw
	}
	linear := func(name string, out, in int) *Linear {
		return &Linear{
			Name: name,
			W:    alloc(tensor.Shape{out, in}),
			In:   in,
			Out:  out,
		}
	}

	h := cfg.HiddenSize
	kvDim := cfg.NumKeyValueHeads * cfg.HeadDim()
	t.embed = alloc(tensor.Shape{cfg.VocabSize, h})
	t.finalNorm = alloc(tensor.Shape{h})
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		prefix := fmt.Sprintf("model.layers.%d", i)
		t.layers = append(t.layers, &Layer{
			Index:        i,
			AttnQ:        linear(prefix+".self_attn.q_proj.weight", h, h),
			AttnK:        linear(prefix+".self_attn.k_proj.weight", kvDim, h),
			AttnV:        linear(prefix+".self_attn.v_proj.weight", kvDim, h),
			AttnO:        linear(prefix+".self_attn.o_proj.weight", h, h),
			FFNGate:      linear(prefix+".mlp.gate_proj.weight", cfg.IntermediateSize, h),
			FFNUp:        linear(prefix+".mlp.up_proj.weight", cfg.IntermediateSize, h),
			FFNDown:      linear(prefix+".mlp.down_proj.weight", h, cfg.IntermediateSize),
			InputNorm:    alloc(tensor.Shape{h}),
			PostAttnNorm: alloc(tensor.Shape{h}),
		})
	}
	if !cfg.TieWordEmbeddings {
		t.lmHead = linear("lm_head.weight", cfg.VocabSize, h)
	}
	if err != nil {
		return nil, err
	}

	t.deviceMap = t.buildDeviceMap()
	return t, nil
}

// buildDeviceMap places every module. The host runtime is CPU-only; the map
// shape mirrors sharded checkpoints so placement-driven logic stays honest.
func (t *Transformer) buildDeviceMap() DeviceMap {
	m := DeviceMap{
		"model.embed_tokens": tensor.CPU,
		"model.norm":         tensor.CPU,
		"lm_head":            tensor.CPU,
	}
	for i := range t.layers {
		m[fmt.Sprintf("model.layers.%d", i)] = tensor.CPU
	}
	return m
}

// Config returns the model configuration.
func (t *Transformer) Config() Config {
	return t.cfg
}

// Dir returns the checkpoint directory the model was loaded from, empty for
// models built in memory.
func (t *Transformer) Dir() string {
	return t.modelDir
}

// Family returns the model family tag.
func (t *Transformer) Family() Family {
	return t.family
}

// SeqLen returns the nominal sequence length.
func (t *Transformer) SeqLen() int {
	return t.seqlen
}

// DeviceMap returns the per-module placement.
func (t *Transformer) DeviceMap() DeviceMap {
	return t.deviceMap
}

// Eval puts the model in evaluation mode. The CPU forward has no
// training-only behavior, so this is a contract no-op.
func (t *Transformer) Eval() {}

// SetRecorder installs an activation recorder; nil removes it.
func (t *Transformer) SetRecorder(r ActivationRecorder) {
	t.recorder = r
}

// Layers returns the transformer blocks.
func (t *Transformer) Layers() []*Layer {
	return t.layers
}

// Parameters returns every named weight in checkpoint order.
func (t *Transformer) Parameters() []Parameter {
	params := []Parameter{{Name: "model.embed_tokens.weight", Tensor: t.embed}}
	for i, layer := range t.layers {
		prefix := fmt.Sprintf("model.layers.%d", i)
		params = append(params,
			Parameter{Name: prefix + ".input_layernorm.weight", Tensor: layer.InputNorm},
			Parameter{Name: layer.AttnQ.Name, Tensor: layer.AttnQ.W},
			Parameter{Name: layer.AttnK.Name, Tensor: layer.AttnK.W},
			Parameter{Name: layer.AttnV.Name, Tensor: layer.AttnV.W},
			Parameter{Name: layer.AttnO.Name, Tensor: layer.AttnO.W},
			Parameter{Name: prefix + ".post_attention_layernorm.weight", Tensor: layer.PostAttnNorm},
			Parameter{Name: layer.FFNGate.Name, Tensor: layer.FFNGate.W},
			Parameter{Name: layer.FFNUp.Name, Tensor: layer.FFNUp.W},
			Parameter{Name: layer.FFNDown.Name, Tensor: layer.FFNDown.W},
		)
	}
	params = append(params, Parameter{Name: "model.norm.weight", Tensor: t.finalNorm})
	if t.lmHead != nil {
		params = append(params, Parameter{Name: t.lmHead.Name, Tensor: t.lmHead.W})
	}
	return params
}

// Save writes the weights as half-precision safetensors plus the original
// config.json when the model came from a checkpoint directory.
func (t *Transformer) Save(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	params := t.Parameters()
	names := make([]string, len(params))
	tensors := make(map[string]*tensor.RawTensor, len(params))
	for i, p := range params {
		names[i] = p.Name
		tensors[p.Name] = p.Tensor
	}
	if err := WriteSafeTensors(filepath.Join(path, "model.safetensors"), names, tensors); err != nil {
		return err
	}

	if t.modelDir != "" {
		src := filepath.Join(t.modelDir, "config.json")
		if data, err := os.ReadFile(src); err == nil {
			if err := os.WriteFile(filepath.Join(path, "config.json"), data, 0o644); err != nil {
				return fmt.Errorf("write config.json: %w", err)
			}
		}
	}
	return nil
}

// Forward runs the decoder over one window and returns logits [seq, vocab].
func (t *Transformer) Forward(inputIDs []int32, attentionMask []int8) (*tensor.RawTensor, error) {
	seq := len(inputIDs)
	if seq == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if seq > t.seqlen {
		return nil, fmt.Errorf("input length %d exceeds sequence length %d", seq, t.seqlen)
	}
	if attentionMask != nil && len(attentionMask) != seq {
		return nil, fmt.Errorf("attention mask length %d does not match input length %d",
			len(attentionMask), seq)
	}

	h := t.cfg.HiddenSize
	x := make([]float32, seq*h)
	embed := t.embed.AsFloat32()
	for pos, id := range inputIDs {
		if id < 0 || int(id) >= t.cfg.VocabSize {
			return nil, fmt.Errorf("token id %d out of vocab range %d", id, t.cfg.VocabSize)
		}
		copy(x[pos*h:(pos+1)*h], embed[int(id)*h:(int(id)+1)*h])
	}

	scratch := make([]float32, seq*h)
	for _, layer := range t.layers {
		t.attentionBlock(layer, x, scratch, seq, attentionMask)
		t.ffnBlock(layer, x, scratch, seq)
	}

	t.rmsnorm(x, scratch, t.finalNorm.AsFloat32(), seq)
	headW := t.embed
	headName := "model.embed_tokens.weight"
	if t.lmHead != nil {
		headW = t.lmHead.W
		headName = t.lmHead.Name
	}
	logits := t.matmul(headName, headW.AsFloat32(), scratch, seq, h, t.cfg.VocabSize, false)

	out, err := tensor.FromFloat32(logits, tensor.Shape{seq, t.cfg.VocabSize}, tensor.CPU)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// attentionBlock applies pre-norm grouped-query attention with RoPE and
// adds the result into x.
func (t *Transformer) attentionBlock(layer *Layer, x, scratch []float32, seq int, mask []int8) {
	h := t.cfg.HiddenSize
	headDim := t.cfg.HeadDim()
	nHeads := t.cfg.NumAttentionHeads
	nKV := t.cfg.NumKeyValueHeads
	kvDim := nKV * headDim
	groups := nHeads / nKV

	t.rmsnorm(x, scratch, layer.InputNorm.AsFloat32(), seq)

	q := t.matmul(layer.AttnQ.Name, layer.AttnQ.Weights(), scratch, seq, h, h, true)
	k := t.matmul(layer.AttnK.Name, layer.AttnK.Weights(), scratch, seq, h, kvDim, true)
	v := t.matmul(layer.AttnV.Name, layer.AttnV.Weights(), scratch, seq, h, kvDim, true)

	t.rope(q, seq, nHeads, headDim)
	t.rope(k, seq, nKV, headDim)

	attn := make([]float32, seq*h)
	scale := 1 / math.Sqrt(float64(headDim))
	parallel.For(nHeads, func(head int) {
		kvHead := head / groups
		scores := make([]float64, seq)
		for ti := 0; ti < seq; ti++ {
			qRow := q[ti*h+head*headDim:]
			maxScore := math.Inf(-1)
			for tj := 0; tj <= ti; tj++ {
				if mask != nil && mask[tj] == 0 {
					scores[tj] = math.Inf(-1)
					continue
				}
				kRow := k[tj*kvDim+kvHead*headDim:]
				var dot float64
				for d := 0; d < headDim; d++ {
					dot += float64(qRow[d]) * float64(kRow[d])
				}
				scores[tj] = dot * scale
				if scores[tj] > maxScore {
					maxScore = scores[tj]
				}
			}
			var sum float64
			for tj := 0; tj <= ti; tj++ {
				scores[tj] = math.Exp(scores[tj] - maxScore)
				sum += scores[tj]
			}
			out := attn[ti*h+head*headDim:]
			for d := 0; d < headDim; d++ {
				out[d] = 0
			}
			if sum == 0 {
				continue
			}
			for tj := 0; tj <= ti; tj++ {
				w := float32(scores[tj] / sum)
				if w == 0 {
					continue
				}
				vRow := v[tj*kvDim+kvHead*headDim:]
				for d := 0; d < headDim; d++ {
					out[d] += w * vRow[d]
				}
			}
		}
	}, t.parallel)

	proj := t.matmul(layer.AttnO.Name, layer.AttnO.Weights(), attn, seq, h, h, true)
	for i := range x[:seq*h] {
		x[i] += proj[i]
	}
}

// ffnBlock applies the pre-norm SwiGLU feed-forward and adds the result
// into x.
func (t *Transformer) ffnBlock(layer *Layer, x, scratch []float32, seq int) {
	h := t.cfg.HiddenSize
	inter := t.cfg.IntermediateSize

	t.rmsnorm(x, scratch, layer.PostAttnNorm.AsFloat32(), seq)

	gate := t.matmul(layer.FFNGate.Name, layer.FFNGate.Weights(), scratch, seq, h, inter, true)
	up := t.matmul(layer.FFNUp.Name, layer.FFNUp.Weights(), scratch, seq, h, inter, true)
	for i := range gate {
		// SiLU(gate) * up.
		g := float64(gate[i])
		gate[i] = float32(g/(1+math.Exp(-g))) * up[i]
	}

	down := t.matmul(layer.FFNDown.Name, layer.FFNDown.Weights(), gate, seq, inter, h, true)
	for i := range x[:seq*h] {
		x[i] += down[i]
	}
}

// rmsnorm writes normalize(x)*weight into out, row by row.
func (t *Transformer) rmsnorm(x, out, weight []float32, seq int) {
	h := t.cfg.HiddenSize
	eps := t.cfg.RMSNormEps
	for ti := 0; ti < seq; ti++ {
		row := x[ti*h : (ti+1)*h]
		var sumsq float64
		for _, v := range row {
			sumsq += float64(v) * float64(v)
		}
		inv := float32(1 / math.Sqrt(sumsq/float64(h)+eps))
		outRow := out[ti*h : (ti+1)*h]
		for i, v := range row {
			outRow[i] = v * inv * weight[i]
		}
	}
}

// rope applies rotary position embeddings in place.
func (t *Transformer) rope(x []float32, seq, nHeads, headDim int) {
	dim := nHeads * headDim
	theta := t.cfg.RopeTheta
	for ti := 0; ti < seq; ti++ {
		for head := 0; head < nHeads; head++ {
			base := ti*dim + head*headDim
			half := headDim / 2
			for i := 0; i < half; i++ {
				freq := math.Pow(theta, -2*float64(i)/float64(headDim))
				angle := float64(ti) * freq
				sin, cos := math.Sincos(angle)
				a := float64(x[base+i])
				b := float64(x[base+half+i])
				x[base+i] = float32(a*cos - b*sin)
				x[base+half+i] = float32(a*sin + b*cos)
			}
		}
	}
}

// matmul computes in[seq, inDim] x weightᵀ[inDim, outDim] with weight laid
// out [outDim, inDim] row-major. When record is set, each input row is
// offered to the activation recorder under the weight's name first.
func (t *Transformer) matmul(name string, weight, in []float32, seq, inDim, outDim int, record bool) []float32 {
	if record && t.recorder != nil {
		for ti := 0; ti < seq; ti++ {
			t.recorder.Record(name, in[ti*inDim:(ti+1)*inDim])
		}
	}
	out := make([]float32, seq*outDim)
	parallel.For(seq, func(ti int) {
		inRow := in[ti*inDim : (ti+1)*inDim]
		outRow := out[ti*outDim : (ti+1)*outDim]
		for o := 0; o < outDim; o++ {
			wRow := weight[o*inDim : (o+1)*inDim]
			var acc float64
			for i, v := range inRow {
				acc += float64(v) * float64(wRow[i])
			}
			outRow[o] = float32(acc)
		}
	}, t.parallel)
	return out
}
