package model

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sparsify/internal/tensor"
)

// testConfig is a miniature llama-shaped config that keeps forward passes
// fast in tests.
func testConfig() Config {
	return Config{
		HiddenSize:        8,
		IntermediateSize:  16,
		NumHiddenLayers:   2,
		NumAttentionHeads: 2,
		NumKeyValueHeads:  2,
		VocabSize:         32,
		TieWordEmbeddings: true,
	}
}

// newTestModel builds a transformer with small deterministic random weights.
func newTestModel(t *testing.T, cfg Config) *Transformer {
	t.Helper()
	m, err := NewTransformer(cfg, CausalLM)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for _, p := range m.Parameters() {
		values := p.Tensor.AsFloat32()
		for i := range values {
			values[i] = float32(rng.NormFloat64() * 0.1)
		}
	}
	return m
}

func TestNewTransformer_ParameterShapes(t *testing.T) {
	cfg := testConfig()
	cfg.TieWordEmbeddings = false
	m, err := NewTransformer(cfg, CausalLM)
	require.NoError(t, err)

	byName := map[string]tensor.Shape{}
	for _, p := range m.Parameters() {
		byName[p.Name] = p.Tensor.Shape()
	}

	assert.Equal(t, tensor.Shape{32, 8}, byName["model.embed_tokens.weight"])
	assert.Equal(t, tensor.Shape{8, 8}, byName["model.layers.0.self_attn.q_proj.weight"])
	assert.Equal(t, tensor.Shape{16, 8}, byName["model.layers.1.mlp.gate_proj.weight"])
	assert.Equal(t, tensor.Shape{8, 16}, byName["model.layers.1.mlp.down_proj.weight"])
	assert.Equal(t, tensor.Shape{8}, byName["model.norm.weight"])
	assert.Equal(t, tensor.Shape{32, 8}, byName["lm_head.weight"])

	require.Len(t, m.Layers(), 2)
	assert.Len(t, m.Layers()[0].Linears(), 7)
	assert.Equal(t, NominalSeqLen, m.SeqLen())
}

func TestForward_ShapeAndDeterminism(t *testing.T) {
	m := newTestModel(t, testConfig())
	ids := []int32{3, 1, 4, 1, 5, 9, 2, 6}
	mask := []int8{1, 1, 1, 1, 1, 1, 1, 1}

	first, err := m.Forward(ids, mask)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{8, 32}, first.Shape())
	for _, v := range first.AsFloat32() {
		assert.False(t, math.IsNaN(float64(v)))
		assert.False(t, math.IsInf(float64(v), 0))
	}

	second, err := m.Forward(ids, mask)
	require.NoError(t, err)
	assert.Equal(t, first.AsFloat32(), second.AsFloat32())
}

func TestForward_InputValidation(t *testing.T) {
	m := newTestModel(t, testConfig())

	_, err := m.Forward(nil, nil)
	assert.Error(t, err)

	_, err = m.Forward([]int32{1, 2}, []int8{1})
	assert.Error(t, err)

	_, err = m.Forward([]int32{99}, nil) // out of vocab
	assert.Error(t, err)
}

func TestForward_WeightsChangeLogits(t *testing.T) {
	m := newTestModel(t, testConfig())
	ids := []int32{3, 1, 4}

	before, err := m.Forward(ids, nil)
	require.NoError(t, err)
	beforeCopy := before.Clone()

	// Zero one attention projection; logits must move.
	q := m.Layers()[0].AttnQ.Weights()
	for i := range q {
		q[i] = 0
	}
	after, err := m.Forward(ids, nil)
	require.NoError(t, err)
	assert.NotEqual(t, beforeCopy.AsFloat32(), after.AsFloat32())
}

// countingRecorder tallies recorded rows per linear name.
type countingRecorder struct {
	rows map[string]int
	dims map[string]int
}

func (c *countingRecorder) Record(name string, row []float32) {
	if c.rows == nil {
		c.rows = map[string]int{}
		c.dims = map[string]int{}
	}
	c.rows[name]++
	c.dims[name] = len(row)
}

func TestForward_RecorderSeesEveryLinear(t *testing.T) {
	cfg := testConfig()
	m := newTestModel(t, cfg)
	rec := &countingRecorder{}
	m.SetRecorder(rec)

	ids := []int32{3, 1, 4, 1}
	_, err := m.Forward(ids, nil)
	require.NoError(t, err)
	m.SetRecorder(nil)

	seq := len(ids)
	for _, layer := range m.Layers() {
		for _, lin := range layer.Linears() {
			assert.Equal(t, seq, rec.rows[lin.Name], lin.Name)
			assert.Equal(t, lin.In, rec.dims[lin.Name], lin.Name)
		}
	}
	// The output head is never offered to the recorder.
	assert.Zero(t, rec.rows["model.embed_tokens.weight"])
}

func TestSafeTensors_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.safetensors")

	// Values exactly representable in half precision survive the round trip.
	values := []float32{0.5, -1.25, 2, 0, 3.75, -0.125}
	raw, err := tensor.FromFloat32(values, tensor.Shape{2, 3}, tensor.CPU)
	require.NoError(t, err)

	err = WriteSafeTensors(path, []string{"w"}, map[string]*tensor.RawTensor{"w": raw})
	require.NoError(t, err)

	reader, err := OpenSafeTensors(path)
	require.NoError(t, err)
	defer reader.Close()

	loaded, err := reader.LoadFloat32("w")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, loaded.Shape())
	assert.Equal(t, values, loaded.AsFloat32())
}

func TestLoad_RoundTrip(t *testing.T) {
	cfg := testConfig()
	src := newTestModel(t, cfg)

	dir := t.TempDir()
	require.NoError(t, src.Save(dir))
	cfgBytes, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), cfgBytes, 0o644))

	loaded, proc, err := Load(dir, "")
	require.NoError(t, err)
	assert.Nil(t, proc)
	assert.Equal(t, CausalLM, loaded.Family())
	assert.Equal(t, NominalSeqLen, loaded.SeqLen())

	// Weights match up to half-precision rounding.
	srcParams := src.Parameters()
	dstParams := loaded.Parameters()
	require.Equal(t, len(srcParams), len(dstParams))
	for i := range srcParams {
		a := srcParams[i].Tensor.AsFloat32()
		b := dstParams[i].Tensor.AsFloat32()
		require.Equal(t, len(a), len(b), srcParams[i].Name)
		for j := range a {
			assert.InDelta(t, a[j], b[j], 1e-2)
		}
	}
}

func TestLoad_MissingModel(t *testing.T) {
	_, _, err := Load("no/such-model", t.TempDir())
	assert.Error(t, err)
}

func TestNormalizeName_VLM(t *testing.T) {
	name, ok := normalizeName("language_model.model.layers.0.self_attn.q_proj.weight", GenericVLM)
	assert.True(t, ok)
	assert.Equal(t, "model.layers.0.self_attn.q_proj.weight", name)

	_, ok = normalizeName("visual.blocks.0.attn.qkv.weight", GenericVLM)
	assert.False(t, ok)

	name, ok = normalizeName("model.layers.0.mlp.up_proj.weight", CausalLM)
	assert.True(t, ok)
	assert.Equal(t, "model.layers.0.mlp.up_proj.weight", name)
}
