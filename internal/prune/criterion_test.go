package prune

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sparsify/internal/calibration"
	"github.com/born-ml/sparsify/internal/model"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantN   int
		wantM   int
		invalid bool
	}{
		{name: "unstructured", req: Request{SparsityType: "unstructured", SparsityRatio: 0.5}},
		{name: "unstructured any ratio", req: Request{SparsityType: "unstructured", SparsityRatio: 0.3}},
		{name: "empty type", req: Request{SparsityRatio: 0.7}},
		{name: "2:4", req: Request{SparsityType: "2:4", SparsityRatio: 0.5}, wantN: 2, wantM: 4},
		{name: "4:8", req: Request{SparsityType: "4:8", SparsityRatio: 0.5}, wantN: 4, wantM: 8},
		{name: "structured wrong ratio", req: Request{SparsityType: "2:4", SparsityRatio: 0.3}, invalid: true},
		{name: "structured zero ratio", req: Request{SparsityType: "4:8", SparsityRatio: 0}, invalid: true},
		{name: "garbled pattern", req: Request{SparsityType: "a:b", SparsityRatio: 0.5}, invalid: true},
		{name: "n >= m", req: Request{SparsityType: "4:4", SparsityRatio: 0.5}, invalid: true},
		{name: "negative ratio", req: Request{SparsityType: "unstructured", SparsityRatio: -0.1}, invalid: true},
		{name: "ratio above one", req: Request{SparsityType: "unstructured", SparsityRatio: 1.5}, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidSparsity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantN, tt.req.PruneN)
			assert.Equal(t, tt.wantM, tt.req.PruneM)
		})
	}
}

func TestMethodFromName(t *testing.T) {
	for _, name := range []string{"magnitude", "wanda", "sparsegpt", "gradient", "gblm"} {
		method, err := MethodFromName(name)
		require.NoError(t, err)
		assert.Equal(t, name, method.String())
	}
	_, err := MethodFromName("taylor")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestGradNormFromName(t *testing.T) {
	for name, want := range map[string]GradNorm{
		"":                  GradNormNone,
		"none":              GradNormNone,
		"accumulation_norm": GradNormAccumulation,
		"2-norm-sample-dim": GradNorm2SampleDim,
	} {
		got, err := GradNormFromName(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := GradNormFromName("3-norm")
	assert.Error(t, err)
}

// --- shared fixtures -------------------------------------------------------

// fixtureVocab keeps wordTokenizer IDs inside the test model's vocabulary.
const fixtureVocab = 30

// wordTokenizer maps words to stable IDs, cycling inside fixtureVocab.
type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) ([]int32, error) {
	words := strings.Fields(text)
	ids := make([]int32, len(words))
	for i, w := range words {
		var n int
		fmt.Sscanf(w, "w%d", &n)
		ids[i] = int32(n % fixtureVocab)
	}
	return ids, nil
}

func (wordTokenizer) Decode(tokens []int32) (string, error) {
	parts := make([]string, len(tokens))
	for i, id := range tokens {
		parts[i] = fmt.Sprintf("w%d", id)
	}
	return strings.Join(parts, " "), nil
}

func (wordTokenizer) VocabSize() int  { return fixtureVocab }
func (wordTokenizer) MaxLength() int  { return 1 << 16 }
func (wordTokenizer) BosToken() int32 { return -1 }
func (wordTokenizer) EosToken() int32 { return -1 }

// fixtureSource serves a synthetic word corpus for both splits.
type fixtureSource struct{}

func (fixtureSource) Records(_ calibration.Corpus, _ calibration.Split) ([]string, error) {
	var sb strings.Builder
	for i := 0; i < 600; i++ {
		fmt.Fprintf(&sb, "w%d ", i)
	}
	return []string{sb.String()}, nil
}

func fixtureSampler() *calibration.Sampler {
	return calibration.NewSampler(fixtureSource{})
}

func testModel(t *testing.T) *model.Transformer {
	t.Helper()
	cfg := model.Config{
		HiddenSize:        8,
		IntermediateSize:  16,
		NumHiddenLayers:   2,
		NumAttentionHeads: 2,
		NumKeyValueHeads:  2,
		VocabSize:         32,
		TieWordEmbeddings: true,
	}
	m, err := model.NewTransformer(cfg, model.CausalLM)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for _, p := range m.Parameters() {
		values := p.Tensor.AsFloat32()
		for i := range values {
			// Strictly nonzero so realized sparsity is attributable
			// to pruning alone.
			values[i] = float32(rng.NormFloat64()*0.1) + 0.01
		}
	}
	return m
}

func testRequest(method Method) *Request {
	return &Request{
		ModelID:       "test/tiny-8m",
		Method:        method,
		SparsityRatio: 0.5,
		SparsityType:  "unstructured",
		LayerNo:       -1,
		NSamples:      2,
		Seed:          0,
		SeqLen:        16,
	}
}

func realizedSparsity(t *testing.T, m model.Model) float64 {
	t.Helper()
	ratio, err := CheckSparsity(m)
	require.NoError(t, err)
	return ratio
}
