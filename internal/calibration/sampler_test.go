package calibration

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordTokenizer maps each whitespace-separated word to a stable ID. It is
// enough to make window contents meaningful in assertions.
type wordTokenizer struct {
	vocab     map[string]int32
	words     []string
	maxLength int
}

func newWordTokenizer(maxLength int) *wordTokenizer {
	return &wordTokenizer{vocab: map[string]int32{}, maxLength: maxLength}
}

func (w *wordTokenizer) Encode(text string) ([]int32, error) {
	var ids []int32
	for _, word := range strings.Fields(text) {
		id, ok := w.vocab[word]
		if !ok {
			id = int32(len(w.words))
			w.vocab[word] = id
			w.words = append(w.words, word)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (w *wordTokenizer) Decode(tokens []int32) (string, error) {
	parts := make([]string, len(tokens))
	for i, id := range tokens {
		parts[i] = w.words[id]
	}
	return strings.Join(parts, " "), nil
}

func (w *wordTokenizer) VocabSize() int  { return len(w.words) }
func (w *wordTokenizer) MaxLength() int  { return w.maxLength }
func (w *wordTokenizer) BosToken() int32 { return -1 }
func (w *wordTokenizer) EosToken() int32 { return -1 }

// stubSource serves fixed in-memory records.
type stubSource struct {
	train []string
	eval  []string
}

func (s *stubSource) Records(_ Corpus, split Split) ([]string, error) {
	if split == SplitTrain {
		return s.train, nil
	}
	return s.eval, nil
}

// corpusWords generates n distinct words.
func corpusWords(n int) string {
	return prefixedWords("w", n)
}

// prefixedWords generates n distinct words under a prefix, so records built
// with different prefixes share no vocabulary.
func prefixedWords(prefix string, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%s%d ", prefix, i)
	}
	return sb.String()
}

func wikitextFixture(trainTokens int) *stubSource {
	return &stubSource{
		train: []string{corpusWords(trainTokens)},
		eval:  []string{corpusWords(300)},
	}
}

func TestCorpusFromName(t *testing.T) {
	tests := []struct {
		name   string
		want   Corpus
		hasErr bool
	}{
		{name: "wikitext2", want: Wikitext2},
		{name: "c4", want: C4},
		{name: "my-c4-variant", want: C4},
		{name: "qwen2.5-vl", want: QwenVL},
		{name: "openwebtext", hasErr: true},
		{name: "", hasErr: true},
	}
	for _, tt := range tests {
		got, err := CorpusFromName(tt.name)
		if tt.hasErr {
			assert.ErrorIs(t, err, ErrUnknownCorpus, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestSampleWikitext2_WindowInvariants(t *testing.T) {
	sampler := NewSampler(wikitextFixture(1000))
	tok := newWordTokenizer(4096)

	set, evalEnc, err := sampler.Sample(Wikitext2, 5, 0, 128, tok)
	require.NoError(t, err)
	require.Len(t, set, 5)
	assert.Positive(t, evalEnc.Len())

	for _, sample := range set {
		assert.Len(t, sample.Input, 128)
		assert.Len(t, sample.Mask, 128)
		assert.Len(t, sample.Target, 128)
		assert.Equal(t, sample.Input, sample.Target)
		for _, m := range sample.Mask {
			assert.Equal(t, int8(1), m)
		}
	}
}

func TestSampleWikitext2_Deterministic(t *testing.T) {
	src := wikitextFixture(1000)

	first, _, err := NewSampler(src).Sample(Wikitext2, 5, 0, 128, newWordTokenizer(4096))
	require.NoError(t, err)
	second, _, err := NewSampler(src).Sample(Wikitext2, 5, 0, 128, newWordTokenizer(4096))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	reseeded, _, err := NewSampler(src).Sample(Wikitext2, 5, 1, 128, newWordTokenizer(4096))
	require.NoError(t, err)
	assert.NotEqual(t, first, reseeded, "different seed must move at least one offset")
}

func TestSampleWikitext2_TargetIsCopy(t *testing.T) {
	sampler := NewSampler(wikitextFixture(1000))
	set, _, err := sampler.Sample(Wikitext2, 1, 0, 16, newWordTokenizer(4096))
	require.NoError(t, err)

	set[0].Input[0] = -42
	assert.NotEqual(t, set[0].Input[0], set[0].Target[0], "target must be a value copy")
}

func TestSampleWikitext2_CorpusTooShort(t *testing.T) {
	sampler := NewSampler(wikitextFixture(64))
	_, _, err := sampler.Sample(Wikitext2, 1, 0, 128, newWordTokenizer(4096))
	assert.ErrorIs(t, err, ErrCorpusTooShort)
}

func TestSampleC4_RejectsShortRecords(t *testing.T) {
	src := &stubSource{
		// Only one record exceeds seqlen; every window must come from it.
		train: []string{
			prefixedWords("a", 10),
			prefixedWords("b", 200),
			prefixedWords("c", 5),
		},
		eval: []string{corpusWords(50)},
	}
	tok := newWordTokenizer(4096)
	long, err := tok.Encode(prefixedWords("b", 200))
	require.NoError(t, err)
	longSet := map[int32]bool{}
	for _, id := range long {
		longSet[id] = true
	}

	set, _, err := NewSampler(src).Sample(C4, 8, 3, 64, tok)
	require.NoError(t, err)
	require.Len(t, set, 8)
	for _, sample := range set {
		for _, id := range sample.Input {
			assert.True(t, longSet[id], "window token must come from the long record")
		}
	}
}

func TestSampleC4_Exhausted(t *testing.T) {
	src := &stubSource{
		train: []string{corpusWords(10), corpusWords(20)},
		eval:  []string{corpusWords(50)},
	}
	sampler := NewSampler(src, WithMaxRetries(25))
	_, _, err := sampler.Sample(C4, 1, 0, 64, newWordTokenizer(4096))
	assert.ErrorIs(t, err, ErrCorpusExhausted)
}

func TestSampleC4_Deterministic(t *testing.T) {
	src := &stubSource{
		train: []string{corpusWords(150), corpusWords(80), corpusWords(300)},
		eval:  []string{corpusWords(50)},
	}
	first, _, err := NewSampler(src).Sample(C4, 4, 7, 64, newWordTokenizer(4096))
	require.NoError(t, err)
	second, _, err := NewSampler(src).Sample(C4, 4, 7, 64, newWordTokenizer(4096))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestC4EvalEncoding_Capped(t *testing.T) {
	// 1 record of far more tokens than 256*seqlen.
	seqlen := 4
	src := &stubSource{
		train: []string{corpusWords(100)},
		eval:  []string{corpusWords(5000)},
	}
	enc, err := NewSampler(src).EvalEncoding(C4, seqlen, newWordTokenizer(1 << 20))
	require.NoError(t, err)
	assert.LessOrEqual(t, enc.Len(), 256*seqlen)
	assert.Equal(t, 256*seqlen, enc.Len())
	assert.Len(t, enc.Mask, enc.Len())
}

func TestSample_VLCorpusExplicitError(t *testing.T) {
	sampler := NewSampler(wikitextFixture(1000))
	_, _, err := sampler.Sample(QwenVL, 1, 0, 16, newWordTokenizer(4096))
	assert.ErrorIs(t, err, ErrNoVLCalibration)
}

func TestSample_InvalidArgs(t *testing.T) {
	sampler := NewSampler(wikitextFixture(1000))
	_, _, err := sampler.Sample(Wikitext2, 0, 0, 16, newWordTokenizer(4096))
	assert.Error(t, err)
	_, _, err = sampler.Sample(Wikitext2, 1, 0, 0, newWordTokenizer(4096))
	assert.Error(t, err)
}
