package calibration

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/born-ml/sparsify/internal/tokenizer"
)

// evalWindowFactor caps the c4 evaluation encoding at this many windows of
// seqlen tokens, bounding evaluation cost independent of corpus size.
const evalWindowFactor = 256

// c4EvalRecords is how many validation records feed the c4 evaluation
// encoding before truncation.
const c4EvalRecords = 1100

// defaultMaxRetries bounds the per-sample rejection loop on c4.
const defaultMaxRetries = 1000

// Sample is one calibration window: equal-length contiguous token slices,
// with Target a value copy of Input.
type Sample struct {
	Input  []int32
	Mask   []int8
	Target []int32
}

// Set is an ordered sequence of calibration samples. Order reflects
// generation order and matters only for reproducibility.
type Set []Sample

// Encoding is a single long token sequence used for perplexity evaluation.
type Encoding struct {
	IDs  []int32
	Mask []int8
}

// Len returns the token count of the encoding.
func (e *Encoding) Len() int {
	return len(e.IDs)
}

// Sampler draws calibration windows from a corpus source.
type Sampler struct {
	source Source

	// maxRetries bounds the c4 rejection-sampling loop per sample.
	maxRetries int
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithMaxRetries overrides the per-sample rejection-sampling budget.
func WithMaxRetries(n int) Option {
	return func(s *Sampler) {
		s.maxRetries = n
	}
}

// NewSampler creates a sampler over the given corpus source.
func NewSampler(source Source, opts ...Option) *Sampler {
	s := &Sampler{
		source:     source,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample builds nsamples calibration windows of seqlen tokens from the
// corpus train split, plus the held-out evaluation encoding. The generator
// is seeded locally: identical inputs produce identical windows.
func (s *Sampler) Sample(corpus Corpus, nsamples int, seed int64, seqlen int, tok tokenizer.Tokenizer) (Set, *Encoding, error) {
	if nsamples <= 0 {
		return nil, nil, fmt.Errorf("nsamples must be positive, got %d", nsamples)
	}
	if seqlen <= 0 {
		return nil, nil, fmt.Errorf("seqlen must be positive, got %d", seqlen)
	}

	rng := rand.New(rand.NewSource(seed))
	switch corpus {
	case Wikitext2:
		return s.sampleWikitext2(rng, nsamples, seqlen, tok)
	case C4:
		return s.sampleC4(rng, nsamples, seqlen, tok)
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrNoVLCalibration, corpus)
	}
}

// EvalEncoding builds only the held-out evaluation encoding for a corpus.
// Used by perplexity evaluation, which never needs calibration windows.
func (s *Sampler) EvalEncoding(corpus Corpus, seqlen int, tok tokenizer.Tokenizer) (*Encoding, error) {
	switch corpus {
	case Wikitext2:
		records, err := s.source.Records(Wikitext2, SplitEval)
		if err != nil {
			return nil, fmt.Errorf("fetch wikitext2 eval split: %w", err)
		}
		return encode(tok, strings.Join(records, "\n\n"), seqlen)
	case C4:
		return s.c4EvalEncoding(seqlen, tok)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoVLCalibration, corpus)
	}
}

// sampleWikitext2 tokenizes the whole train split once and cuts nsamples
// uniform-random windows out of it.
func (s *Sampler) sampleWikitext2(rng *rand.Rand, nsamples, seqlen int, tok tokenizer.Tokenizer) (Set, *Encoding, error) {
	records, err := s.source.Records(Wikitext2, SplitTrain)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch wikitext2 train split: %w", err)
	}
	trainEnc, err := encode(tok, strings.Join(records, " "), seqlen)
	if err != nil {
		return nil, nil, err
	}

	evalEnc, err := s.EvalEncoding(Wikitext2, seqlen, tok)
	if err != nil {
		return nil, nil, err
	}

	set := make(Set, 0, nsamples)
	for i := 0; i < nsamples; i++ {
		sample, err := cutWindow(rng, trainEnc, seqlen)
		if err != nil {
			return nil, nil, err
		}
		set = append(set, sample)
	}
	return set, evalEnc, nil
}

// sampleC4 rejection-samples individual records: a record is tokenized and
// kept only if it strictly exceeds seqlen tokens, so every window is a
// full-length genuine slice, never padded.
func (s *Sampler) sampleC4(rng *rand.Rand, nsamples, seqlen int, tok tokenizer.Tokenizer) (Set, *Encoding, error) {
	records, err := s.source.Records(C4, SplitTrain)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch c4 train split: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("c4 train split: %w", ErrCorpusTooShort)
	}

	set := make(Set, 0, nsamples)
	for i := 0; i < nsamples; i++ {
		enc, err := s.pickLongRecord(rng, records, seqlen, tok)
		if err != nil {
			return nil, nil, err
		}
		sample, err := cutWindow(rng, enc, seqlen)
		if err != nil {
			return nil, nil, err
		}
		set = append(set, sample)
	}

	evalEnc, err := s.c4EvalEncoding(seqlen, tok)
	if err != nil {
		return nil, nil, err
	}
	return set, evalEnc, nil
}

// pickLongRecord retries uniform-random record draws until one tokenizes to
// more than seqlen tokens, within the retry budget.
func (s *Sampler) pickLongRecord(rng *rand.Rand, records []string, seqlen int, tok tokenizer.Tokenizer) (*Encoding, error) {
	for i := 0; i < s.maxRetries; i++ {
		idx := rng.Intn(len(records))
		enc, err := encodeUnchecked(tok, records[idx], seqlen)
		if err != nil {
			return nil, err
		}
		if len(enc.IDs) > seqlen {
			return enc, nil
		}
	}
	return nil, fmt.Errorf("%w: no record over %d tokens after %d draws",
		ErrCorpusExhausted, seqlen, s.maxRetries)
}

// c4EvalEncoding joins the first c4EvalRecords validation records and
// hard-truncates the encoding to evalWindowFactor*seqlen tokens.
func (s *Sampler) c4EvalEncoding(seqlen int, tok tokenizer.Tokenizer) (*Encoding, error) {
	records, err := s.source.Records(C4, SplitEval)
	if err != nil {
		return nil, fmt.Errorf("fetch c4 validation split: %w", err)
	}
	if len(records) > c4EvalRecords {
		records = records[:c4EvalRecords]
	}
	enc, err := encode(tok, strings.Join(records, " "), seqlen)
	if err != nil {
		return nil, err
	}
	if limit := evalWindowFactor * seqlen; len(enc.IDs) > limit {
		enc.IDs = enc.IDs[:limit]
		enc.Mask = enc.Mask[:limit]
	}
	return enc, nil
}

// cutWindow slices one seqlen-token window at a uniform-random start
// offset in [0, len-seqlen-1].
func cutWindow(rng *rand.Rand, enc *Encoding, seqlen int) (Sample, error) {
	span := len(enc.IDs) - seqlen
	if span < 1 {
		return Sample{}, fmt.Errorf("%d tokens, need more than %d: %w",
			len(enc.IDs), seqlen, ErrCorpusTooShort)
	}
	start := rng.Intn(span)

	input := make([]int32, seqlen)
	copy(input, enc.IDs[start:start+seqlen])
	mask := make([]int8, seqlen)
	copy(mask, enc.Mask[start:start+seqlen])
	target := make([]int32, seqlen)
	copy(target, input)

	return Sample{Input: input, Mask: mask, Target: target}, nil
}

// encode tokenizes text under the truncation cap and rejects encodings too
// short to hold a single window.
func encode(tok tokenizer.Tokenizer, text string, seqlen int) (*Encoding, error) {
	enc, err := encodeUnchecked(tok, text, seqlen)
	if err != nil {
		return nil, err
	}
	if len(enc.IDs) == 0 {
		return nil, ErrCorpusTooShort
	}
	return enc, nil
}

func encodeUnchecked(tok tokenizer.Tokenizer, text string, seqlen int) (*Encoding, error) {
	ids, err := tokenizer.EncodeCapped(tok, text, seqlen)
	if err != nil {
		return nil, fmt.Errorf("tokenize corpus text: %w", err)
	}
	mask := make([]int8, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return &Encoding{IDs: ids, Mask: mask}, nil
}
