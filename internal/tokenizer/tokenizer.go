// Package tokenizer provides text tokenization for calibration and
// perplexity evaluation.
//
// Two implementations are available: a pure-Go BPE tokenizer that loads
// HuggingFace tokenizer.json files, and a tiktoken wrapper for models that
// ship without one. Resolution with the family-specific fallback chains
// lives in resolve.go.
package tokenizer

// Tokenizer is the core interface for text tokenization.
type Tokenizer interface {
	// Encode converts text to token IDs.
	Encode(text string) ([]int32, error)

	// Decode converts token IDs back to text.
	Decode(tokens []int32) (string, error)

	// VocabSize returns the total vocabulary size.
	VocabSize() int

	// MaxLength returns the tokenizer's configured model_max_length,
	// or 0 when the tokenizer does not define one.
	MaxLength() int

	// BosToken returns the beginning-of-sequence token ID, -1 if none.
	BosToken() int32

	// EosToken returns the end-of-sequence token ID, -1 if none.
	EosToken() int32
}

// EncodeCapped tokenizes text and truncates the result to the tokenizer's
// MaxLength when one is defined, else to fallback. Text beyond the cap is
// discarded, matching the truncation policy used for calibration corpora.
func EncodeCapped(t Tokenizer, text string, fallback int) ([]int32, error) {
	ids, err := t.Encode(text)
	if err != nil {
		return nil, err
	}
	limit := t.MaxLength()
	if limit <= 0 {
		limit = fallback
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
