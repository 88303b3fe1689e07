package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// encodingP50kBase is the last-resort encoding when nothing model-specific
// resolves; it is byte-complete so any text round-trips.
const encodingP50kBase = "p50k_base"

// TikToken wraps the pkoukk/tiktoken-go library for models that ship
// without a tokenizer.json.
type TikToken struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTikToken creates a TikToken tokenizer with the specified encoding,
// e.g. "cl100k_base" or "p50k_base".
func NewTikToken(encodingName string) (*TikToken, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: encoding, name: encodingName}, nil
}

// Encode converts text to token IDs.
func (t *TikToken) Encode(text string) ([]int32, error) {
	tokens := t.encoding.Encode(text, nil, nil)
	result := make([]int32, len(tokens))
	for i, tok := range tokens {
		result[i] = int32(tok)
	}
	return result, nil
}

// Decode converts token IDs back to text.
func (t *TikToken) Decode(tokens []int32) (string, error) {
	intTokens := make([]int, len(tokens))
	for i, tok := range tokens {
		intTokens[i] = int(tok)
	}
	return t.encoding.Decode(intTokens), nil
}

// VocabSize returns the total vocabulary size for the known encodings.
func (t *TikToken) VocabSize() int {
	switch t.name {
	case "cl100k_base":
		return 100277
	case "p50k_base":
		return 50281
	case "r50k_base":
		return 50257
	default:
		return 0
	}
}

// MaxLength returns 0: tiktoken encodings define no model_max_length.
func (t *TikToken) MaxLength() int {
	return 0
}

// BosToken returns -1: tiktoken encodings have no BOS token.
func (t *TikToken) BosToken() int32 {
	return -1
}

// EosToken returns -1: tiktoken encodings have no EOS token.
func (t *TikToken) EosToken() int32 {
	return -1
}
