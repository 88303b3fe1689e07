package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadLlama loads a tokenizer from a Llama-family checkpoint. It is the
// dedicated loader LLaVA models prefer: same tokenizer.json layout, but the
// Llama special-token conventions are applied even when the added_tokens
// section omits them.
func LoadLlama(dir string) (*BPE, error) {
	// Llama checkpoints converted from SentencePiece carry the vocab in
	// tokenizer.json like everything else; the sentencepiece model file is
	// only a marker that the conventions below apply.
	if _, err := os.Stat(filepath.Join(dir, "tokenizer.model")); err != nil {
		return nil, fmt.Errorf("not a llama tokenizer layout: %w", err)
	}

	bpe, err := LoadBPE(dir)
	if err != nil {
		return nil, err
	}

	// Llama convention: <unk>=0, <s>=1, </s>=2.
	if bpe.bosToken < 0 {
		bpe.bosToken = 1
	}
	if bpe.eosToken < 0 {
		bpe.eosToken = 2
	}
	if bpe.unkToken < 0 {
		bpe.unkToken = 0
	}
	return bpe, nil
}
