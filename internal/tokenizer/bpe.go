package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BPE implements Byte-Pair Encoding tokenization loaded from a
// HuggingFace tokenizer.json file.
type BPE struct {
	vocab        map[string]int32
	reverseVocab map[int32]string
	mergeRank    map[mergePair]int
	bosToken     int32
	eosToken     int32
	unkToken     int32
	maxLength    int
}

type mergePair struct {
	first  string
	second string
}

// NewBPE creates a BPE tokenizer from a vocabulary and ordered merge rules.
func NewBPE(vocab map[string]int32, merges []mergePair) *BPE {
	reverse := make(map[int32]string, len(vocab))
	for token, id := range vocab {
		reverse[id] = token
	}
	rank := make(map[mergePair]int, len(merges))
	for i, m := range merges {
		if _, seen := rank[m]; !seen {
			rank[m] = i
		}
	}
	return &BPE{
		vocab:        vocab,
		reverseVocab: reverse,
		mergeRank:    rank,
		bosToken:     -1,
		eosToken:     -1,
		unkToken:     -1,
	}
}

// Encode converts text to token IDs using greedy lowest-rank merging.
func (b *BPE) Encode(text string) ([]int32, error) {
	if text == "" {
		return []int32{}, nil
	}

	tokens := make([]int32, 0, len(text)/3)
	for _, word := range strings.Fields(text) {
		parts := splitRunes(word)
		for len(parts) > 1 {
			bestIdx, bestRank := -1, len(b.mergeRank)+1
			for i := 0; i < len(parts)-1; i++ {
				if rank, ok := b.mergeRank[mergePair{parts[i], parts[i+1]}]; ok && rank < bestRank {
					bestIdx, bestRank = i, rank
				}
			}
			if bestIdx < 0 {
				break
			}
			merged := parts[bestIdx] + parts[bestIdx+1]
			parts = append(parts[:bestIdx], append([]string{merged}, parts[bestIdx+2:]...)...)
		}
		for _, part := range parts {
			if id, ok := b.vocab[part]; ok {
				tokens = append(tokens, id)
			} else if b.unkToken >= 0 {
				tokens = append(tokens, b.unkToken)
			}
		}
	}
	return tokens, nil
}

func splitRunes(word string) []string {
	parts := make([]string, 0, len(word))
	for _, r := range word {
		parts = append(parts, string(r))
	}
	return parts
}

// Decode converts token IDs back to text.
func (b *BPE) Decode(tokens []int32) (string, error) {
	var sb strings.Builder
	for _, token := range tokens {
		text, ok := b.reverseVocab[token]
		if !ok {
			return "", fmt.Errorf("unknown token id %d", token)
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// VocabSize returns the total vocabulary size.
func (b *BPE) VocabSize() int {
	return len(b.vocab)
}

// MaxLength returns model_max_length from the tokenizer config, 0 if unset.
func (b *BPE) MaxLength() int {
	return b.maxLength
}

// BosToken returns the beginning-of-sequence token ID, -1 if none.
func (b *BPE) BosToken() int32 {
	return b.bosToken
}

// EosToken returns the end-of-sequence token ID, -1 if none.
func (b *BPE) EosToken() int32 {
	return b.eosToken
}

// tokenizerJSON is the subset of tokenizer.json this loader understands.
type tokenizerJSON struct {
	Model struct {
		Vocab  map[string]int `json:"vocab"`
		Merges []string       `json:"merges"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// tokenizerConfigJSON is the subset of tokenizer_config.json this loader
// understands. model_max_length is sometimes serialized as a float.
type tokenizerConfigJSON struct {
	ModelMaxLength float64 `json:"model_max_length"`
}

// LoadBPE loads a BPE tokenizer from a model directory containing
// tokenizer.json and, optionally, tokenizer_config.json.
func LoadBPE(dir string) (*BPE, error) {
	data, err := os.ReadFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("read tokenizer.json: %w", err)
	}

	var raw tokenizerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}

	vocab := make(map[string]int32, len(raw.Model.Vocab))
	for token, id := range raw.Model.Vocab {
		vocab[token] = int32(id)
	}
	merges := make([]mergePair, 0, len(raw.Model.Merges))
	for _, m := range raw.Model.Merges {
		parts := strings.Fields(m)
		if len(parts) == 2 {
			merges = append(merges, mergePair{parts[0], parts[1]})
		}
	}

	bpe := NewBPE(vocab, merges)
	for _, added := range raw.AddedTokens {
		if !added.Special {
			continue
		}
		id := int32(added.ID)
		switch content := strings.ToLower(added.Content); {
		case content == "<s>" || strings.Contains(content, "bos"):
			bpe.bosToken = id
		case content == "</s>" || strings.Contains(content, "eos"):
			bpe.eosToken = id
		case strings.Contains(content, "unk"):
			bpe.unkToken = id
		}
	}

	// model_max_length is advisory; its absence just means no cap.
	if cfgData, err := os.ReadFile(filepath.Join(dir, "tokenizer_config.json")); err == nil {
		var cfg tokenizerConfigJSON
		if err := json.Unmarshal(cfgData, &cfg); err == nil && cfg.ModelMaxLength > 0 {
			// HuggingFace uses a huge sentinel for "unbounded".
			if cfg.ModelMaxLength < 1e9 {
				bpe.maxLength = int(cfg.ModelMaxLength)
			}
		}
	}

	return bpe, nil
}
