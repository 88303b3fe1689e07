// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tokenizer provides the public API for text tokenization.
//
// Tokenizers are usually resolved from a model directory with the fallback
// chain matching the model family:
//
//	res, err := tokenizer.Resolve("models/llama-7b", tokenizer.ChainCausal)
//	ids, err := res.Encode("The quick brown fox")
package tokenizer

import (
	"github.com/born-ml/sparsify/internal/tokenizer"
)

// Tokenizer is the core interface for text tokenization.
type Tokenizer = tokenizer.Tokenizer

// Chain selects the resolution fallback chain for a model family.
type Chain = tokenizer.Chain

// Resolution chains.
const (
	ChainCausal Chain = tokenizer.ChainCausal
	ChainLlava  Chain = tokenizer.ChainLlava
	ChainVLM    Chain = tokenizer.ChainVLM
)

// Resolved bundles a tokenizer with its on-disk source directory.
type Resolved = tokenizer.Resolved

// Resolve loads the tokenizer for a model directory using the fallback
// chain for its family.
func Resolve(modelPath string, chain Chain) (*Resolved, error) {
	return tokenizer.Resolve(modelPath, chain)
}

// LoadBPE loads a HuggingFace tokenizer.json BPE tokenizer from a
// directory.
func LoadBPE(dir string) (Tokenizer, error) {
	return tokenizer.LoadBPE(dir)
}

// EncodeCapped tokenizes text truncated to the tokenizer's maximum length,
// or to fallback when none is defined.
func EncodeCapped(t Tokenizer, text string, fallback int) ([]int32, error) {
	return tokenizer.EncodeCapped(t, text, fallback)
}
