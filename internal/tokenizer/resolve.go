package tokenizer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Chain selects the resolution fallback chain for a model family.
type Chain int

// Resolution chains. Each chain attempts its fallback exactly once.
const (
	// ChainCausal loads the model's own tokenizer directly.
	ChainCausal Chain = iota
	// ChainLlava prefers the Llama tokenizer layout, falling back to the
	// generic loader on any failure.
	ChainLlava
	// ChainVLM prefers the language_model subfolder used by Qwen2.5-VL
	// style checkpoints, falling back to the model's own tokenizer.
	ChainVLM
)

// Resolved bundles a tokenizer with the directory it was loaded from so the
// source files can be copied alongside a saved pruned model.
type Resolved struct {
	Tokenizer

	// Dir is the directory the tokenizer files were read from.
	Dir string
}

// tokenizerFiles are the files copied when persisting a tokenizer.
var tokenizerFiles = []string{
	"tokenizer.json",
	"tokenizer_config.json",
	"special_tokens_map.json",
}

// Resolve loads the tokenizer for a model directory using the fallback
// chain for its family.
func Resolve(modelPath string, chain Chain) (*Resolved, error) {
	switch chain {
	case ChainVLM:
		sub := filepath.Join(modelPath, "language_model")
		if tok, err := LoadBPE(sub); err == nil {
			return &Resolved{Tokenizer: tok, Dir: sub}, nil
		} else {
			slog.Warn("language_model tokenizer unavailable, falling back to base model", "path", sub, "error", err)
		}
		return resolveBase(modelPath)
	case ChainLlava:
		if tok, err := LoadLlama(modelPath); err == nil {
			return &Resolved{Tokenizer: tok, Dir: modelPath}, nil
		} else {
			slog.Warn("llama tokenizer unavailable, falling back to generic", "path", modelPath, "error", err)
		}
		return resolveBase(modelPath)
	default:
		return resolveBase(modelPath)
	}
}

// resolveBase loads the model's own tokenizer.json, with a last-resort
// tiktoken encoding for checkpoints that ship without one.
func resolveBase(modelPath string) (*Resolved, error) {
	tok, err := LoadBPE(modelPath)
	if err == nil {
		return &Resolved{Tokenizer: tok, Dir: modelPath}, nil
	}
	tik, tikErr := NewTikToken(encodingP50kBase)
	if tikErr != nil {
		return nil, fmt.Errorf("resolve tokenizer for %s: %w", modelPath, err)
	}
	slog.Warn("no tokenizer.json, using tiktoken encoding", "path", modelPath, "encoding", encodingP50kBase)
	return &Resolved{Tokenizer: tik, Dir: ""}, nil
}

// SaveTo copies the tokenizer source files into dir. It is a no-op for
// tokenizers with no on-disk source.
func (r *Resolved) SaveTo(dir string) error {
	if r.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tokenizer dir: %w", err)
	}
	for _, name := range tokenizerFiles {
		src := filepath.Join(r.Dir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
