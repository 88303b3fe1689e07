// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package calibration provides the public API for calibration-data sampling.
//
// A Sampler draws fixed-length token windows from a named corpus for use as
// forward-pass probes during pruning, plus a held-out encoding for
// perplexity evaluation:
//
//	src := &calibration.FileSource{Dir: "data"}
//	sampler := calibration.NewSampler(src)
//	set, _, err := sampler.Sample(calibration.C4, 128, 0, 2048, tok)
//
// Sampling is deterministic under a fixed (corpus, nsamples, seed, seqlen,
// tokenizer) tuple.
package calibration

import (
	"github.com/born-ml/sparsify/internal/calibration"
)

// Corpus is the closed set of calibration corpora.
type Corpus = calibration.Corpus

// Corpus constants.
const (
	Wikitext2 Corpus = calibration.Wikitext2
	C4        Corpus = calibration.C4
	QwenVL    Corpus = calibration.QwenVL
)

// CorpusFromName resolves a corpus by substring match on its name.
func CorpusFromName(name string) (Corpus, error) {
	return calibration.CorpusFromName(name)
}

// Split names one side of a corpus.
type Split = calibration.Split

// Split constants.
const (
	SplitTrain Split = calibration.SplitTrain
	SplitEval  Split = calibration.SplitEval
)

// Sentinel errors.
var (
	ErrUnknownCorpus   = calibration.ErrUnknownCorpus
	ErrCorpusExhausted = calibration.ErrCorpusExhausted
	ErrCorpusTooShort  = calibration.ErrCorpusTooShort
	ErrNoVLCalibration = calibration.ErrNoVLCalibration
)

// Sample is one calibration window.
type Sample = calibration.Sample

// Set is an ordered sequence of calibration samples.
type Set = calibration.Set

// Encoding is a single long token sequence used for evaluation.
type Encoding = calibration.Encoding

// Source yields the raw text records of a corpus split.
type Source = calibration.Source

// FileSource reads corpora from a local dataset directory.
type FileSource = calibration.FileSource

// Sampler draws calibration windows from a corpus source.
type Sampler = calibration.Sampler

// Option configures a Sampler.
type Option = calibration.Option

// NewSampler creates a sampler over the given corpus source.
func NewSampler(source Source, opts ...Option) *Sampler {
	return calibration.NewSampler(source, opts...)
}

// WithMaxRetries overrides the per-sample rejection-sampling budget.
func WithMaxRetries(n int) Option {
	return calibration.WithMaxRetries(n)
}
