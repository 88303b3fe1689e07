// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package prune provides the public API for pruning transformer models.
//
// A Request describes one pruning run; a Criterion mutates model weights in
// place toward the requested sparsity:
//
//	req := &prune.Request{
//		ModelID:       "models/llama-7b",
//		Method:        prune.Wanda,
//		SparsityRatio: 0.5,
//		SparsityType:  "2:4",
//		LayerNo:       -1,
//		NSamples:      128,
//		SeqLen:        2048,
//	}
//	if err := req.Validate(); err != nil { ... }
//	crit, _ := prune.ForMethod(req.Method, sampler, corpus)
//	err := crit.Apply(req, model, tok, dev)
package prune

import (
	"github.com/born-ml/sparsify/internal/calibration"
	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/prune"
)

// Method is the closed set of pruning criteria.
type Method = prune.Method

// Pruning criteria.
const (
	Magnitude Method = prune.Magnitude
	Wanda     Method = prune.Wanda
	SparseGPT Method = prune.SparseGPT
	Gradient  Method = prune.Gradient
	GBLM      Method = prune.GBLM
)

// MethodFromName resolves a criterion by name.
func MethodFromName(name string) (Method, error) {
	return prune.MethodFromName(name)
}

// GradNorm selects how a precomputed gradient accumulator was normalized.
type GradNorm = prune.GradNorm

// Gradient normalization modes.
const (
	GradNormNone         GradNorm = prune.GradNormNone
	GradNormAccumulation GradNorm = prune.GradNormAccumulation
	GradNorm2SampleDim   GradNorm = prune.GradNorm2SampleDim
)

// GradNormFromName resolves a gradient-norm mode by name.
func GradNormFromName(name string) (GradNorm, error) {
	return prune.GradNormFromName(name)
}

// Sentinel errors.
var (
	ErrInvalidSparsity = prune.ErrInvalidSparsity
	ErrUnknownMethod   = prune.ErrUnknownMethod
)

// Request is the immutable configuration of one pruning run.
type Request = prune.Request

// Criterion scores and zeroes weights in place.
type Criterion = prune.Criterion

// ForMethod builds the criterion for a method.
func ForMethod(method Method, sampler *calibration.Sampler, corpus calibration.Corpus) (Criterion, error) {
	return prune.ForMethod(method, sampler, corpus)
}

// CheckSparsity audits the fraction of exactly zero weights over the
// model's prunable layers.
func CheckSparsity(m model.Model) (float64, error) {
	return prune.CheckSparsity(m)
}
