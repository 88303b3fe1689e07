// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package model provides the public API for loading and running transformer
// checkpoints.
//
// Load resolves a model identifier to a runnable model plus, for generic
// vision-language checkpoints, its image processor:
//
//	m, proc, err := model.Load("models/llama-7b", "llm_weights")
//	dev := model.SelectDevice("models/llama-7b", m.DeviceMap())
package model

import (
	"github.com/born-ml/sparsify/internal/model"
	"github.com/born-ml/sparsify/internal/tensor"
)

// NominalSeqLen is the fixed sequence length set on every loaded model.
const NominalSeqLen = model.NominalSeqLen

// Model is the capability pruning criteria and evaluation consume.
type Model = model.Model

// LayerAccessor exposes per-layer prunable weights.
type LayerAccessor = model.LayerAccessor

// Recordable accepts an activation recorder.
type Recordable = model.Recordable

// ActivationRecorder observes linear-input rows during a forward pass.
type ActivationRecorder = model.ActivationRecorder

// Parameter is a named weight tensor.
type Parameter = model.Parameter

// Linear is one prunable projection.
type Linear = model.Linear

// Layer groups the prunable projections of one transformer block.
type Layer = model.Layer

// Transformer is the CPU decoder runtime behind Load.
type Transformer = model.Transformer

// Processor carries a vision-language checkpoint's image preprocessing
// configuration.
type Processor = model.Processor

// Family is the closed set of model families.
type Family = model.Family

// Model families.
const (
	CausalLM   Family = model.CausalLM
	LlavaVLM   Family = model.LlavaVLM
	GenericVLM Family = model.GenericVLM
)

// DetectFamily resolves the family from a model identifier.
func DetectFamily(modelID string) Family {
	return model.DetectFamily(modelID)
}

// DeviceMap records per-module device placement.
type DeviceMap = model.DeviceMap

// Load resolves a model identifier to a weight directory and materializes
// the checkpoint.
func Load(modelID, cacheDir string) (*Transformer, *Processor, error) {
	return model.Load(modelID, cacheDir)
}

// SelectDevice picks the working device for a pruning run.
func SelectDevice(modelID string, m DeviceMap) tensor.Device {
	return model.SelectDevice(modelID, m)
}
