package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/born-ml/sparsify/internal/tensor"
)

func TestDetectFamily(t *testing.T) {
	tests := []struct {
		id   string
		want Family
	}{
		{"meta-llama/Llama-2-7b-hf", CausalLM},
		{"decapoda-research/llama-7b-hf", CausalLM},
		{"llava-hf/llava-1.5-7b-hf", LlavaVLM},
		{"Qwen/Qwen2.5-VL-7B-Instruct", GenericVLM},
		{"some/model-vl-base", GenericVLM},
		{"org/LLaVA-vl-13b", LlavaVLM}, // llava wins over vl
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectFamily(tt.id), tt.id)
	}
}

func TestSelectDevice_LargeModelsUseHeadDevice(t *testing.T) {
	dm := DeviceMap{
		"model.layers.0": tensor.CUDA,
		"lm_head":        tensor.Metal,
	}

	assert.Equal(t, tensor.Metal, SelectDevice("meta-llama/Llama-2-70b-hf", dm))
	assert.Equal(t, tensor.Metal, SelectDevice("huggyllama/llama-30b", dm))
	assert.Equal(t, tensor.Metal, SelectDevice("huggyllama/llama-65b", dm))

	// Small models take the first accelerator instead.
	assert.Equal(t, tensor.CUDA, SelectDevice("meta-llama/Llama-2-7b-hf", dm))
}

func TestDeviceMap_FirstFallsBackToCPU(t *testing.T) {
	dm := DeviceMap{
		"model.layers.0": tensor.CPU,
		"lm_head":        tensor.CPU,
	}
	assert.Equal(t, tensor.CPU, dm.First())
}
