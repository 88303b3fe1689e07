package model

import "strings"

// Family is the closed set of model families the loader understands.
// It is resolved once from the model identifier at configuration time;
// nothing downstream matches identifier strings again.
type Family int

// Model families.
const (
	// CausalLM is a text-only causal language model.
	CausalLM Family = iota
	// LlavaVLM is a LLaVA conditional-generation vision-language model.
	LlavaVLM
	// GenericVLM is a vision-to-sequence model (Qwen2.5-VL and similar).
	GenericVLM
)

// String returns the family name.
func (f Family) String() string {
	switch f {
	case CausalLM:
		return "causal-lm"
	case LlavaVLM:
		return "llava"
	case GenericVLM:
		return "vlm"
	default:
		return "unknown"
	}
}

// DetectFamily resolves the family from a model identifier by
// case-insensitive substring match. "llava" takes precedence over "vl".
func DetectFamily(modelID string) Family {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "llava"):
		return LlavaVLM
	case strings.Contains(lower, "vl"):
		return GenericVLM
	default:
		return CausalLM
	}
}

// VisionLanguage reports whether the family has a vision tower.
func (f Family) VisionLanguage() bool {
	return f == LlavaVLM || f == GenericVLM
}
