package model

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Load resolves a model identifier to a weight directory and materializes
// the checkpoint. The processor return is non-nil only for the generic
// vision-language family; the tokenizer is resolved separately by the
// caller, which knows the family-specific fallback chain.
//
// Weights load in half precision and are widened to float32 host tensors.
// The returned model carries the fixed nominal sequence length; the
// resolved device placement is logged for observability.
func Load(modelID, cacheDir string) (*Transformer, *Processor, error) {
	family := DetectFamily(modelID)
	dir, err := resolveDir(modelID, cacheDir)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("loading model", "model", modelID, "family", family.String(), "dir", dir)

	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, nil, err
	}

	t, err := NewTransformer(*cfg, family)
	if err != nil {
		return nil, nil, err
	}
	t.modelDir = dir

	if err := fillWeights(t, dir, family); err != nil {
		return nil, nil, err
	}
	t.DeviceMap().Log(slog.Default())

	var proc *Processor
	if family == GenericVLM {
		proc, err = LoadProcessor(dir)
		if err != nil {
			return nil, nil, err
		}
	}
	return t, proc, nil
}

// resolveDir accepts either a local checkpoint directory or an identifier
// cached under cacheDir with path separators flattened.
func resolveDir(modelID, cacheDir string) (string, error) {
	if info, err := os.Stat(modelID); err == nil && info.IsDir() {
		return modelID, nil
	}
	cached := filepath.Join(cacheDir, strings.ReplaceAll(modelID, "/", "--"))
	if info, err := os.Stat(cached); err == nil && info.IsDir() {
		return cached, nil
	}
	return "", fmt.Errorf("model %q not found locally or under cache dir %s", modelID, cacheDir)
}

// fillWeights copies every matching tensor from the directory's safetensors
// shards into the allocated parameters.
func fillWeights(t *Transformer, dir string, family Family) error {
	shards, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	if err != nil {
		return fmt.Errorf("glob safetensors: %w", err)
	}
	if len(shards) == 0 {
		return fmt.Errorf("no safetensors files in %s", dir)
	}

	dests := make(map[string]Parameter)
	for _, p := range t.Parameters() {
		dests[p.Name] = p
	}
	filled := make(map[string]bool, len(dests))

	for _, shard := range shards {
		if err := fillFromShard(shard, family, dests, filled); err != nil {
			return err
		}
	}

	for name := range dests {
		if !filled[name] {
			return fmt.Errorf("checkpoint is missing tensor %s", name)
		}
	}
	return nil
}

func fillFromShard(path string, family Family, dests map[string]Parameter, filled map[string]bool) error {
	reader, err := OpenSafeTensors(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, rawName := range reader.TensorNames() {
		name, ok := normalizeName(rawName, family)
		if !ok {
			continue
		}
		dest, ok := dests[name]
		if !ok {
			slog.Debug("skipping unknown tensor", "tensor", rawName)
			continue
		}
		loaded, err := reader.LoadFloat32(rawName)
		if err != nil {
			return err
		}
		if !loaded.Shape().Equal(dest.Tensor.Shape()) {
			return fmt.Errorf("tensor %s: shape %v does not match config shape %v",
				name, loaded.Shape(), dest.Tensor.Shape())
		}
		copy(dest.Tensor.AsFloat32(), loaded.AsFloat32())
		filled[name] = true
	}
	return nil
}

// normalizeName maps checkpoint tensor names onto the language model's
// namespace. Vision-language checkpoints nest the LM under language_model;
// vision-tower and projector weights have no place in a text pruning run.
func normalizeName(name string, family Family) (string, bool) {
	if !family.VisionLanguage() {
		return name, true
	}
	if rest, ok := strings.CutPrefix(name, "language_model."); ok {
		return rest, true
	}
	if strings.HasPrefix(name, "vision_tower.") ||
		strings.HasPrefix(name, "visual.") ||
		strings.HasPrefix(name, "multi_modal_projector.") {
		return "", false
	}
	return name, true
}
