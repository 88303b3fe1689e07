package prune

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nlpodyssey/gopickle/pytorch"

	"github.com/born-ml/sparsify/internal/model"
)

// loadGradients reads precomputed gradient accumulators for the named
// parameters. Safetensors files hold them under the parameter name;
// PyTorch .pt archives hold a state-dict-shaped mapping.
func loadGradients(path string, names []string) (map[string][]float32, error) {
	if path == "" {
		return nil, fmt.Errorf("gradient criterion requires a gradient path")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return gradientsFromSafetensors(path, names)
	case ".pt", ".pth", ".bin":
		return gradientsFromTorch(path, names)
	default:
		return nil, fmt.Errorf("unsupported gradient file %s", path)
	}
}

func gradientsFromSafetensors(path string, names []string) (map[string][]float32, error) {
	reader, err := model.OpenSafeTensors(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	grads := make(map[string][]float32, len(names))
	for _, name := range names {
		raw, err := reader.LoadFloat32(name)
		if err != nil {
			return nil, fmt.Errorf("gradient %s: %w", name, err)
		}
		grads[name] = raw.AsFloat32()
	}
	return grads, nil
}

// torchGetter is satisfied by both gopickle dict flavors a torch.save state
// dict unpickles into.
type torchGetter interface {
	Get(k any) (any, bool)
}

func gradientsFromTorch(path string, names []string) (map[string][]float32, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load torch gradients: %w", err)
	}
	dict, ok := obj.(torchGetter)
	if !ok {
		return nil, fmt.Errorf("torch gradient file is %T, expected a state dict", obj)
	}

	grads := make(map[string][]float32, len(names))
	for _, name := range names {
		value, ok := lookupTorch(dict, name)
		if !ok {
			return nil, fmt.Errorf("torch gradient file has no entry for %s", name)
		}
		t, ok := value.(*pytorch.Tensor)
		if !ok {
			return nil, fmt.Errorf("torch gradient %s is %T, expected a tensor", name, value)
		}
		values, err := torchTensorFloat32(t)
		if err != nil {
			return nil, fmt.Errorf("torch gradient %s: %w", name, err)
		}
		grads[name] = values
	}
	return grads, nil
}

// lookupTorch tries the parameter name as stored and without the ".weight"
// suffix, since gradient dumps key either way.
func lookupTorch(dict torchGetter, name string) (any, bool) {
	if v, ok := dict.Get(name); ok {
		return v, true
	}
	return dict.Get(strings.TrimSuffix(name, ".weight"))
}

func torchTensorFloat32(t *pytorch.Tensor) ([]float32, error) {
	numel := 1
	for _, d := range t.Size {
		numel *= d
	}
	offset := int(t.StorageOffset)

	switch storage := t.Source.(type) {
	case *pytorch.FloatStorage:
		return copyRange(storage.Data, offset, numel)
	case *pytorch.HalfStorage:
		return copyRange(storage.Data, offset, numel)
	case *pytorch.BFloat16Storage:
		return copyRange(storage.Data, offset, numel)
	case *pytorch.DoubleStorage:
		if offset+numel > len(storage.Data) {
			return nil, fmt.Errorf("storage too small: %d values, need %d", len(storage.Data), offset+numel)
		}
		values := make([]float32, numel)
		for i := range values {
			values[i] = float32(storage.Data[offset+i])
		}
		return values, nil
	default:
		return nil, fmt.Errorf("unsupported torch storage %T", t.Source)
	}
}

func copyRange(data []float32, offset, numel int) ([]float32, error) {
	if offset+numel > len(data) {
		return nil, fmt.Errorf("storage too small: %d values, need %d", len(data), offset+numel)
	}
	values := make([]float32, numel)
	copy(values, data[offset:offset+numel])
	return values, nil
}
