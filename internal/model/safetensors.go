package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/born-ml/sparsify/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// maxHeaderSize rejects corrupt files before allocating the header buffer.
const maxHeaderSize = 100 * 1024 * 1024

// safeTensorInfo describes one tensor in the JSON header.
type safeTensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// SafeTensorsReader reads safetensors weight files. Half-precision payloads
// (F16, BF16) are widened to float32 on load.
type SafeTensorsReader struct {
	file       *os.File
	tensors    map[string]safeTensorInfo
	dataOffset int64
}

// OpenSafeTensors opens a safetensors file and parses its header.
func OpenSafeTensors(path string) (*SafeTensorsReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open safetensors: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read safetensors header size: %w", err)
	}
	if headerSize > maxHeaderSize {
		_ = file.Close()
		return nil, fmt.Errorf("safetensors header size %d too large", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read safetensors header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("parse safetensors header: %w", err)
	}

	tensors := make(map[string]safeTensorInfo, len(raw))
	for name, value := range raw {
		if name == "__metadata__" {
			continue
		}
		var info safeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("parse safetensors entry %s: %w", name, err)
		}
		tensors[name] = info
	}

	return &SafeTensorsReader{
		file:       file,
		tensors:    tensors,
		dataOffset: int64(8 + headerSize),
	}, nil
}

// Close closes the underlying file.
func (r *SafeTensorsReader) Close() error {
	return r.file.Close()
}

// TensorNames returns the tensor names in the file.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.tensors))
	for name := range r.tensors {
		names = append(names, name)
	}
	return names
}

// LoadFloat32 reads a tensor and returns it as float32 host data.
func (r *SafeTensorsReader) LoadFloat32(name string) (*tensor.RawTensor, error) {
	info, ok := r.tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}

	start := r.dataOffset + info.DataOffsets[0]
	size := info.DataOffsets[1] - info.DataOffsets[0]
	if size < 0 {
		return nil, fmt.Errorf("tensor %s: invalid data offsets", name)
	}
	if _, err := r.file.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("tensor %s: seek: %w", name, err)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, fmt.Errorf("tensor %s: read: %w", name, err)
	}

	values, err := widenToFloat32(info.DType, data)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	shape := tensor.Shape(info.Shape)
	raw, err := tensor.FromFloat32(values, shape, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return raw, nil
}

// widenToFloat32 converts a raw payload of the given safetensors dtype to
// float32 values.
func widenToFloat32(dtype string, data []byte) ([]float32, error) {
	switch dtype {
	case "F32":
		values := make([]float32, len(data)/4)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return values, nil
	case "F16":
		values := make([]float32, len(data)/2)
		for i := range values {
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32()
		}
		return values, nil
	case "BF16":
		return bfloat16.DecodeFloat32(data), nil
	default:
		return nil, fmt.Errorf("unsupported safetensors dtype %s", dtype)
	}
}

// WriteSafeTensors writes float32 tensors to a safetensors file as F16,
// matching the half-precision convention pruned checkpoints are saved in.
// Tensors are written in the given name order.
func WriteSafeTensors(path string, names []string, tensors map[string]*tensor.RawTensor) error {
	type entry struct {
		info safeTensorInfo
		data []byte
	}

	entries := make(map[string]entry, len(names))
	var offset int64
	for _, name := range names {
		raw, ok := tensors[name]
		if !ok {
			return fmt.Errorf("tensor %s missing from state dict", name)
		}
		values := raw.AsFloat32()
		data := make([]byte, len(values)*2)
		for i, v := range values {
			binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
		}
		entries[name] = entry{
			info: safeTensorInfo{
				DType:       "F16",
				Shape:       raw.Shape(),
				DataOffsets: [2]int64{offset, offset + int64(len(data))},
			},
			data: data,
		}
		offset += int64(len(data))
	}

	header := make(map[string]any, len(entries)+1)
	header["__metadata__"] = map[string]string{"format": "pt"}
	for name, e := range entries {
		header[name] = e.info
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode safetensors header: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create safetensors: %w", err)
	}
	defer file.Close()

	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return fmt.Errorf("write header size: %w", err)
	}
	if _, err := file.Write(headerBytes); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, name := range names {
		if _, err := file.Write(entries[name].data); err != nil {
			return fmt.Errorf("write tensor %s: %w", name, err)
		}
	}
	return nil
}
