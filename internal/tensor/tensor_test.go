package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRaw(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32, CPU)
	require.NoError(t, err)

	assert.Equal(t, Shape{2, 3}, raw.Shape())
	assert.Equal(t, Float32, raw.DType())
	assert.Equal(t, 6, raw.NumElements())
	assert.Len(t, raw.Data(), 24)

	// Freshly allocated tensors are zeroed.
	for _, v := range raw.AsFloat32() {
		assert.Zero(t, v)
	}
}

func TestNewRaw_InvalidShape(t *testing.T) {
	_, err := NewRaw(Shape{2, 0}, Float32, CPU)
	assert.Error(t, err)

	_, err = NewRaw(Shape{}, Float32, CPU)
	assert.Error(t, err)
}

func TestFromFloat32(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	raw, err := FromFloat32(data, Shape{2, 3}, CPU)
	require.NoError(t, err)

	got := raw.AsFloat32()
	assert.Equal(t, data, got)

	// FromFloat32 aliases the slice: mutations are visible both ways.
	got[0] = 42
	assert.Equal(t, float32(42), data[0])
}

func TestFromFloat32_LengthMismatch(t *testing.T) {
	_, err := FromFloat32([]float32{1, 2, 3}, Shape{2, 3}, CPU)
	assert.Error(t, err)
}

func TestClone_Independent(t *testing.T) {
	raw, err := NewRaw(Shape{4}, Float32, CPU)
	require.NoError(t, err)
	raw.AsFloat32()[0] = 1

	clone := raw.Clone()
	clone.AsFloat32()[0] = 2

	assert.Equal(t, float32(1), raw.AsFloat32()[0])
	assert.Equal(t, float32(2), clone.AsFloat32()[0])
}

func TestDeviceAccelerator(t *testing.T) {
	assert.False(t, CPU.Accelerator())
	assert.True(t, CUDA.Accelerator())
	assert.Equal(t, "CUDA", CUDA.String())
}

func TestShapeEqual(t *testing.T) {
	assert.True(t, Shape{2, 3}.Equal(Shape{2, 3}))
	assert.False(t, Shape{2, 3}.Equal(Shape{3, 2}))
	assert.False(t, Shape{2, 3}.Equal(Shape{2, 3, 1}))
}
