package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRawZeroed(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32)
	require.NoError(t, err)

	assert.Equal(t, 6, raw.NumElements())
	assert.Equal(t, 24, raw.ByteSize())
	assert.Equal(t, []int{3, 1}, raw.Strides())
	assert.True(t, raw.IsContiguous())
	for _, v := range raw.AsFloat32() {
		assert.Zero(t, v)
	}
}

func TestNewRawInvalidShape(t *testing.T) {
	_, err := NewRaw(Shape{2, 0}, Float32)
	assert.Error(t, err)
}

func TestFromFloat32(t *testing.T) {
	raw, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)

	assert.Equal(t, float32(6), raw.Float32At(1, 2))
	assert.Equal(t, float32(2), raw.Float32At(0, 1))

	_, err = FromFloat32([]float32{1, 2}, Shape{3})
	assert.Error(t, err)
}

func TestViewTranspose(t *testing.T) {
	raw, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)

	// [3,2] transpose view over the same buffer.
	view, err := raw.View(Shape{3, 2}, []int{1, 3}, 0)
	require.NoError(t, err)
	assert.False(t, view.IsContiguous())

	got, err := view.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, got)

	dense := view.Contiguous()
	assert.True(t, dense.IsContiguous())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, dense.AsFloat32())
}

func TestViewByteOffset(t *testing.T) {
	raw, err := FromFloat32([]float32{9, 9, 1, 2, 3, 4}, Shape{6})
	require.NoError(t, err)

	view, err := raw.View(Shape{2, 2}, []int{2, 1}, 8)
	require.NoError(t, err)
	assert.Equal(t, float32(1), view.Float32At(0, 0))
	assert.Equal(t, float32(4), view.Float32At(1, 1))

	view.SetFloat32At(7, 1, 0)
	assert.Equal(t, float32(7), raw.AsFloat32()[4])
}

func TestViewOutOfBounds(t *testing.T) {
	raw, err := NewRaw(Shape{4}, Float32)
	require.NoError(t, err)

	_, err = raw.View(Shape{2, 2}, []int{2, 1}, 4)
	assert.Error(t, err)
}

func TestFloat16Widening(t *testing.T) {
	raw, err := NewRaw(Shape{3}, Float16)
	require.NoError(t, err)

	raw.SetFloat32At(0.5, 0)
	raw.SetFloat32At(-2, 1)
	raw.SetFloat32At(1024, 2)

	got, err := raw.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -2, 1024}, got)
}

func TestFloat32sRejectsIntegers(t *testing.T) {
	raw, err := NewRaw(Shape{2}, Int32)
	require.NoError(t, err)

	_, err = raw.Float32s()
	assert.Error(t, err)
}

func TestParseDataType(t *testing.T) {
	for _, dt := range []DataType{Float32, Float16, Float64, Int32, Int64, Uint8} {
		parsed, err := ParseDataType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, parsed)
	}

	_, err := ParseDataType("complex64")
	assert.Error(t, err)
}
