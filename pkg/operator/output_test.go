package operator

import (
	"testing"

	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/daedalus/pkg/errors"
)

func testAllocator(t *testing.T) SampleAllocator {
	t.Helper()
	return SampleAllocator{Events: make(chan Event, 1), Done: make(chan struct{})}
}

func TestEncodeOutputBytes(t *testing.T) {
	smp, info, err := EncodeOutput(testAllocator(t), []byte("payload"))
	require.NoError(t, err)
	defer smp.Close()

	assert.Equal(t, []byte("payload"), smp.Bytes())
	assert.Equal(t, "uint8", info.DataType)
	assert.Equal(t, len("payload"), info.Len)
}

func TestEncodeOutputEmptyBytes(t *testing.T) {
	smp, info, err := EncodeOutput(testAllocator(t), []byte{})
	require.NoError(t, err)
	defer smp.Close()

	assert.Zero(t, smp.Len())
	assert.Zero(t, info.Len)
}

func TestEncodeOutputArrowArray(t *testing.T) {
	builder := array.NewFloat64Builder(memory.DefaultAllocator)
	defer builder.Release()
	builder.AppendValues([]float64{0.5, 1.5}, nil)
	arr := builder.NewFloat64Array()
	defer arr.Release()

	smp, info, err := EncodeOutput(testAllocator(t), arr)
	require.NoError(t, err)
	defer smp.Close()

	assert.Equal(t, "float64", info.DataType)
	assert.Equal(t, 2, info.Len)
	assert.Equal(t, smp.Len(), info.TotalDataLen())
}

func TestEncodeOutputRejectsUnknownType(t *testing.T) {
	_, _, err := EncodeOutput(testAllocator(t), 42)
	require.Error(t, err)
	assert.True(t, errors.IsMarshal(err))
}
