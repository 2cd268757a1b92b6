package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteArrayLayout(t *testing.T) {
	info := ByteArray(10)

	assert.Equal(t, "uint8", info.DataType)
	assert.Equal(t, 10, info.Len)
	assert.Equal(t, []BufferOffset{{Offset: 0, Len: 10}}, info.BufferOffsets)
	assert.Equal(t, 10, info.TotalDataLen())
}

func TestTotalDataLenSumsChildren(t *testing.T) {
	info := ArrowTypeInfo{
		DataType:      "struct",
		BufferOffsets: []BufferOffset{{Offset: 0, Len: 1}},
		ChildData: []ArrowTypeInfo{
			{DataType: "int64", BufferOffsets: []BufferOffset{{Offset: 1, Len: 32}}},
			{DataType: "utf8", BufferOffsets: []BufferOffset{{Offset: 33, Len: 20}, {Offset: 53, Len: 7}}},
		},
	}

	assert.Equal(t, 60, info.TotalDataLen())
}
