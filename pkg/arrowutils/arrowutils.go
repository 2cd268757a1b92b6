// Package arrowutils serializes arrow arrays into flat output samples. The
// wire form is the concatenation of every buffer of the array (depth first
// through child arrays) together with an ArrowTypeInfo describing where each
// buffer landed.
package arrowutils

import (
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/wehubfusion/daedalus/pkg/message"
)

// RequiredDataSize returns the number of sample bytes needed to serialize the
// array, including all child arrays.
func RequiredDataSize(data arrow.ArrayData) int {
	size := 0
	for _, buf := range data.Buffers() {
		if buf != nil {
			size += buf.Len()
		}
	}
	for _, child := range data.Children() {
		size += RequiredDataSize(child)
	}
	return size
}

// CopyArrayIntoSample serializes the array into the sample region and returns
// the layout description. The sample must be at least RequiredDataSize bytes.
func CopyArrayIntoSample(sample []byte, data arrow.ArrayData) (message.ArrowTypeInfo, error) {
	next := 0
	info, err := copyArray(sample, data, &next)
	if err != nil {
		return message.ArrowTypeInfo{}, err
	}
	return info, nil
}

func copyArray(sample []byte, data arrow.ArrayData, next *int) (message.ArrowTypeInfo, error) {
	info := message.ArrowTypeInfo{
		DataType:  data.DataType().String(),
		Len:       data.Len(),
		NullCount: data.NullN(),
		Offset:    data.Offset(),
	}
	for _, buf := range data.Buffers() {
		if buf == nil {
			info.BufferOffsets = append(info.BufferOffsets, message.BufferOffset{Offset: *next, Len: 0})
			continue
		}
		if *next+buf.Len() > len(sample) {
			return info, fmt.Errorf("sample of %d bytes too small for array buffer at offset %d (+%d)",
				len(sample), *next, buf.Len())
		}
		copy(sample[*next:], buf.Bytes())
		info.BufferOffsets = append(info.BufferOffsets, message.BufferOffset{Offset: *next, Len: buf.Len()})
		*next += buf.Len()
	}
	for _, child := range data.Children() {
		childInfo, err := copyArray(sample, child, next)
		if err != nil {
			return info, err
		}
		info.ChildData = append(info.ChildData, childInfo)
	}
	return info, nil
}
