package message

// BufferOffset locates one serialized buffer inside an output sample.
type BufferOffset struct {
	Offset int `json:"offset"`
	Len    int `json:"len"`
}

// ArrowTypeInfo describes the layout of an output payload inside its sample:
// the logical data type, the offset/length of every buffer, and the layouts
// of child arrays for nested types. A plain byte payload is described as a
// single-buffer uint8 array.
type ArrowTypeInfo struct {
	DataType      string          `json:"data_type"`
	Len           int             `json:"len"`
	NullCount     int             `json:"null_count"`
	Offset        int             `json:"offset"`
	BufferOffsets []BufferOffset  `json:"buffer_offsets,omitempty"`
	ChildData     []ArrowTypeInfo `json:"child_data,omitempty"`
}

// ByteArray returns the type info for a raw byte payload of the given length.
func ByteArray(n int) ArrowTypeInfo {
	return ArrowTypeInfo{
		DataType:      "uint8",
		Len:           n,
		BufferOffsets: []BufferOffset{{Offset: 0, Len: n}},
	}
}

// TotalDataLen returns the number of sample bytes the layout covers.
func (t ArrowTypeInfo) TotalDataLen() int {
	total := 0
	for _, b := range t.BufferOffsets {
		total += b.Len
	}
	for _, c := range t.ChildData {
		total += c.TotalDataLen()
	}
	return total
}
