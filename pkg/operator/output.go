package operator

import (
	"github.com/apache/arrow/go/v15/arrow"

	"github.com/wehubfusion/daedalus/pkg/arrowutils"
	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/message"
	"github.com/wehubfusion/daedalus/pkg/sample"
)

// EncodeOutput converts operator-provided data into a filled sample plus the
// layout description that travels with it. data is either raw bytes or an
// arrow array. The shared-library and scripted hosts both encode through
// here; only how they unwrap the operator's value differs.
func EncodeOutput(alloc SampleAllocator, data any) (*sample.Sample, message.ArrowTypeInfo, error) {
	switch d := data.(type) {
	case []byte:
		smp, err := alloc.Allocate(len(d))
		if err != nil {
			return nil, message.ArrowTypeInfo{}, err
		}
		copy(smp.Bytes(), d)
		return smp, message.ByteArray(len(d)), nil

	case arrow.Array:
		return EncodeOutput(alloc, d.Data())

	case arrow.ArrayData:
		total := arrowutils.RequiredDataSize(d)
		smp, err := alloc.Allocate(total)
		if err != nil {
			return nil, message.ArrowTypeInfo{}, err
		}
		info, err := arrowutils.CopyArrayIntoSample(smp.Bytes(), d)
		if err != nil {
			smp.Close()
			return nil, message.ArrowTypeInfo{}, errors.NewError(errors.CodeMarshal,
				"failed to serialize arrow array", err)
		}
		return smp, info, nil

	default:
		return nil, message.ArrowTypeInfo{}, errors.NewError(errors.CodeMarshal,
			"cannot encode output payload", errors.ErrInvalidDataType)
	}
}
