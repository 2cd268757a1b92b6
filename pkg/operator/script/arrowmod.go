package script

import (
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/dop251/goja"
)

// arrowValue wraps a built array so the output callback can recognize a
// columnar payload when the operator hands it back.
type arrowValue struct {
	data arrow.ArrayData
}

// registerArrowBuilders injects an `arrow` utility object exposing typed
// array constructors, so scripted operators can produce columnar outputs:
//
//	send_output("bbox", arrow.int64([100, 200]), event.metadata)
func registerArrowBuilders(vm *goja.Runtime) error {
	alloc := memory.NewGoAllocator()
	mod := vm.NewObject()

	wrap := func(b array.Builder) arrowValue {
		arr := b.NewArray()
		data := arr.Data()
		data.Retain()
		arr.Release()
		return arrowValue{data: data}
	}

	builders := map[string]any{
		"int32": func(values []int32) arrowValue {
			b := array.NewInt32Builder(alloc)
			defer b.Release()
			b.AppendValues(values, nil)
			return wrap(b)
		},
		"int64": func(values []int64) arrowValue {
			b := array.NewInt64Builder(alloc)
			defer b.Release()
			b.AppendValues(values, nil)
			return wrap(b)
		},
		"uint8": func(values []uint8) arrowValue {
			b := array.NewUint8Builder(alloc)
			defer b.Release()
			b.AppendValues(values, nil)
			return wrap(b)
		},
		"float64": func(values []float64) arrowValue {
			b := array.NewFloat64Builder(alloc)
			defer b.Release()
			b.AppendValues(values, nil)
			return wrap(b)
		},
		"string": func(values []string) arrowValue {
			b := array.NewStringBuilder(alloc)
			defer b.Release()
			b.AppendValues(values, nil)
			return wrap(b)
		},
		"binary": func(values [][]byte) arrowValue {
			b := array.NewBinaryBuilder(alloc, arrow.BinaryTypes.Binary)
			defer b.Release()
			b.AppendValues(values, nil)
			return wrap(b)
		},
	}

	for name, fn := range builders {
		if err := mod.Set(name, fn); err != nil {
			return err
		}
	}
	return vm.Set("arrow", mod)
}
