package script

import (
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/dop251/goja"

	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/message"
	"github.com/wehubfusion/daedalus/pkg/operator"
	"github.com/wehubfusion/daedalus/pkg/sample"
)

// sendOutputCallback is the callable handed to the operator on every event:
//   - the first argument is the output id as defined in the dataflow,
//   - the second is the data, either bytes or an arrow array for zero copy,
//   - the optional third is a metadata map to link tracing from an input
//     into the output.
//
// Marshalling failures are thrown back into the script as catchable errors;
// a closed events channel is thrown too and ends the operator at the next
// loop iteration.
type sendOutputCallback struct {
	interp *Interpreter
	alloc  operator.SampleAllocator
	events chan<- operator.Event
	done   <-chan struct{}
}

// value returns the interpreter-callable form of the callback.
func (c *sendOutputCallback) value(vm *goja.Runtime) goja.Value {
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if err := c.invoke(vm, call); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
}

func (c *sendOutputCallback) invoke(vm *goja.Runtime, call goja.FunctionCall) error {
	if len(call.Arguments) < 2 {
		return errors.NewError(errors.CodeMarshal,
			"send_output requires an output id and data", nil)
	}

	outputID, ok := call.Argument(0).Export().(string)
	if !ok || outputID == "" {
		return errors.NewError(errors.CodeMarshal,
			"output id must be a non-empty string", nil)
	}

	data, err := exportData(call.Argument(1))
	if err != nil {
		return err
	}

	params, err := exportParameters(call.Argument(2))
	if err != nil {
		return err
	}

	// Allocation and publishing both block on the node; release the
	// interpreter lock while they run.
	var smp *sample.Sample
	var typeInfo message.ArrowTypeInfo
	c.interp.Yield(func() {
		smp, typeInfo, err = operator.EncodeOutput(c.alloc, data)
		if err != nil {
			return
		}
		event := operator.OutputEvent{
			OutputID:   message.DataID(outputID),
			TypeInfo:   typeInfo,
			Parameters: params,
			Data:       smp,
		}
		select {
		case c.events <- event:
		case <-c.done:
			smp.Close()
			err = errors.NewError(errors.CodeTransport,
				"failed to send output to runtime", errors.ErrEventsChannelClosed)
		}
	})
	return err
}

// exportData unwraps the operator-provided payload: bytes in any of the
// forms a script can produce, or a columnar array built with the injected
// arrow module.
func exportData(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, errors.NewError(errors.CodeMarshal,
			"send_output data is missing", errors.ErrInvalidDataType)
	}
	switch d := v.Export().(type) {
	case goja.ArrayBuffer:
		return d.Bytes(), nil
	case []byte:
		return d, nil
	case string:
		return []byte(d), nil
	case arrowValue:
		return d.data, nil
	case arrow.ArrayData:
		return d, nil
	case arrow.Array:
		return d.Data(), nil
	default:
		return nil, errors.NewError(errors.CodeMarshal,
			fmt.Sprintf("cannot encode %T", d), errors.ErrInvalidDataType)
	}
}

// exportParameters converts the optional metadata argument into owned
// parameters; a missing argument yields empty parameters with the default
// telemetry context.
func exportParameters(v goja.Value) (message.Parameters, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return message.DefaultParameters(), nil
	}
	m, ok := v.Export().(map[string]any)
	if !ok {
		return message.Parameters{}, errors.NewError(errors.CodeMarshal,
			"metadata must be a map", nil)
	}
	params, err := message.ParametersFromMap(m)
	if err != nil {
		return message.Parameters{}, errors.NewError(errors.CodeMarshal,
			"failed to parse metadata", err)
	}
	return params, nil
}
