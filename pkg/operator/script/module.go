package script

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/dop251/goja"

	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/operator"
)

// Module sources are evaluated inside a fresh function scope so a reload can
// re-evaluate the same file without clashing with earlier lexical bindings.
// The scope returns the module's Operator class.
const moduleWrapper = "(function() {\n\"use strict\";\n%s\n;return { Operator: typeof Operator === \"undefined\" ? undefined : Operator };\n})()"

// scriptError re-raises a goja evaluation error with its script traceback
// attached.
func scriptError(err error) error {
	var exc *goja.Exception
	if stderrors.As(err, &exc) {
		return fmt.Errorf("%s", exc.String())
	}
	return err
}

// loadOperatorClass reads the module source from disk, evaluates it and
// returns its Operator class. Must be called inside an interpreter critical
// section.
func loadOperatorClass(vm *goja.Runtime, path, moduleName string) (goja.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewError(errors.CodeBind,
			fmt.Sprintf("failed to read module %s", moduleName), err)
	}

	prog, err := goja.Compile(moduleName, fmt.Sprintf(moduleWrapper, src), true)
	if err != nil {
		return nil, errors.NewError(errors.CodeBind,
			fmt.Sprintf("failed to compile module %s", moduleName), err)
	}

	exports, err := vm.RunProgram(prog)
	if err != nil {
		return nil, errors.NewError(errors.CodeBind,
			fmt.Sprintf("failed to evaluate module %s", moduleName), scriptError(err))
	}

	cls := exports.ToObject(vm).Get("Operator")
	if cls == nil || goja.IsUndefined(cls) || goja.IsNull(cls) {
		return nil, errors.NewError(errors.CodeBind, moduleName, errors.ErrMissingOperatorClass)
	}
	return cls, nil
}

// instantiate constructs a fresh Operator with no arguments.
func instantiate(vm *goja.Runtime, cls goja.Value) (*goja.Object, error) {
	inst, err := vm.New(cls)
	if err != nil {
		return nil, errors.NewError(errors.CodeBind,
			"failed to instantiate Operator", scriptError(err))
	}
	return inst, nil
}

// eventView projects a typed incoming event into the mapping form the
// operator consumes. The data field is always a bytes view, empty for absent
// payloads, and is created fresh for every event so interpreter temporaries
// are released at event boundaries.
func eventView(vm *goja.Runtime, ev operator.IncomingEvent) (goja.Value, error) {
	obj := vm.NewObject()
	switch e := ev.(type) {
	case operator.StopEvent:
		if err := obj.Set("type", "STOP"); err != nil {
			return nil, err
		}
	case operator.InputEvent:
		data := e.Data
		if data == nil {
			data = []byte{}
		}
		if err := obj.Set("id", string(e.InputID)); err != nil {
			return nil, err
		}
		if err := obj.Set("data", vm.NewArrayBuffer(data)); err != nil {
			return nil, err
		}
		if err := obj.Set("metadata", vm.ToValue(e.Metadata.ToMap())); err != nil {
			return nil, err
		}
		if err := obj.Set("type", "INPUT"); err != nil {
			return nil, err
		}
	case operator.InputClosedEvent:
		if err := obj.Set("id", string(e.InputID)); err != nil {
			return nil, err
		}
		if err := obj.Set("type", "INPUT_CLOSED"); err != nil {
			return nil, err
		}
	case operator.ReloadEvent:
		if err := obj.Set("type", "RELOAD"); err != nil {
			return nil, err
		}
	default:
		return nil, errors.NewError(errors.CodeMarshal,
			fmt.Sprintf("cannot project incoming event %T", ev), nil)
	}
	return obj, nil
}

// extractStatus pulls the integer .value attribute off the on_event return
// value.
func extractStatus(vm *goja.Runtime, result goja.Value) (operator.Status, error) {
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return 0, errors.NewError(errors.CodeProtocol,
			"on_event must return a status with a `value` attribute", errors.ErrInvalidStatus)
	}
	val := result.ToObject(vm).Get("value")
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return 0, errors.NewError(errors.CodeProtocol,
			"on_event return value has no `value` attribute", errors.ErrInvalidStatus)
	}
	switch n := val.Export().(type) {
	case int64:
		return operator.Status(n), nil
	case float64:
		if n == float64(int64(n)) {
			return operator.Status(int64(n)), nil
		}
		return 0, errors.NewError(errors.CodeProtocol,
			fmt.Sprintf("on_event returned non-integer status %v", n), errors.ErrInvalidStatus)
	default:
		return 0, errors.NewError(errors.CodeProtocol,
			fmt.Sprintf("on_event returned non-numeric status %T", n), errors.ErrInvalidStatus)
	}
}
