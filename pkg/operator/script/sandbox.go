package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// dangerousGlobals are host globals an operator module must not reach.
var dangerousGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
}

// frozenBuiltins are shared prototypes frozen so one operator cannot tamper
// with another's view of the language.
var frozenBuiltins = []string{
	"Object",
	"Array",
	"Function",
	"String",
	"Number",
	"Boolean",
	"Date",
	"RegExp",
	"Error",
	"Math",
}

// applySandbox removes dangerous globals and freezes built-in objects before
// any operator code runs in the VM.
func applySandbox(vm *goja.Runtime) error {
	for _, name := range dangerousGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return freezeBuiltins(vm)
}

func freezeBuiltins(vm *goja.Runtime) error {
	freezeScript := `
		(function() {
			return function(obj) {
				if (obj && typeof obj === 'object' || typeof obj === 'function') {
					Object.freeze(obj);
					if (obj.prototype) {
						Object.freeze(obj.prototype);
					}
				}
			};
		})()
	`
	val, err := vm.RunString(freezeScript)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}
	freezeFn, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not a function")
	}

	for _, name := range frozenBuiltins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freezeFn(goja.Undefined(), obj); err != nil {
			// Non-fatal, continue with the remaining builtins.
			continue
		}
	}
	return nil
}
