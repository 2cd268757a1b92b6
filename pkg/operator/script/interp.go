// Package script hosts scripted operators on an embedded goja interpreter:
// it resolves and loads the operator module, drives it with the incoming
// event loop, performs hot reloads with state carry-over and translates
// send_output calls into operator events.
package script

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Interpreter owns the goja runtime of a single operator. Runtimes are not
// reentrant, so instead of the process-wide lock a shared interpreter would
// need, each operator gets its own runtime with its own lock. The lock
// discipline is the same: every read or write of scripted state happens
// inside a critical section, and blocking channel sends release the lock.
type Interpreter struct {
	mu sync.Mutex
	vm *goja.Runtime
}

const statusEnumScript = `Object.freeze({
	CONTINUE: Object.freeze({value: 0}),
	STOP: Object.freeze({value: 1}),
	STOP_ALL: Object.freeze({value: 2})
})`

func newInterpreter(logger *zap.Logger) (*Interpreter, error) {
	vm := goja.New()
	if err := applySandbox(vm); err != nil {
		return nil, fmt.Errorf("failed to sandbox interpreter: %w", err)
	}

	if err := registerConsole(vm, logger); err != nil {
		return nil, fmt.Errorf("failed to register console: %w", err)
	}

	statusEnum, err := vm.RunString(statusEnumScript)
	if err != nil {
		return nil, fmt.Errorf("failed to build status enum: %w", err)
	}
	if err := vm.Set("OperatorStatus", statusEnum); err != nil {
		return nil, fmt.Errorf("failed to inject status enum: %w", err)
	}

	if err := registerArrowBuilders(vm); err != nil {
		return nil, fmt.Errorf("failed to register arrow builders: %w", err)
	}

	return &Interpreter{vm: vm}, nil
}

// registerConsole routes the usual console methods into the host logger so
// scripted prints end up in structured output.
func registerConsole(vm *goja.Runtime, logger *zap.Logger) error {
	format := func(call goja.FunctionCall) string {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		return strings.Join(parts, " ")
	}
	console := vm.NewObject()
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		logger.Info(format(call))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := console.Set("warn", func(call goja.FunctionCall) goja.Value {
		logger.Warn(format(call))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := console.Set("error", func(call goja.FunctionCall) goja.Value {
		logger.Error(format(call))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	return vm.Set("console", console)
}

// Do runs f inside the interpreter critical section. The lock is released on
// every exit path, including panics, so an unwinding operator never leaks
// lock ownership.
func (i *Interpreter) Do(f func(vm *goja.Runtime) error) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return f(i.vm)
}

// Yield releases the interpreter lock while f runs so other threads can
// progress during blocking sends. It must only be called from code executing
// inside Do.
func (i *Interpreter) Yield(f func()) {
	i.mu.Unlock()
	defer i.mu.Lock()
	f()
}
