package library

import (
	"fmt"
	"plugin"

	"github.com/wehubfusion/daedalus/pkg/errors"
)

// PluginLoader loads operators from Go plugins exposing a NewOperator symbol
// with the signature func() (library.Operator, error).
type PluginLoader struct{}

// Load opens the plugin at path and binds its constructor.
func (PluginLoader) Load(path string) (Factory, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.NewError(errors.CodeBind,
			fmt.Sprintf("failed to open operator plugin %s", path), err)
	}
	sym, err := p.Lookup("NewOperator")
	if err != nil {
		return nil, errors.NewError(errors.CodeBind,
			"operator plugin has no NewOperator symbol", err)
	}
	ctor, ok := sym.(func() (Operator, error))
	if !ok {
		return nil, errors.NewError(errors.CodeBind,
			fmt.Sprintf("NewOperator has unexpected type %T", sym), nil)
	}
	return Factory(ctor), nil
}
