package script

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/dop251/goja"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/daedalus/internal/telemetry"
	"github.com/wehubfusion/daedalus/pkg/descriptor"
	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/message"
	"github.com/wehubfusion/daedalus/pkg/operator"
)

// moduleExt is the file extension for downloaded script sources.
const moduleExt = "js"

// Config wires a script host to its operator and surrounding node.
type Config struct {
	NodeID     message.NodeID
	OperatorID message.OperatorID
	// Source is a local path or a URL for the operator module.
	Source     string
	Descriptor *descriptor.Descriptor
	// Events receives every event the operator produces.
	Events chan<- operator.Event
	// Done is closed when the node stops consuming events.
	Done <-chan struct{}
	// Tracer enables telemetry-context re-parenting on inputs when non-nil.
	Tracer trace.Tracer
	Logger *zap.Logger
}

func (c *Config) validate() error {
	if c.Source == "" {
		return stderrors.New("operator source cannot be empty")
	}
	if c.Events == nil {
		return stderrors.New("events channel cannot be nil")
	}
	if c.Logger == nil {
		return stderrors.New("logger cannot be nil")
	}
	return nil
}

// Host drives one scripted operator.
type Host struct {
	cfg    Config
	logger *zap.Logger
}

// NewHost validates the configuration and returns a host ready to run.
func NewHost(cfg Config) (*Host, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger.With(
		zap.String("node_id", string(cfg.NodeID)),
		zap.String("operator_id", string(cfg.OperatorID)))
	return &Host{cfg: cfg, logger: logger}, nil
}

// Run resolves, initializes and drives the operator until a stop condition.
// initDone receives exactly one value: nil after successful initialization,
// or the initialization error. The operator instance is destroyed before Run
// returns.
func (h *Host) Run(incoming <-chan operator.IncomingEvent, initDone chan<- error) (operator.StopReason, error) {
	path, moduleName, interp, inst, err := h.initialize()
	initDone <- err
	if err != nil {
		return 0, err
	}

	callback := &sendOutputCallback{
		interp: interp,
		alloc:  operator.SampleAllocator{Events: h.cfg.Events, Done: h.cfg.Done},
		events: h.cfg.Events,
		done:   h.cfg.Done,
	}

	reason, runErr := h.eventLoop(incoming, interp, &inst, callback, path, moduleName)

	// Drop the operator reference inside a critical section so script
	// finalizers observe a consistent runtime.
	_ = interp.Do(func(vm *goja.Runtime) error {
		inst = nil
		return nil
	})

	if runErr != nil {
		return 0, fmt.Errorf("error in script module at %s: %w", path, runErr)
	}
	return reason, nil
}

func (h *Host) initialize() (path, moduleName string, interp *Interpreter, inst *goja.Object, err error) {
	path, err = operator.ResolveSource(h.cfg.NodeID, h.cfg.OperatorID, h.cfg.Source, moduleExt)
	if err != nil {
		return "", "", nil, nil, err
	}
	moduleName, err = operator.ModuleName(path)
	if err != nil {
		return "", "", nil, nil, err
	}

	interp, err = newInterpreter(h.logger)
	if err != nil {
		return "", "", nil, nil, errors.NewError(errors.CodeBind,
			"failed to initialize interpreter", err)
	}

	err = interp.Do(func(vm *goja.Runtime) error {
		cls, err := loadOperatorClass(vm, path, moduleName)
		if err != nil {
			return err
		}
		obj, err := instantiate(vm, cls)
		if err != nil {
			return err
		}
		if h.cfg.Descriptor != nil {
			if err := obj.Set("dataflow_descriptor", vm.ToValue(h.cfg.Descriptor.Tree())); err != nil {
				return errors.NewError(errors.CodeBind,
					"failed to set dataflow_descriptor", err)
			}
		}
		inst = obj
		return nil
	})
	if err != nil {
		return "", "", nil, nil, err
	}
	return path, moduleName, interp, inst, nil
}

func (h *Host) eventLoop(
	incoming <-chan operator.IncomingEvent,
	interp *Interpreter,
	inst **goja.Object,
	callback *sendOutputCallback,
	path, moduleName string,
) (operator.StopReason, error) {
	reloaded := false

	for {
		event, ok := <-incoming
		if !ok {
			return operator.StopReasonInputsClosed, nil
		}

		if _, isReload := event.(operator.ReloadEvent); isReload {
			reloaded = true
			if err := h.reloadOperator(interp, inst, path, moduleName); err != nil {
				h.logger.Error("failed to reload operator", zap.Error(err))
			}
		}

		var status operator.Status
		err := interp.Do(func(vm *goja.Runtime) error {
			if input, isInput := event.(operator.InputEvent); isInput && h.cfg.Tracer != nil {
				ctx := telemetry.Deserialize(context.Background(),
					input.Metadata.Parameters.OpenTelemetryContext)
				ctx, span := h.cfg.Tracer.Start(ctx, "on_event",
					trace.WithAttributes(attribute.String("input_id", string(input.InputID))))
				defer span.End()
				input.Metadata.Parameters.OpenTelemetryContext = telemetry.Serialize(ctx)
				event = input
			}

			view, err := eventView(vm, event)
			if err != nil {
				return err
			}

			onEvent, ok := goja.AssertFunction((*inst).Get("on_event"))
			if !ok {
				return errors.NewError(errors.CodeBind,
					"operator has no callable on_event method", nil)
			}

			result, callErr := onEvent(*inst, view, callback.value(vm))
			if callErr != nil {
				if reloaded {
					// Allow errors in a hot-reloading session to help development.
					h.logger.Warn("operator raised during on_event",
						zap.Error(scriptError(callErr)))
					status = operator.StatusContinue
					return nil
				}
				return fmt.Errorf("on_event raised: %w", scriptError(callErr))
			}

			status, err = extractStatus(vm, result)
			return err
		})
		if err != nil {
			return 0, err
		}

		switch status {
		case operator.StatusContinue:
		case operator.StatusStop:
			return operator.StopReasonExplicitStop, nil
		case operator.StatusStopAll:
			return operator.StopReasonExplicitStopAll, nil
		default:
			return 0, errors.NewError(errors.CodeProtocol,
				fmt.Sprintf("on_event returned invalid status %d", status),
				errors.ErrInvalidStatus)
		}
	}
}

// reloadOperator re-reads the module from disk, instantiates a fresh Operator
// and merges the previous instance's state bag into the new one: previous
// values overwrite, keys set only by the new constructor remain. On failure
// the previous instance is kept.
func (h *Host) reloadOperator(interp *Interpreter, inst **goja.Object, path, moduleName string) error {
	return interp.Do(func(vm *goja.Runtime) error {
		cls, err := loadOperatorClass(vm, path, moduleName)
		if err != nil {
			return errors.NewError(errors.CodeReload,
				fmt.Sprintf("failed to reload module %s", moduleName), err)
		}
		fresh, err := instantiate(vm, cls)
		if err != nil {
			return errors.NewError(errors.CodeReload,
				"failed to instantiate reloaded operator", err)
		}

		previous := *inst
		for _, key := range previous.Keys() {
			if err := fresh.Set(key, previous.Get(key)); err != nil {
				return errors.NewError(errors.CodeReload,
					fmt.Sprintf("failed to restore operator state key %q", key), err)
			}
		}

		*inst = fresh
		return nil
	})
}
