package library

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/daedalus/internal/telemetry"
	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/message"
	"github.com/wehubfusion/daedalus/pkg/operator"
)

// sourceExt is the file extension for downloaded shared-library sources.
const sourceExt = "so"

// Config wires a library host to its operator and surrounding node.
type Config struct {
	NodeID     message.NodeID
	OperatorID message.OperatorID
	// Source is a local path or a URL for the operator library.
	Source string
	// Loader resolves the source to a factory; defaults to PluginLoader.
	Loader Loader
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

// Host drives one shared-library operator.
type Host struct {
	cfg    Config
	logger *zap.Logger
}

// NewHost validates the configuration and returns a host ready to run.
func NewHost(cfg Config) (*Host, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Loader == nil {
		cfg.Loader = PluginLoader{}
	}
	logger := cfg.Logger.With(
		zap.String("node_id", string(cfg.NodeID)),
		zap.String("operator_id", string(cfg.OperatorID)))
	return &Host{cfg: cfg, logger: logger}, nil
}

// Run resolves, initializes and drives the operator until a stop condition.
// initDone receives exactly one value. The operator instance is released
// before Run returns.
func (h *Host) Run(incoming <-chan operator.IncomingEvent, initDone chan<- error) (operator.StopReason, error) {
	factory, instance, err := h.initialize()
	initDone <- err
	if err != nil {
		return 0, err
	}

	send := h.sendOutput()
	reloaded := false
	var reason operator.StopReason

loop:
	for {
		event, ok := <-incoming
		if !ok {
			reason = operator.StopReasonInputsClosed
			break
		}

		if _, isReload := event.(operator.ReloadEvent); isReload {
			reloaded = true
			if fresh, err := h.reloadOperator(factory, instance); err != nil {
				h.logger.Error("failed to reload operator", zap.Error(err))
			} else {
				instance = fresh
			}
		}

		next, fatal := h.handleEvent(instance, event, send, reloaded)
		if fatal != nil {
			return 0, fatal
		}
		if next != nil {
			reason = *next
			break loop
		}
	}

	return reason, nil
}

// handleEvent delivers one event to the operator, re-parenting the telemetry
// context first when tracing is enabled.
func (h *Host) handleEvent(instance Operator, event operator.IncomingEvent, send SendOutput, reloaded bool) (*operator.StopReason, error) {
	if input, isInput := event.(operator.InputEvent); isInput && h.cfg.Tracer != nil {
		ctx := telemetry.Deserialize(context.Background(),
			input.Metadata.Parameters.OpenTelemetryContext)
		ctx, span := h.cfg.Tracer.Start(ctx, "on_event",
			trace.WithAttributes(attribute.String("input_id", string(input.InputID))))
		defer span.End()
		input.Metadata.Parameters.OpenTelemetryContext = telemetry.Serialize(ctx)
		event = input
	}

	status, err := instance.OnEvent(event, send)
	return h.mapStatus(status, err, reloaded)
}

// mapStatus converts an OnEvent result into the loop action: nil,nil to
// continue, a stop reason to exit, or a fatal error.
func (h *Host) mapStatus(status operator.Status, err error, reloaded bool) (*operator.StopReason, error) {
	if err != nil {
		if reloaded {
			// Allow errors in a hot-reloading session to help development.
			h.logger.Warn("operator raised during on_event", zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("on_event raised: %w", err)
	}
	switch status {
	case operator.StatusContinue:
		return nil, nil
	case operator.StatusStop:
		reason := operator.StopReasonExplicitStop
		return &reason, nil
	case operator.StatusStopAll:
		reason := operator.StopReasonExplicitStopAll
		return &reason, nil
	default:
		return nil, errors.NewError(errors.CodeProtocol,
			fmt.Sprintf("on_event returned invalid status %d", status),
			errors.ErrInvalidStatus)
	}
}

func (h *Host) initialize() (Factory, Operator, error) {
	path, err := operator.ResolveSource(h.cfg.NodeID, h.cfg.OperatorID, h.cfg.Source, sourceExt)
	if err != nil {
		return nil, nil, err
	}
	factory, err := h.cfg.Loader.Load(path)
	if err != nil {
		return nil, nil, err
	}
	instance, err := factory()
	if err != nil {
		return nil, nil, errors.NewError(errors.CodeBind,
			"failed to construct operator", err)
	}
	return factory, instance, nil
}

// reloadOperator constructs a fresh instance and carries the previous state
// over when both instances support it.
func (h *Host) reloadOperator(factory Factory, previous Operator) (Operator, error) {
	fresh, err := factory()
	if err != nil {
		return nil, errors.NewError(errors.CodeReload,
			"failed to construct reloaded operator", err)
	}
	if carrier, ok := previous.(StateCarrier); ok {
		if freshCarrier, ok := fresh.(StateCarrier); ok {
			freshCarrier.RestoreState(carrier.SaveState())
		}
	}
	return fresh, nil
}

func (h *Host) sendOutput() SendOutput {
	alloc := operator.SampleAllocator{Events: h.cfg.Events, Done: h.cfg.Done}
	return func(outputID message.DataID, data any, params message.Parameters) error {
		if outputID == "" {
			return errors.NewError(errors.CodeMarshal,
				"output id must be a non-empty string", nil)
		}
		smp, typeInfo, err := operator.EncodeOutput(alloc, data)
		if err != nil {
			return err
		}
		event := operator.OutputEvent{
			OutputID:   outputID,
			TypeInfo:   typeInfo,
			Parameters: params,
			Data:       smp,
		}
		select {
		case h.cfg.Events <- event:
			return nil
		case <-h.cfg.Done:
			smp.Close()
			return errors.NewError(errors.CodeTransport,
				"failed to send output to runtime", errors.ErrEventsChannelClosed)
		}
	}
}
