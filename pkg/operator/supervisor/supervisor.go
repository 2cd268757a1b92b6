// Package supervisor runs one operator on a dedicated goroutine, translating
// every possible outcome of the host (clean stop, error, panic) into exactly
// one terminal event on the node's events channel.
package supervisor

import (
	stderrors "errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/daedalus/pkg/descriptor"
	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/message"
	"github.com/wehubfusion/daedalus/pkg/operator"
	"github.com/wehubfusion/daedalus/pkg/operator/library"
	"github.com/wehubfusion/daedalus/pkg/operator/script"
)

// Config wires a supervisor to one operator definition.
type Config struct {
	NodeID     message.NodeID
	Definition operator.Definition
	// Descriptor is the dataflow description exposed to script operators.
	Descriptor *descriptor.Descriptor
	// Events receives every event the operator produces, ending with exactly
	// one terminal event.
	Events chan<- operator.Event
	// Done is closed when the node stops consuming events; terminal delivery
	// is abandoned once it fires.
	Done <-chan struct{}
	// Loader overrides the shared-library loader, mainly for tests.
	Loader library.Loader
	Tracer trace.Tracer
	Logger *zap.Logger
}

func (c *Config) validate() error {
	if c.Definition.ID == "" {
		return stderrors.New("operator id cannot be empty")
	}
	if c.Events == nil {
		return stderrors.New("events channel cannot be nil")
	}
	if c.Logger == nil {
		return stderrors.New("logger cannot be nil")
	}
	return nil
}

// Run hosts the operator until it stops, fails or panics. initDone receives
// exactly one value: nil once the operator is initialized and processing
// events, or the initialization error. Run never lets a panic escape; a
// recovered panic is reported to Sentry when a client is configured and
// forwarded as a PanicEvent.
func Run(cfg Config, incoming <-chan operator.IncomingEvent, initDone chan<- error) {
	if err := cfg.validate(); err != nil {
		initDone <- err
		if cfg.Events != nil {
			if cfg.Logger == nil {
				cfg.Logger = zap.NewNop()
			}
			sendTerminal(cfg, operator.ErrorEvent{Err: err})
		}
		return
	}

	var terminal operator.Event

	func() {
		defer func() {
			if payload := recover(); payload != nil {
				if hub := sentry.CurrentHub(); hub.Client() != nil {
					hub.Recover(payload)
				}
				cfg.Logger.Error("operator panicked",
					zap.String("operator_id", string(cfg.Definition.ID)),
					zap.Any("panic", payload))
				terminal = operator.PanicEvent{Payload: payload}
			}
		}()
		reason, err := host(cfg, incoming, initDone)
		if err != nil {
			terminal = operator.ErrorEvent{Err: err}
			return
		}
		terminal = operator.FinishedEvent{Reason: reason}
	}()

	sendTerminal(cfg, terminal)
}

// host dispatches on the source kind and drives the matching host to
// completion.
func host(cfg Config, incoming <-chan operator.IncomingEvent, initDone chan<- error) (operator.StopReason, error) {
	switch cfg.Definition.Source.Kind {
	case operator.SourceSharedLibrary:
		h, err := library.NewHost(library.Config{
			NodeID:     cfg.NodeID,
			OperatorID: cfg.Definition.ID,
			Source:     cfg.Definition.Source.URI,
			Loader:     cfg.Loader,
			Events:     cfg.Events,
			Done:       cfg.Done,
			Tracer:     cfg.Tracer,
			Logger:     cfg.Logger,
		})
		if err != nil {
			initDone <- err
			return 0, err
		}
		return h.Run(incoming, initDone)

	case operator.SourceScript:
		h, err := script.NewHost(script.Config{
			NodeID:     cfg.NodeID,
			OperatorID: cfg.Definition.ID,
			Source:     cfg.Definition.Source.URI,
			Descriptor: cfg.Descriptor,
			Events:     cfg.Events,
			Done:       cfg.Done,
			Tracer:     cfg.Tracer,
			Logger:     cfg.Logger,
		})
		if err != nil {
			initDone <- err
			return 0, err
		}
		return h.Run(incoming, initDone)

	case operator.SourceWasm:
		err := errors.NewError(errors.CodeResolution,
			fmt.Sprintf("operator %s uses an unsupported source kind", cfg.Definition.ID),
			errors.ErrUnsupportedSource)
		initDone <- err
		return 0, err

	default:
		err := errors.NewError(errors.CodeResolution,
			fmt.Sprintf("operator %s has unknown source kind %q",
				cfg.Definition.ID, cfg.Definition.Source.Kind),
			errors.ErrUnsupportedSource)
		initDone <- err
		return 0, err
	}
}

// sendTerminal delivers the terminal event unless the node already stopped
// listening.
func sendTerminal(cfg Config, event operator.Event) {
	select {
	case cfg.Events <- event:
	case <-cfg.Done:
		cfg.Logger.Warn("dropping terminal event, node stopped listening",
			zap.String("operator_id", string(cfg.Definition.ID)))
	}
}
