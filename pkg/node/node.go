// Package node plumbs operators onto a communication layer: it owns the
// bounded channels around each operator, pumps outputs onto publishers and
// answers sample-allocation requests.
package node

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/daedalus/pkg/descriptor"
	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/message"
	"github.com/wehubfusion/daedalus/pkg/operator"
	"github.com/wehubfusion/daedalus/pkg/operator/library"
	"github.com/wehubfusion/daedalus/pkg/operator/supervisor"
	"github.com/wehubfusion/daedalus/pkg/sample"
	"github.com/wehubfusion/daedalus/pkg/transport"
)

const (
	// incomingCapacity bounds how many events may queue toward one operator.
	incomingCapacity = 16
	// eventsCapacity leaves room for an allocation request plus in-flight
	// outputs without blocking the operator thread.
	eventsCapacity = 8
)

// Config describes one node process.
type Config struct {
	ID message.NodeID
	// Descriptor is the dataflow description exposed to script operators.
	Descriptor *descriptor.Descriptor
	// Layer carries outputs to the rest of the dataflow.
	Layer transport.CommunicationLayer
	// OnStopAll is invoked when an operator requests a dataflow-wide stop.
	OnStopAll func(message.OperatorID)
	// Loader overrides the shared-library loader, mainly for tests.
	Loader library.Loader
	Tracer trace.Tracer
	Logger *zap.Logger
}

// Node hosts operators and connects them to the transport.
type Node struct {
	cfg        Config
	instanceID string
	loaner     transport.SampleLoaner
	logger     *zap.Logger

	mu        sync.Mutex
	operators map[message.OperatorID]*OperatorHandle
	closed    bool
}

// New validates the configuration and returns a node with a fresh instance
// id.
func New(cfg Config) (*Node, error) {
	if cfg.ID == "" {
		return nil, stderrors.New("node id cannot be empty")
	}
	if cfg.Layer == nil {
		return nil, stderrors.New("communication layer cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, stderrors.New("logger cannot be nil")
	}
	instanceID := uuid.NewString()
	loaner, _ := cfg.Layer.(transport.SampleLoaner)
	return &Node{
		cfg:        cfg,
		instanceID: instanceID,
		loaner:     loaner,
		logger: cfg.Logger.With(
			zap.String("node_id", string(cfg.ID)),
			zap.String("instance_id", instanceID)),
		operators: make(map[message.OperatorID]*OperatorHandle),
	}, nil
}

// InstanceID identifies this node run.
func (n *Node) InstanceID() string {
	return n.instanceID
}

// StartOperator spawns the operator on a dedicated OS thread and starts the
// event pump. It blocks until the operator finished initializing.
func (n *Node) StartOperator(def operator.Definition) (*OperatorHandle, error) {
	if def.ID == "" {
		return nil, stderrors.New("operator id cannot be empty")
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, stderrors.New("node is closed")
	}
	if _, exists := n.operators[def.ID]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("operator %s already started", def.ID)
	}

	h := &OperatorHandle{
		id:       def.ID,
		incoming: make(chan operator.IncomingEvent, incomingCapacity),
		events:   make(chan operator.Event, eventsCapacity),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	n.operators[def.ID] = h
	n.mu.Unlock()

	initDone := make(chan error, 1)
	go func() {
		// The host owns an interpreter; keep it on one thread for its whole
		// lifetime.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		supervisor.Run(supervisor.Config{
			NodeID:     n.cfg.ID,
			Definition: def,
			Descriptor: n.cfg.Descriptor,
			Events:     h.events,
			Done:       h.done,
			Loader:     n.cfg.Loader,
			Tracer:     n.cfg.Tracer,
			Logger:     n.logger,
		}, h.incoming, initDone)
	}()
	go n.pump(h)

	if err := <-initDone; err != nil {
		// The supervisor still emits its terminal event; let the pump drain
		// it before the handle is discarded.
		h.Wait()
		n.mu.Lock()
		delete(n.operators, def.ID)
		n.mu.Unlock()
		return nil, fmt.Errorf("failed to initialize operator %s: %w", def.ID, err)
	}
	return h, nil
}

// pump consumes operator events until the terminal one, publishing outputs
// and answering allocation requests.
func (n *Node) pump(h *OperatorHandle) {
	logger := n.logger.With(zap.String("operator_id", string(h.id)))
	for event := range h.events {
		switch e := event.(type) {
		case operator.OutputEvent:
			n.publishOutput(logger, h, e)

		case operator.AllocateOutputSample:
			smp, err := n.loanSample(e.Len)
			// Reply is one-shot with capacity 1, the send never blocks.
			e.Reply <- operator.AllocationResult{Sample: smp, Err: err}

		case operator.FinishedEvent:
			logger.Info("operator finished",
				zap.String("reason", e.Reason.String()))
			h.finish(Result{Reason: e.Reason})
			if e.Reason == operator.StopReasonExplicitStopAll && n.cfg.OnStopAll != nil {
				n.cfg.OnStopAll(h.id)
			}
			return

		case operator.ErrorEvent:
			logger.Error("operator failed", zap.Error(e.Err))
			h.finish(Result{Err: e.Err})
			return

		case operator.PanicEvent:
			logger.Error("operator panicked", zap.Any("panic", e.Payload))
			h.finish(Result{Err: fmt.Errorf("operator panicked: %v", e.Payload),
				Panicked: true, PanicPayload: e.Payload})
			return
		}
	}
}

func (n *Node) publishOutput(logger *zap.Logger, h *OperatorHandle, out operator.OutputEvent) {
	topic := fmt.Sprintf("%s/%s", n.cfg.ID, out.OutputID)
	pub, err := n.cfg.Layer.Publisher(topic)
	if err != nil {
		logger.Error("failed to create publisher",
			zap.String("topic", topic), zap.Error(err))
		if out.Data != nil {
			out.Data.Close()
		}
		return
	}
	var payload []byte
	if out.Data != nil {
		payload = out.Data.Bytes()
	}
	if err := pub.Publish(payload); err != nil {
		logger.Error("failed to publish output",
			zap.String("topic", topic), zap.Error(err))
	}
	if out.Data != nil {
		out.Data.Close()
	}
}

// loanSample asks the layer for a transport loan, falling back to an aligned
// heap buffer when the backend cannot loan.
func (n *Node) loanSample(size int) (*sample.Sample, error) {
	if n.loaner != nil {
		return n.loaner.LoanSample(size)
	}
	return sample.NewAligned(size), nil
}

// Close shuts every operator down by closing its inputs and waits for all of
// them to terminate.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	handles := make([]*OperatorHandle, 0, len(n.operators))
	for _, h := range n.operators {
		handles = append(handles, h)
	}
	n.mu.Unlock()

	var errs []error
	for _, h := range handles {
		h.CloseInputs()
		if _, err := h.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("operator %s: %w", h.id, err))
		}
	}
	return stderrors.Join(errs...)
}

// Result is the terminal outcome of one operator run.
type Result struct {
	Reason       operator.StopReason
	Err          error
	Panicked     bool
	PanicPayload any
}

// OperatorHandle is the embedding process's view of one running operator.
type OperatorHandle struct {
	id       message.OperatorID
	incoming chan operator.IncomingEvent
	events   chan operator.Event
	// done tells the operator side that the node stopped consuming events.
	done chan struct{}
	// finished is closed once the terminal event has been recorded.
	finished chan struct{}

	// sendMu is held for reading across every send on incoming and for
	// writing while closing it, so CloseInputs never closes the channel
	// under a blocked sender.
	sendMu       sync.RWMutex
	inputsClosed bool

	mu     sync.Mutex
	result Result
}

// ID returns the operator id this handle controls.
func (h *OperatorHandle) ID() message.OperatorID {
	return h.id
}

func (h *OperatorHandle) finish(result Result) {
	h.mu.Lock()
	h.result = result
	h.mu.Unlock()
	close(h.finished)
	close(h.done)
}

// send delivers one incoming event, failing once the operator terminated.
func (h *OperatorHandle) send(event operator.IncomingEvent) error {
	h.sendMu.RLock()
	defer h.sendMu.RUnlock()
	if h.inputsClosed {
		return errors.NewError(errors.CodeTransport,
			fmt.Sprintf("inputs of operator %s are closed", h.id), nil)
	}

	select {
	case h.incoming <- event:
		return nil
	case <-h.finished:
		return errors.NewError(errors.CodeTransport,
			fmt.Sprintf("operator %s already terminated", h.id), nil)
	}
}

// SendInput delivers a datum on the named input port.
func (h *OperatorHandle) SendInput(inputID message.DataID, metadata message.Metadata, data []byte) error {
	return h.send(operator.InputEvent{InputID: inputID, Metadata: metadata, Data: data})
}

// CloseInput signals that the named port will never deliver again.
func (h *OperatorHandle) CloseInput(inputID message.DataID) error {
	return h.send(operator.InputClosedEvent{InputID: inputID})
}

// Stop requests a clean shutdown; the current event completes first.
func (h *OperatorHandle) Stop() error {
	return h.send(operator.StopEvent{})
}

// Reload asks the operator host to re-read its implementation while keeping
// state.
func (h *OperatorHandle) Reload() error {
	return h.send(operator.ReloadEvent{})
}

// CloseInputs closes the incoming channel; the operator stops once it drained
// the queue.
func (h *OperatorHandle) CloseInputs() {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if h.inputsClosed {
		return
	}
	h.inputsClosed = true
	close(h.incoming)
}

// Wait blocks until the operator terminated and returns its outcome.
func (h *OperatorHandle) Wait() (Result, error) {
	<-h.finished
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.result.Err
}
