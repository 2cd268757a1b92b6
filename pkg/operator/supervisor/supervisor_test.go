package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/operator"
	"github.com/wehubfusion/daedalus/pkg/operator/library"
)

const waitTimeout = 5 * time.Second

type staticLoader struct {
	factory library.Factory
}

func (l staticLoader) Load(path string) (library.Factory, error) {
	return l.factory, nil
}

type panickyOperator struct{}

func (panickyOperator) OnEvent(event operator.IncomingEvent, send library.SendOutput) (operator.Status, error) {
	if _, ok := event.(operator.InputEvent); ok {
		panic("operator exploded")
	}
	return operator.StatusContinue, nil
}

func libraryDefinition(t *testing.T) operator.Definition {
	t.Helper()
	path := filepath.Join(t.TempDir(), "operator.so")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))
	return operator.Definition{
		ID:     "test-op",
		Source: operator.Source{Kind: operator.SourceSharedLibrary, URI: path},
	}
}

// run drives the supervisor on a goroutine and returns the collected
// non-terminal events plus the single terminal event.
func run(t *testing.T, cfg Config, incoming chan operator.IncomingEvent) (init error, terminal operator.Event) {
	t.Helper()

	events := make(chan operator.Event, 8)
	done := make(chan struct{})
	cfg.Events = events
	cfg.Done = done
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	t.Cleanup(func() { close(done) })

	initDone := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		Run(cfg, incoming, initDone)
		close(finished)
	}()

	select {
	case init = <-initDone:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for initialization")
	}

	for {
		select {
		case ev := <-events:
			switch ev.(type) {
			case operator.FinishedEvent, operator.ErrorEvent, operator.PanicEvent:
				select {
				case <-finished:
				case <-time.After(waitTimeout):
					t.Fatal("supervisor did not return after its terminal event")
				}
				// The terminal event must be the last one.
				select {
				case extra := <-events:
					t.Fatalf("event %T after the terminal event", extra)
				default:
				}
				return init, ev
			}
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for a terminal event")
		}
	}
}

func TestSupervisorFinishesCleanly(t *testing.T) {
	incoming := make(chan operator.IncomingEvent, 1)
	incoming <- operator.StopEvent{}

	init, terminal := run(t, Config{
		NodeID:     "test-node",
		Definition: libraryDefinition(t),
		Loader: staticLoader{factory: func() (library.Operator, error) {
			return stoppingOperator{}, nil
		}},
	}, incoming)

	require.NoError(t, init)
	finished, ok := terminal.(operator.FinishedEvent)
	require.True(t, ok, "expected FinishedEvent, got %T", terminal)
	assert.Equal(t, operator.StopReasonExplicitStop, finished.Reason)
}

func TestSupervisorReportsOperatorError(t *testing.T) {
	incoming := make(chan operator.IncomingEvent, 1)
	incoming <- operator.InputEvent{InputID: "in"}

	init, terminal := run(t, Config{
		NodeID:     "test-node",
		Definition: libraryDefinition(t),
		Loader: staticLoader{factory: func() (library.Operator, error) {
			return failingOperator{}, nil
		}},
	}, incoming)

	require.NoError(t, init)
	errEvent, ok := terminal.(operator.ErrorEvent)
	require.True(t, ok, "expected ErrorEvent, got %T", terminal)
	assert.Contains(t, errEvent.Err.Error(), "operator failure")
}

func TestSupervisorContainsPanic(t *testing.T) {
	incoming := make(chan operator.IncomingEvent, 1)
	incoming <- operator.InputEvent{InputID: "in"}

	init, terminal := run(t, Config{
		NodeID:     "test-node",
		Definition: libraryDefinition(t),
		Loader: staticLoader{factory: func() (library.Operator, error) {
			return panickyOperator{}, nil
		}},
	}, incoming)

	require.NoError(t, init)
	panicEvent, ok := terminal.(operator.PanicEvent)
	require.True(t, ok, "expected PanicEvent, got %T", terminal)
	assert.Equal(t, "operator exploded", panicEvent.Payload)
}

func TestSupervisorRejectsWasmSources(t *testing.T) {
	init, terminal := run(t, Config{
		NodeID: "test-node",
		Definition: operator.Definition{
			ID:     "wasm-op",
			Source: operator.Source{Kind: operator.SourceWasm, URI: "module.wasm"},
		},
	}, make(chan operator.IncomingEvent))

	require.Error(t, init)
	assert.ErrorIs(t, init, sdkerrors.ErrUnsupportedSource)
	errEvent, ok := terminal.(operator.ErrorEvent)
	require.True(t, ok, "expected ErrorEvent, got %T", terminal)
	assert.ErrorIs(t, errEvent.Err, sdkerrors.ErrUnsupportedSource)
}

func TestSupervisorReportsInvalidConfig(t *testing.T) {
	// An empty operator id fails validation; the caller still gets both the
	// init error and a terminal event, so nothing waiting on the operator's
	// outcome hangs.
	init, terminal := run(t, Config{
		NodeID: "test-node",
		Definition: operator.Definition{
			Source: operator.Source{Kind: operator.SourceScript, URI: "operator.js"},
		},
	}, make(chan operator.IncomingEvent))

	require.Error(t, init)
	errEvent, ok := terminal.(operator.ErrorEvent)
	require.True(t, ok, "expected ErrorEvent, got %T", terminal)
	assert.Contains(t, errEvent.Err.Error(), "operator id")
}

func TestSupervisorRejectsUnknownSourceKind(t *testing.T) {
	init, _ := run(t, Config{
		NodeID: "test-node",
		Definition: operator.Definition{
			ID:     "mystery-op",
			Source: operator.Source{Kind: "mystery", URI: "module.bin"},
		},
	}, make(chan operator.IncomingEvent))

	require.Error(t, init)
	assert.ErrorIs(t, init, sdkerrors.ErrUnsupportedSource)
}

type stoppingOperator struct{}

func (stoppingOperator) OnEvent(event operator.IncomingEvent, send library.SendOutput) (operator.Status, error) {
	if _, ok := event.(operator.StopEvent); ok {
		return operator.StatusStop, nil
	}
	return operator.StatusContinue, nil
}

type failingOperator struct{}

func (failingOperator) OnEvent(event operator.IncomingEvent, send library.SendOutput) (operator.Status, error) {
	return 0, errors.New("operator failure")
}
