package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
)

// State of the bootstrap gate
type State int32

const (
	StatePending State = iota
	StateStarting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Gate provisions the shared runtime exactly once and hands the same Handle
// to every caller. A failed bootstrap is kept and returned to every later
// caller; it is never retried.
type Gate struct {
	prov   Provisioner
	libs   Libraries
	logger *slog.Logger

	once  sync.Once
	done  chan struct{}
	state atomic.Int32

	// set once before done is closed
	handle *Handle
	err    error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGate creates a gate. Nothing is started until Ready or Warm is called.
func NewGate(prov Provisioner, libs Libraries, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		prov:   prov,
		libs:   libs,
		logger: logger.With("component", "gate"),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Ready waits for the engine. The first call starts the bootstrap; callers
// arriving while it runs wait for the same outcome. ctx only bounds the
// wait, cancelling it never aborts the bootstrap itself.
func (g *Gate) Ready(ctx context.Context) (*Handle, error) {
	g.start()

	select {
	case <-g.done:
		return g.handle, g.err
	default:
	}

	select {
	case <-g.done:
		return g.handle, g.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Warm starts the bootstrap without waiting for it
func (g *Gate) Warm() {
	g.start()
}

// State returns the current gate state
func (g *Gate) State() State {
	return State(g.state.Load())
}

// Close aborts a running bootstrap and shuts the runtime down. The gate
// cannot be used afterwards.
func (g *Gate) Close() error {
	g.once.Do(func() {
		g.err = apperrors.NewEngineError(apperrors.KindBootstrap, "close", "engine closed", nil)
		g.state.Store(int32(StateFailed))
		close(g.done)
	})
	select {
	case <-g.done:
	default:
		// abort a bootstrap still in flight
		g.cancel()
		<-g.done
	}

	var err error
	if g.handle != nil {
		err = g.handle.close()
	}
	g.cancel()
	return err
}

func (g *Gate) start() {
	g.once.Do(func() {
		g.state.Store(int32(StateStarting))
		go g.bootstrap()
	})
}

func (g *Gate) bootstrap() {
	defer close(g.done)

	start := time.Now()
	g.logger.Info("bootstrapping engine",
		"notation", g.libs.Notation.Name,
		"fingering", g.libs.Fingering.Name)

	handle, err := g.provision()
	if err != nil {
		g.err = err
		g.state.Store(int32(StateFailed))
		g.logger.Error("engine bootstrap failed", "error", err, "elapsed", time.Since(start))
		return
	}

	g.handle = handle
	g.state.Store(int32(StateReady))
	g.logger.Info("engine ready", "elapsed", time.Since(start))
}

func (g *Gate) provision() (*Handle, error) {
	rt, err := g.prov.Provision(g.ctx)
	if err != nil {
		return nil, bootstrapError("provision", err)
	}

	// notation first, then the fingering library against an environment
	// where its unused optional imports already resolve to stubs
	steps := []struct {
		lib Library
		env Environment
	}{
		{g.libs.Notation, Environment{}},
		{g.libs.Fingering, Environment{Stubs: g.libs.Stubs}},
	}
	for _, step := range steps {
		g.logger.Debug("loading library", "library", step.lib.Name, "stubs", step.env.Stubs)
		if err := rt.Load(g.ctx, step.lib, step.env); err != nil {
			rt.Close()
			return nil, bootstrapError("load "+step.lib.Name, err)
		}
	}

	return &Handle{rt: rt}, nil
}

func bootstrapError(op string, err error) error {
	var ee *apperrors.EngineError
	if errors.As(err, &ee) && ee.Kind == apperrors.KindBootstrap {
		return ee
	}
	return apperrors.NewEngineError(apperrors.KindBootstrap, op, err.Error(), err)
}
