// Package enginetest provides an in-process engine runtime for tests. It
// parses MIDI with the Go score reader and assigns fingers by a fixed rule,
// so results are deterministic without a Python interpreter.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/apsjohn/pianovision-fingerings/internal/codec"
	"github.com/apsjohn/pianovision-fingerings/internal/engine"
	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
	"github.com/apsjohn/pianovision-fingerings/internal/fingering"
	"github.com/apsjohn/pianovision-fingerings/internal/score"
)

// Split is the lowest pitch assigned to the right hand
const Split = 60

// LoadCall records one library load
type LoadCall struct {
	Library engine.Library
	Env     engine.Environment
}

// Provisioner hands out fake runtimes and counts provisioning
type Provisioner struct {
	// Gate, when set, blocks Provision until it is closed
	Gate chan struct{}
	// FailProvision makes Provision fail
	FailProvision error
	// FailLoad makes loading the named library fail
	FailLoad string
	// FailComputeOnce makes the first ComputeAll or Annotate call fail as a
	// computation error; later calls succeed
	FailComputeOnce error

	provisions atomic.Int32

	mu      sync.Mutex
	runtime *Runtime
}

// Provision implements engine.Provisioner
func (p *Provisioner) Provision(ctx context.Context) (engine.Runtime, error) {
	p.provisions.Add(1)

	if p.Gate != nil {
		select {
		case <-p.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.FailProvision != nil {
		return nil, p.FailProvision
	}

	rt := &Runtime{failLoad: p.FailLoad, failCompute: p.FailComputeOnce}
	p.mu.Lock()
	p.runtime = rt
	p.mu.Unlock()
	return rt, nil
}

// Provisions returns how many times Provision ran
func (p *Provisioner) Provisions() int {
	return int(p.provisions.Load())
}

// Runtime returns the last runtime handed out
func (p *Provisioner) Runtime() *Runtime {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runtime
}

// Runtime is the fake engine runtime
type Runtime struct {
	failLoad    string
	failCompute error

	mu       sync.Mutex
	loads    []LoadCall
	calls    int
	inFlight int
	maxLive  int
	closed   bool
}

// Load implements engine.Runtime
func (r *Runtime) Load(ctx context.Context, lib engine.Library, env engine.Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lib.Name == r.failLoad {
		return fmt.Errorf("install %s: no matching distribution", lib.Name)
	}
	r.loads = append(r.loads, LoadCall{Library: lib, Env: env})
	return nil
}

// ComputeAll implements engine.Runtime. Notes below Split go to the left
// hand; fingers cycle 1..5 per hand in onset order.
func (r *Runtime) ComputeAll(ctx context.Context, encoded string, hand fingering.HandSize) ([]fingering.Note, []fingering.Note, error) {
	defer r.enter()()

	sc, err := r.parse(encoded)
	if err != nil {
		return nil, nil, err
	}

	var left, right []fingering.Note
	for _, n := range sc.Notes {
		fn := fingering.Note{Tick: n.Tick, Pitch: int(n.Pitch)}
		if n.Pitch < Split {
			fn.Finger = len(left)%5 + 1
			left = append(left, fn)
		} else {
			fn.Finger = len(right)%5 + 1
			right = append(right, fn)
		}
	}
	return left, right, nil
}

// Annotate implements engine.Runtime by re-serializing the parsed notes
func (r *Runtime) Annotate(ctx context.Context, encoded string, hand fingering.HandSize) (string, error) {
	defer r.enter()()

	sc, err := r.parse(encoded)
	if err != nil {
		return "", err
	}

	events := make([]score.Event, 0, len(sc.Notes))
	for _, n := range sc.Notes {
		events = append(events, score.Event{Tick: n.Tick, Pitch: n.Pitch, Duration: 120})
	}
	data, err := score.Build(events)
	if err != nil {
		return "", apperrors.NewEngineError(apperrors.KindComputation, "annotate", err.Error(), err)
	}
	return codec.Encode(data), nil
}

// Close implements engine.Runtime
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Loads returns the library loads in order
func (r *Runtime) Loads() []LoadCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LoadCall(nil), r.loads...)
}

// Calls returns how many compute calls ran
func (r *Runtime) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// MaxConcurrent returns the highest number of overlapping compute calls
func (r *Runtime) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxLive
}

// Closed reports whether Close was called
func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Runtime) enter() func() {
	r.mu.Lock()
	r.calls++
	r.inFlight++
	if r.inFlight > r.maxLive {
		r.maxLive = r.inFlight
	}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}
}

func (r *Runtime) parse(encoded string) (*score.Score, error) {
	r.mu.Lock()
	fail := r.failCompute
	r.failCompute = nil
	r.mu.Unlock()
	if fail != nil {
		return nil, apperrors.NewEngineError(apperrors.KindComputation, "compute", fail.Error(), fail)
	}

	data, err := codec.Decode(encoded)
	if err != nil {
		return nil, err
	}
	sc, err := score.Read(data)
	if err != nil {
		kind := apperrors.KindInternal
		if errors.Is(err, apperrors.ErrParse) {
			kind = apperrors.KindParse
		}
		return nil, apperrors.NewEngineError(kind, "parse", err.Error(), err)
	}
	return sc, nil
}
