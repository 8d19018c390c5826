// Package worker runs the fingering message loop: one request at a time, in
// arrival order, against the single shared engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apsjohn/pianovision-fingerings/internal/cache"
	"github.com/apsjohn/pianovision-fingerings/internal/codec"
	"github.com/apsjohn/pianovision-fingerings/internal/engine"
	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
	"github.com/apsjohn/pianovision-fingerings/internal/fingering"
)

// ErrStopped is returned when posting to a worker whose loop has exited
var ErrStopped = errors.New("worker stopped")

// Engine provides the shared engine handle
type Engine interface {
	Ready(ctx context.Context) (*engine.Handle, error)
}

// Cache stores finished payloads
type Cache interface {
	Get(key string) (*cache.CachedOutput, bool)
	Put(key string, output *cache.CachedOutput) error
}

// Options configures a Worker
type Options struct {
	QueueSize       int
	DefaultHandSize fingering.HandSize
	Cache           Cache // optional
	Logger          *slog.Logger
}

// Stats counts processed requests
type Stats struct {
	Handled   int64 `json:"handled"`
	Failed    int64 `json:"failed"`
	CacheHits int64 `json:"cache_hits"`
	Queued    int   `json:"queued"`
}

type job struct {
	ctx   context.Context
	req   Request
	reply chan Response
}

// Worker owns the message loop
type Worker struct {
	engine Engine
	cache  Cache
	logger *slog.Logger

	defaultHand atomic.Value // fingering.HandSize
	queue       chan *job

	// stopping is closed when Run begins to shut down. Post holds mu for
	// reading across its send, so once Run holds it for writing and sets
	// closed, nothing can land in the queue after the final drain.
	stopping chan struct{}
	mu       sync.RWMutex
	closed   bool

	handled   atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64
}

// New creates a worker. Call Run to start consuming.
func New(eng Engine, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.DefaultHandSize == "" {
		opts.DefaultHandSize = fingering.DefaultHandSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	w := &Worker{
		engine:  eng,
		cache:   opts.Cache,
		logger:  opts.Logger.With("component", "worker"),
		queue:    make(chan *job, opts.QueueSize),
		stopping: make(chan struct{}),
	}
	w.defaultHand.Store(opts.DefaultHandSize)
	return w
}

// SetDefaultHandSize changes the label used for requests that carry none
func (w *Worker) SetDefaultHandSize(hs fingering.HandSize) {
	w.defaultHand.Store(hs)
}

// DefaultHandSize returns the current fallback label
func (w *Worker) DefaultHandSize() fingering.HandSize {
	return w.defaultHand.Load().(fingering.HandSize)
}

// Stats returns request counters
func (w *Worker) Stats() Stats {
	return Stats{
		Handled:   w.handled.Load(),
		Failed:    w.failed.Load(),
		CacheHits: w.cacheHits.Load(),
		Queued:    len(w.queue),
	}
}

// Post enqueues a request. The returned channel receives exactly one
// Response. ctx bounds the request while it is queued or waits for the
// engine, never the engine call itself.
func (w *Worker) Post(ctx context.Context, req Request) (<-chan Response, error) {
	j := &job{ctx: ctx, req: req, reply: make(chan Response, 1)}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, ErrStopped
	}

	req.progress(StageQueued)
	select {
	case w.queue <- j:
		return j.reply, nil
	case <-w.stopping:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do posts a request and waits for its response
func (w *Worker) Do(ctx context.Context, req Request) Response {
	ch, err := w.Post(ctx, req)
	if err != nil {
		return Response{ID: req.ID, Mode: req.Mode, Err: err}
	}
	return <-ch
}

// Run consumes requests until ctx is cancelled. Requests still queued at
// that point are answered with the cancellation error.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "default_hand_size", w.DefaultHandSize())

	for {
		select {
		case <-ctx.Done():
			w.stop(ctx.Err())
			return nil
		case j := <-w.queue:
			resp := w.handle(j)
			j.reply <- resp
		}
	}
}

// stop refuses new requests and answers every queued one with err
func (w *Worker) stop(err error) {
	// wake Posts blocked on a full queue so they release mu
	close(w.stopping)

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.drain(err)
}

func (w *Worker) drain(err error) {
	for {
		select {
		case j := <-w.queue:
			j.reply <- Response{ID: j.req.ID, Mode: j.req.Mode, Err: err}
		default:
			return
		}
	}
}

func (w *Worker) handle(j *job) Response {
	start := time.Now()
	resp := w.process(j.ctx, j.req)
	resp.Elapsed = time.Since(start)

	w.handled.Add(1)
	log := w.logger.With("id", j.req.ID, "mode", j.req.Mode, "elapsed", resp.Elapsed)
	if resp.Err != nil {
		w.failed.Add(1)
		log.Warn("request failed", "kind", apperrors.KindOf(resp.Err), "error", resp.Err)
	} else {
		log.Info("request done", "hand_size", resp.HandSize, "bytes", len(resp.Payload), "cached", resp.Cached)
	}

	j.req.progress(StageDone)
	return resp
}

// process runs one request: awaiting engine, then processing
func (w *Worker) process(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID, Mode: req.Mode}

	hand, err := fingering.ParseHandSize(req.HandSize, w.DefaultHandSize())
	if err != nil {
		resp.Err = apperrors.NewEngineError(apperrors.KindInvalidRequest, "hand_size", err.Error(), err)
		return resp
	}
	resp.HandSize = hand
	if req.Mode != ModeMap && req.Mode != ModeMIDI {
		resp.Err = apperrors.NewEngineError(apperrors.KindInvalidRequest, "mode", fmt.Sprintf("unknown mode %q", req.Mode), nil)
		return resp
	}

	req.progress(StageAwaitingEngine)
	handle, err := w.engine.Ready(ctx)
	if err != nil {
		resp.Err = err
		return resp
	}

	if len(req.MIDI) == 0 {
		resp.Err = apperrors.NewEngineError(apperrors.KindParse, "parse", "empty buffer", nil)
		return resp
	}

	key := cache.Key(req.MIDI, string(hand), string(req.Mode))
	if w.cache != nil {
		if out, ok := w.cache.Get(key); ok {
			if err := resp.fill(out.Payload); err == nil {
				w.cacheHits.Add(1)
				resp.Cached = true
				return resp
			}
		}
	}

	req.progress(StageProcessing)
	encoded := codec.Encode(req.MIDI)

	// an engine call always runs to completion; abandoning one would kill
	// the shared interpreter
	ctx = context.WithoutCancel(ctx)

	var payload string
	switch req.Mode {
	case ModeMap:
		payload, err = fingerToMap(ctx, handle, encoded, hand)
	case ModeMIDI:
		payload, err = handle.Annotate(ctx, encoded, hand)
	}
	if err != nil {
		resp.Err = err
		return resp
	}
	if err := resp.fill(payload); err != nil {
		resp.Err = err
		return resp
	}

	if w.cache != nil {
		out := &cache.CachedOutput{Payload: payload, Mode: string(req.Mode), HandSize: string(hand)}
		if err := w.cache.Put(key, out); err != nil {
			w.logger.Warn("cache write failed", "id", req.ID, "error", err)
		}
	}
	return resp
}

// fingerToMap computes both hands and renders the mapping document
func fingerToMap(ctx context.Context, handle *engine.Handle, encoded string, hand fingering.HandSize) (string, error) {
	left, right, err := handle.ComputeAll(ctx, encoded, hand)
	if err != nil {
		return "", err
	}
	doc, err := fingering.Project(left, right).Marshal()
	if err != nil {
		return "", apperrors.NewEngineError(apperrors.KindComputation, "marshal", err.Error(), err)
	}
	return doc, nil
}
