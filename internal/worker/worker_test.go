package worker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/apsjohn/pianovision-fingerings/internal/cache"
	"github.com/apsjohn/pianovision-fingerings/internal/engine"
	"github.com/apsjohn/pianovision-fingerings/internal/engine/enginetest"
	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
	"github.com/apsjohn/pianovision-fingerings/internal/fingering"
	"github.com/apsjohn/pianovision-fingerings/internal/score"
	"github.com/apsjohn/pianovision-fingerings/internal/worker"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func scale(t *testing.T, pitches ...uint8) []byte {
	t.Helper()
	events := make([]score.Event, len(pitches))
	for i, p := range pitches {
		events[i] = score.Event{Tick: int64(i) * 480, Pitch: p, Duration: 240}
	}
	data, err := score.Build(events)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return data
}

// start runs a worker over a fresh gate and returns it with its provisioner
func start(t *testing.T, prov *enginetest.Provisioner, opts worker.Options) *worker.Worker {
	t.Helper()
	gate := engine.NewGate(prov, engine.DefaultLibraries(), quiet)
	opts.Logger = quiet
	w := worker.New(gate, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		gate.Close()
	})
	return w
}

func TestMappingFourNotes(t *testing.T) {
	w := start(t, &enginetest.Provisioner{}, worker.Options{})

	resp := w.Do(context.Background(), worker.Request{
		ID:       "1",
		MIDI:     scale(t, 60, 62, 64, 65),
		HandSize: "L",
		Mode:     worker.ModeMap,
	})
	if resp.Err != nil {
		t.Fatalf("Do: %v", resp.Err)
	}
	if resp.Result.Len() != 4 {
		t.Fatalf("mapping has %d keys, want 4:\n%s", resp.Result.Len(), resp.Payload)
	}
	for _, m := range []fingering.Mapping{resp.Result.Left, resp.Result.Right} {
		for key, f := range m {
			if f < 0 || f > 5 {
				t.Errorf("%s -> %d out of range", key, f)
			}
		}
	}
	if f, ok := resp.Result.Lookup(fingering.HandRight, fingering.Key{Tick: 1440, Pitch: 65}); !ok || f != 4 {
		t.Errorf("right 1440:65 = %d, %v", f, ok)
	}
}

func TestLeftHandInverted(t *testing.T) {
	w := start(t, &enginetest.Provisioner{}, worker.Options{})

	resp := w.Do(context.Background(), worker.Request{ID: "1", MIDI: scale(t, 48, 50), Mode: worker.ModeMap})
	if resp.Err != nil {
		t.Fatalf("Do: %v", resp.Err)
	}
	// the fake engine assigns 1 then 2; the projection mirrors them
	if resp.Result.Left["0:48"] != 5 || resp.Result.Left["480:50"] != 4 {
		t.Errorf("left = %v", resp.Result.Left)
	}
	if resp.HandSize != fingering.DefaultHandSize {
		t.Errorf("HandSize = %s, want default", resp.HandSize)
	}
}

func TestEmptyBufferThenRecovers(t *testing.T) {
	prov := &enginetest.Provisioner{}
	w := start(t, prov, worker.Options{})
	ctx := context.Background()

	resp := w.Do(ctx, worker.Request{ID: "empty", Mode: worker.ModeMap})
	if !errors.Is(resp.Err, apperrors.ErrParse) {
		t.Fatalf("empty buffer = %v, want ErrParse", resp.Err)
	}

	resp = w.Do(ctx, worker.Request{ID: "garbage", MIDI: []byte("not midi"), Mode: worker.ModeMap})
	if !errors.Is(resp.Err, apperrors.ErrParse) {
		t.Fatalf("garbage = %v, want ErrParse", resp.Err)
	}

	resp = w.Do(ctx, worker.Request{ID: "next", MIDI: scale(t, 60), Mode: worker.ModeMap})
	if resp.Err != nil {
		t.Fatalf("request after parse errors: %v", resp.Err)
	}
	if prov.Provisions() != 1 {
		t.Errorf("Provisions = %d, want 1", prov.Provisions())
	}
}

func TestResynthesisRoundTrip(t *testing.T) {
	w := start(t, &enginetest.Provisioner{}, worker.Options{})
	input := scale(t, 60, 62, 64, 65, 67)

	resp := w.Do(context.Background(), worker.Request{ID: "1", MIDI: input, Mode: worker.ModeMIDI})
	if resp.Err != nil {
		t.Fatalf("Do: %v", resp.Err)
	}

	out, err := score.Read(resp.MIDI)
	if err != nil {
		t.Fatalf("output is not a MIDI file: %v", err)
	}
	in, _ := score.Read(input)
	if out.NoteOnCount() != in.NoteOnCount() {
		t.Errorf("note-ons = %d, want %d", out.NoteOnCount(), in.NoteOnCount())
	}
}

func TestBootstrapOnce(t *testing.T) {
	prov := &enginetest.Provisioner{}
	w := start(t, prov, worker.Options{})

	for i := 0; i < 5; i++ {
		resp := w.Do(context.Background(), worker.Request{ID: fmt.Sprint(i), MIDI: scale(t, 60, 64), Mode: worker.ModeMap})
		if resp.Err != nil {
			t.Fatalf("request %d: %v", i, resp.Err)
		}
	}
	if prov.Provisions() != 1 {
		t.Errorf("Provisions = %d after 5 requests, want 1", prov.Provisions())
	}
	if got := w.Stats().Handled; got != 5 {
		t.Errorf("Handled = %d", got)
	}
}

func TestArrivalOrder(t *testing.T) {
	gate := make(chan struct{})
	w := start(t, &enginetest.Provisioner{Gate: gate}, worker.Options{})

	var mu sync.Mutex
	var order []string
	record := func(id string) func(worker.Stage) {
		return func(s worker.Stage) {
			if s == worker.StageDone {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
			}
		}
	}

	// queue everything while the engine is still bootstrapping
	var replies []<-chan worker.Response
	var want []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprint(i)
		ch, err := w.Post(context.Background(), worker.Request{ID: id, MIDI: scale(t, 60), Mode: worker.ModeMap, Progress: record(id)})
		if err != nil {
			t.Fatalf("Post: %v", err)
		}
		replies = append(replies, ch)
		want = append(want, id)
	}
	close(gate)

	for i, ch := range replies {
		resp := <-ch
		if resp.Err != nil || resp.ID != want[i] {
			t.Fatalf("reply %d = %+v", i, resp)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("completion order = %v, want %v", order, want)
	}
}

func TestProgressStages(t *testing.T) {
	w := start(t, &enginetest.Provisioner{}, worker.Options{})

	var mu sync.Mutex
	var stages []worker.Stage
	resp := w.Do(context.Background(), worker.Request{
		ID:   "1",
		MIDI: scale(t, 60),
		Mode: worker.ModeMap,
		Progress: func(s worker.Stage) {
			mu.Lock()
			stages = append(stages, s)
			mu.Unlock()
		},
	})
	if resp.Err != nil {
		t.Fatalf("Do: %v", resp.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []worker.Stage{worker.StageQueued, worker.StageAwaitingEngine, worker.StageProcessing, worker.StageDone}
	if fmt.Sprint(stages) != fmt.Sprint(want) {
		t.Errorf("stages = %v, want %v", stages, want)
	}
}

func TestBootstrapFailureReplayed(t *testing.T) {
	prov := &enginetest.Provisioner{FailLoad: "pianoplayer"}
	w := start(t, prov, worker.Options{})

	var first error
	for i := 0; i < 3; i++ {
		resp := w.Do(context.Background(), worker.Request{ID: fmt.Sprint(i), MIDI: scale(t, 60), Mode: worker.ModeMap})
		if !errors.Is(resp.Err, apperrors.ErrBootstrap) {
			t.Fatalf("request %d = %v, want ErrBootstrap", i, resp.Err)
		}
		if first == nil {
			first = resp.Err
		} else if resp.Err != first {
			t.Errorf("request %d got a different error value: %v", i, resp.Err)
		}
	}
	if prov.Provisions() != 1 {
		t.Errorf("Provisions = %d, want 1", prov.Provisions())
	}

	// poisoned gate fails even an empty buffer with the bootstrap error
	resp := w.Do(context.Background(), worker.Request{ID: "empty", Mode: worker.ModeMap})
	if !errors.Is(resp.Err, apperrors.ErrBootstrap) {
		t.Errorf("empty after poison = %v", resp.Err)
	}
}

func TestInvalidRequest(t *testing.T) {
	prov := &enginetest.Provisioner{}
	w := start(t, prov, worker.Options{})

	resp := w.Do(context.Background(), worker.Request{ID: "1", MIDI: scale(t, 60), HandSize: "XXXL", Mode: worker.ModeMap})
	if !errors.Is(resp.Err, apperrors.ErrInvalidRequest) {
		t.Errorf("bad hand size = %v", resp.Err)
	}
	resp = w.Do(context.Background(), worker.Request{ID: "2", MIDI: scale(t, 60), Mode: "pdf"})
	if !errors.Is(resp.Err, apperrors.ErrInvalidRequest) {
		t.Errorf("bad mode = %v", resp.Err)
	}
	if prov.Provisions() != 0 {
		t.Errorf("invalid requests should not start the engine")
	}
}

func TestDefaultHandSize(t *testing.T) {
	w := start(t, &enginetest.Provisioner{}, worker.Options{DefaultHandSize: "S"})
	if w.DefaultHandSize() != "S" {
		t.Fatalf("DefaultHandSize = %s", w.DefaultHandSize())
	}

	w.SetDefaultHandSize("XL")
	resp := w.Do(context.Background(), worker.Request{ID: "1", MIDI: scale(t, 60), Mode: worker.ModeMap})
	if resp.Err != nil {
		t.Fatalf("Do: %v", resp.Err)
	}
	if resp.HandSize != "XL" {
		t.Errorf("HandSize = %s, want XL", resp.HandSize)
	}
}

func TestCacheHit(t *testing.T) {
	rc, err := cache.New(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	prov := &enginetest.Provisioner{}
	w := start(t, prov, worker.Options{Cache: rc})
	req := worker.Request{ID: "1", MIDI: scale(t, 60, 62), Mode: worker.ModeMap}

	first := w.Do(context.Background(), req)
	if first.Err != nil || first.Cached {
		t.Fatalf("first = %+v", first)
	}
	second := w.Do(context.Background(), req)
	if second.Err != nil || !second.Cached {
		t.Fatalf("second = %+v", second)
	}
	if second.Payload != first.Payload {
		t.Errorf("cached payload differs")
	}
	if calls := prov.Runtime().Calls(); calls != 1 {
		t.Errorf("engine calls = %d, want 1", calls)
	}
}

func TestWaitBoundedByContext(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	w := start(t, &enginetest.Provisioner{Gate: gate}, worker.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	resp := w.Do(ctx, worker.Request{ID: "1", MIDI: scale(t, 60), Mode: worker.ModeMap})
	if !errors.Is(resp.Err, context.DeadlineExceeded) {
		t.Errorf("Do = %v, want deadline exceeded", resp.Err)
	}
}

func TestPostAfterStop(t *testing.T) {
	gate := engine.NewGate(&enginetest.Provisioner{}, engine.DefaultLibraries(), quiet)
	defer gate.Close()
	w := worker.New(gate, worker.Options{Logger: quiet})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	if _, err := w.Post(context.Background(), worker.Request{ID: "late"}); !errors.Is(err, worker.ErrStopped) {
		t.Errorf("Post after stop = %v, want ErrStopped", err)
	}
}

func TestComputationErrorThenRecovers(t *testing.T) {
	prov := &enginetest.Provisioner{FailComputeOnce: errors.New("unsupported score structure")}
	w := start(t, prov, worker.Options{})
	midi := scale(t, 60, 62)

	first := w.Do(context.Background(), worker.Request{ID: "1", MIDI: midi, Mode: worker.ModeMap})
	if !errors.Is(first.Err, apperrors.ErrComputation) {
		t.Fatalf("first = %v, want computation error", first.Err)
	}
	if first.Payload != "" || first.Result != nil {
		t.Errorf("failed response carries a payload: %q", first.Payload)
	}
	reply := worker.NewReply(first)
	if reply.OK || reply.Error == nil || reply.Error.Kind != apperrors.KindComputation {
		t.Errorf("reply = %+v", reply)
	}

	second := w.Do(context.Background(), worker.Request{ID: "2", MIDI: midi, Mode: worker.ModeMap})
	if second.Err != nil {
		t.Fatalf("second: %v", second.Err)
	}
	if second.Result.Len() != 2 {
		t.Errorf("second has %d keys, want 2", second.Result.Len())
	}
	if prov.Provisions() != 1 {
		t.Errorf("Provisions() = %d, want 1", prov.Provisions())
	}
}

// noEngine fails every wait at once
type noEngine struct{}

func (noEngine) Ready(ctx context.Context) (*engine.Handle, error) {
	return nil, apperrors.NewEngineError(apperrors.KindBootstrap, "provision", "no engine", nil)
}

func TestPostDuringShutdown(t *testing.T) {
	for i := 0; i < 500; i++ {
		w := worker.New(noEngine{}, worker.Options{Logger: quiet, QueueSize: 1})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			w.Run(ctx)
			close(done)
		}()
		go cancel()

		ch, err := w.Post(context.Background(), worker.Request{ID: "r", MIDI: []byte{0}, Mode: worker.ModeMap})
		<-done
		if err != nil {
			if !errors.Is(err, worker.ErrStopped) {
				t.Fatalf("iteration %d: Post = %v", i, err)
			}
			continue
		}
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: accepted request never answered", i)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want worker.Mode
		err  bool
	}{
		{"", worker.ModeMap, false},
		{"map", worker.ModeMap, false},
		{"MIDI", worker.ModeMIDI, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := worker.ParseMode(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}
