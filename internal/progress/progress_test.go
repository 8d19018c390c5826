package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/apsjohn/pianovision-fingerings/internal/worker"
)

func TestHookStages(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false)

	hook := r.Hook()
	for _, s := range []worker.Stage{worker.StageQueued, worker.StageAwaitingEngine, worker.StageProcessing, worker.StageDone} {
		hook(s)
	}

	got := buf.String()
	if !strings.Contains(got, "[2/4] Waiting for engine") || !strings.Contains(got, "[3/4] Computing fingerings") {
		t.Errorf("output = %q", got)
	}
	if strings.Contains(got, "engine ready after") {
		t.Error("Update printed without verbose")
	}
}

func TestVerboseAndErrors(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, true)

	r.StartStage(StageRead)
	r.Update("%d notes", 12)
	r.Warning("hand size %s", "XXL")
	r.Error(errors.New("boom"))
	r.Done("out.mid")

	for _, want := range []string{"[1/4] Reading MIDI file", "12 notes", "Warning: hand size XXL", "Error: boom", "Output saved to: out.mid"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}
