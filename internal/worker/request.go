package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/apsjohn/pianovision-fingerings/internal/codec"
	"github.com/apsjohn/pianovision-fingerings/internal/fingering"
)

// Mode selects the output projection
type Mode string

const (
	ModeMap  Mode = "map"  // per-hand key to finger document
	ModeMIDI Mode = "midi" // annotated MIDI re-synthesis
)

// ParseMode parses a mode label; empty means ModeMap
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeMap:
		return ModeMap, nil
	case ModeMIDI:
		return ModeMIDI, nil
	}
	return "", fmt.Errorf("unknown mode %q (want map or midi)", s)
}

// Stage is a request lifecycle step reported to Progress
type Stage string

const (
	StageQueued         Stage = "queued"
	StageAwaitingEngine Stage = "awaiting_engine"
	StageProcessing     Stage = "processing"
	StageDone           Stage = "done"
)

// Request is one decode request. It is not modified after posting.
type Request struct {
	ID       string
	MIDI     []byte
	HandSize string // label; empty selects the worker default
	Mode     Mode
	Progress func(Stage) // optional, called from the worker goroutine
}

func (r Request) progress(s Stage) {
	if r.Progress != nil {
		r.Progress(s)
	}
}

// Response is the single reply to a Request. Exactly one of Err and
// Payload is meaningful.
type Response struct {
	ID       string
	Mode     Mode
	HandSize fingering.HandSize
	// Payload is the mapping document in ModeMap and the transit-encoded
	// MIDI file in ModeMIDI.
	Payload string
	// MIDI is the decoded Payload in ModeMIDI
	MIDI    []byte
	Result  *fingering.Result // parsed Payload in ModeMap
	Cached  bool
	Elapsed time.Duration
	Err     error
}

// OK reports whether the request succeeded
func (r *Response) OK() bool {
	return r.Err == nil
}

func (r *Response) fill(payload string) error {
	switch r.Mode {
	case ModeMIDI:
		data, err := codec.Decode(payload)
		if err != nil {
			return err
		}
		r.MIDI = data
	case ModeMap:
		res, err := fingering.Unmarshal(payload)
		if err != nil {
			return err
		}
		r.Result = res
	}
	r.Payload = payload
	return nil
}
