// Package score reads MIDI files on the Go side of the engine boundary. It
// yields the note list a consumer correlates fingerings against, using the
// same (onset tick, pitch) identity the engine uses for its keys.
package score

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
	"github.com/apsjohn/pianovision-fingerings/internal/fingering"
)

// Note is a sounding note found in a track
type Note struct {
	Track    int
	Channel  uint8
	Tick     int64 // absolute onset in file ticks
	Pitch    uint8
	Velocity uint8
}

// Key returns the note identity used by fingering maps
func (n Note) Key() fingering.Key {
	return fingering.Key{Tick: n.Tick, Pitch: int(n.Pitch)}
}

// Score is a parsed Standard MIDI File
type Score struct {
	Resolution int // ticks per quarter note, 0 for SMPTE timing
	Tracks     int
	Notes      []Note // ordered by tick, then pitch, then track
}

// Read parses a complete MIDI file
func Read(data []byte) (*Score, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", apperrors.ErrParse)
	}
	return ReadFrom(bytes.NewReader(data))
}

// ReadFrom parses a MIDI file from r
func ReadFrom(r io.Reader) (*Score, error) {
	file, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
	}

	sc := &Score{Tracks: len(file.Tracks)}
	if mt, ok := file.TimeFormat.(smf.MetricTicks); ok {
		sc.Resolution = int(mt.Resolution())
	}

	for ti, track := range file.Tracks {
		var abs int64
		for _, ev := range track {
			abs += int64(ev.Delta)

			var ch, key, vel uint8
			if midi.Message(ev.Message).GetNoteStart(&ch, &key, &vel) {
				sc.Notes = append(sc.Notes, Note{
					Track:    ti,
					Channel:  ch,
					Tick:     abs,
					Pitch:    key,
					Velocity: vel,
				})
			}
		}
	}

	sort.SliceStable(sc.Notes, func(i, j int) bool {
		a, b := sc.Notes[i], sc.Notes[j]
		if a.Tick != b.Tick {
			return a.Tick < b.Tick
		}
		if a.Pitch != b.Pitch {
			return a.Pitch < b.Pitch
		}
		return a.Track < b.Track
	})

	return sc, nil
}

// NoteOnCount returns the number of sounding note-on events
func (s *Score) NoteOnCount() int {
	return len(s.Notes)
}

// Keys returns the distinct note keys in onset order
func (s *Score) Keys() []fingering.Key {
	seen := make(map[fingering.Key]bool, len(s.Notes))
	keys := make([]fingering.Key, 0, len(s.Notes))
	for _, n := range s.Notes {
		k := n.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}
