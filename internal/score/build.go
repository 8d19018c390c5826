package score

import (
	"bytes"
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// Event is a note to place in a generated file
type Event struct {
	Tick     int64
	Pitch    uint8
	Duration int64
}

type timedMessage struct {
	tick  int64
	start bool
	msg   midi.Message
}

// Build writes a single-track MIDI file at 480 ticks per quarter holding
// events on channel 0.
func Build(events []Event) ([]byte, error) {
	msgs := make([]timedMessage, 0, 2*len(events))
	for _, e := range events {
		msgs = append(msgs,
			timedMessage{e.Tick, true, midi.NoteOn(0, e.Pitch, 100)},
			timedMessage{e.Tick + e.Duration, false, midi.NoteOff(0, e.Pitch)},
		)
	}
	// note-offs go before note-ons on the same tick
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].tick != msgs[j].tick {
			return msgs[i].tick < msgs[j].tick
		}
		return !msgs[i].start && msgs[j].start
	})

	file := smf.New()
	file.TimeFormat = smf.MetricTicks(480)

	var tr smf.Track
	var last int64
	for _, m := range msgs {
		tr.Add(uint32(m.tick-last), m.msg)
		last = m.tick
	}
	tr.Close(0)

	if err := file.Add(tr); err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write midi: %w", err)
	}
	return buf.Bytes(), nil
}
