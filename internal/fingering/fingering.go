package fingering

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Hand identifies which hand a note is assigned to
type Hand string

const (
	HandLeft  Hand = "left"
	HandRight Hand = "right"
)

// HandSize is the ergonomic size label understood by the fingering library
type HandSize string

// DefaultHandSize is used when a request does not carry a label
const DefaultHandSize HandSize = "L"

var handSizes = []HandSize{"XXS", "XS", "S", "M", "L", "XL", "XXL"}

// ParseHandSize validates a label. An empty label yields fallback.
func ParseHandSize(label string, fallback HandSize) (HandSize, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return fallback, nil
	}
	for _, hs := range handSizes {
		if string(hs) == label {
			return hs, nil
		}
	}
	return "", fmt.Errorf("unknown hand size %q (want one of %s)", label, joinSizes())
}

// HandSizes returns the closed set of accepted labels
func HandSizes() []HandSize {
	return append([]HandSize(nil), handSizes...)
}

func joinSizes() string {
	parts := make([]string, len(handSizes))
	for i, hs := range handSizes {
		parts[i] = string(hs)
	}
	return strings.Join(parts, ", ")
}

// Key identifies a note event by onset tick and pitch
type Key struct {
	Tick  int64
	Pitch int
}

// String renders the key as "<tick>:<pitch>"
func (k Key) String() string {
	return strconv.FormatInt(k.Tick, 10) + ":" + strconv.Itoa(k.Pitch)
}

// ParseKey parses a "<tick>:<pitch>" key
func ParseKey(s string) (Key, error) {
	tick, pitch, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("key %q: missing ':'", s)
	}
	t, err := strconv.ParseInt(tick, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("key %q: tick: %w", s, err)
	}
	p, err := strconv.Atoi(pitch)
	if err != nil {
		return Key{}, fmt.Errorf("key %q: pitch: %w", s, err)
	}
	return Key{Tick: t, Pitch: p}, nil
}

// Note is one fingered note as reported by the fingering library.
// Finger is 1-5, or 0 when no finger was assigned.
type Note struct {
	Tick   int64
	Pitch  int
	Finger int
}

// Key returns the identity of the note
func (n Note) Key() Key {
	return Key{Tick: n.Tick, Pitch: n.Pitch}
}

// UnmarshalJSON accepts the engine's compact [tick, pitch, finger] triple.
// A null finger means unassigned.
func (n *Note) UnmarshalJSON(data []byte) error {
	var raw []*int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("note: %w", err)
	}
	if len(raw) != 3 || raw[0] == nil || raw[1] == nil {
		return fmt.Errorf("note: want [tick, pitch, finger], got %s", data)
	}
	n.Tick = *raw[0]
	n.Pitch = int(*raw[1])
	n.Finger = 0
	if raw[2] != nil {
		n.Finger = int(*raw[2])
	}
	return nil
}

// MarshalJSON writes the compact [tick, pitch, finger] triple
func (n Note) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int64{n.Tick, int64(n.Pitch), int64(n.Finger)})
}
