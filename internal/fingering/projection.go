package fingering

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Mapping assigns a finger to each note key of one hand
type Mapping map[string]int

// Result is the mapping-mode output for both hands
type Result struct {
	Left  Mapping `json:"left"`
	Right Mapping `json:"right"`
}

// InvertLeft converts a left-hand finger from the library's numbering.
// Thumb and little finger swap sides, so f becomes 6-f. Unassigned stays 0.
func InvertLeft(f int) int {
	if f <= 0 || f > 5 {
		return 0
	}
	return 6 - f
}

// clampRight keeps right-hand values inside [0,5]
func clampRight(f int) int {
	if f <= 0 || f > 5 {
		return 0
	}
	return f
}

// Project builds the per-hand key mappings. When two notes share a key the
// later one wins, as it would in the library's own dictionary.
func Project(left, right []Note) *Result {
	res := &Result{
		Left:  make(Mapping, len(left)),
		Right: make(Mapping, len(right)),
	}
	for _, n := range left {
		res.Left[n.Key().String()] = InvertLeft(n.Finger)
	}
	for _, n := range right {
		res.Right[n.Key().String()] = clampRight(n.Finger)
	}
	return res
}

// Len returns the number of keys across both hands
func (r *Result) Len() int {
	return len(r.Left) + len(r.Right)
}

// Lookup returns the finger for key on hand
func (r *Result) Lookup(hand Hand, key Key) (int, bool) {
	m := r.Right
	if hand == HandLeft {
		m = r.Left
	}
	f, ok := m[key.String()]
	return f, ok
}

// Marshal renders the nested key/value document. Map keys are emitted in
// sorted order, so the same Result always yields the same bytes.
func (r *Result) Marshal() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("marshal fingering map: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Unmarshal parses a document produced by Marshal
func Unmarshal(doc string) (*Result, error) {
	var r Result
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("parse fingering map: %w", err)
	}
	if r.Left == nil {
		r.Left = Mapping{}
	}
	if r.Right == nil {
		r.Right = Mapping{}
	}
	for _, m := range []Mapping{r.Left, r.Right} {
		for key, f := range m {
			if _, err := ParseKey(key); err != nil {
				return nil, fmt.Errorf("parse fingering map: %w", err)
			}
			if f < 0 || f > 5 {
				return nil, fmt.Errorf("parse fingering map: finger %d for %s out of range", f, key)
			}
		}
	}
	return &r, nil
}
