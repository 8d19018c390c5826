package fingering

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestInvertLeft(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0},
		{1, 5},
		{2, 4},
		{3, 3},
		{4, 2},
		{5, 1},
		{-1, 0},
		{6, 0},
	}

	for _, tt := range tests {
		if got := InvertLeft(tt.in); got != tt.want {
			t.Errorf("InvertLeft(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestProject(t *testing.T) {
	left := []Note{
		{Tick: 0, Pitch: 48, Finger: 5},
		{Tick: 480, Pitch: 50, Finger: 0},
	}
	right := []Note{
		{Tick: 0, Pitch: 60, Finger: 1},
		{Tick: 480, Pitch: 62, Finger: 2},
	}

	res := Project(left, right)

	if res.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", res.Len())
	}
	if got := res.Left["0:48"]; got != 1 {
		t.Errorf("left 0:48 = %d, want 1", got)
	}
	if got := res.Left["480:50"]; got != 0 {
		t.Errorf("left 480:50 = %d, want 0", got)
	}
	if f, ok := res.Lookup(HandRight, Key{Tick: 480, Pitch: 62}); !ok || f != 2 {
		t.Errorf("Lookup(right, 480:62) = %d, %v; want 2, true", f, ok)
	}
	if _, ok := res.Lookup(HandLeft, Key{Tick: 480, Pitch: 62}); ok {
		t.Error("right-hand key should not be found on the left")
	}
}

func TestMarshalDeterministic(t *testing.T) {
	right := make([]Note, 0, 64)
	for i := 63; i >= 0; i-- {
		right = append(right, Note{Tick: int64(i * 120), Pitch: 60 + i%12, Finger: i%5 + 1})
	}
	res := Project(nil, right)

	first, err := res.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Project(nil, right).Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if again != first {
			t.Fatal("Marshal output differs between runs")
		}
	}

	if !strings.HasPrefix(first, "{\n  \"left\": {},\n  \"right\": {") {
		t.Errorf("unexpected document shape:\n%s", first)
	}

	back, err := Unmarshal(first)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Len() != res.Len() {
		t.Errorf("Unmarshal Len() = %d, want %d", back.Len(), res.Len())
	}
}

func TestParseHandSize(t *testing.T) {
	tests := []struct {
		in      string
		want    HandSize
		wantErr bool
	}{
		{"", DefaultHandSize, false},
		{"xl", "XL", false},
		{" S ", "S", false},
		{"XXL", "XXL", false},
		{"huge", "", true},
	}

	for _, tt := range tests {
		got, err := ParseHandSize(tt.in, DefaultHandSize)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHandSize(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHandSize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("1920:64")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if k != (Key{Tick: 1920, Pitch: 64}) {
		t.Errorf("ParseKey = %+v", k)
	}
	if k.String() != "1920:64" {
		t.Errorf("String() = %q", k.String())
	}

	for _, bad := range []string{"", "1920", "a:64", "1920:x"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
}

func TestUnmarshalRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"left":`},
		{"bad key", `{"left":{"48":1},"right":{}}`},
		{"finger too high", `{"left":{},"right":{"0:60":6}}`},
		{"negative finger", `{"left":{"0:48":-1},"right":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.doc); err == nil {
				t.Errorf("Unmarshal(%s) should fail", tt.doc)
			}
		})
	}

	res, err := Unmarshal(`{"left":{"0:48":0},"right":{}}`)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if f, ok := res.Lookup(HandLeft, Key{Tick: 0, Pitch: 48}); !ok || f != 0 {
		t.Errorf("Lookup = %d, %v; want 0, true", f, ok)
	}
}

func TestNoteJSON(t *testing.T) {
	var notes []Note
	if err := json.Unmarshal([]byte(`[[0,60,1],[480,62,null]]`), &notes); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(notes) != 2 || notes[0].Finger != 1 || notes[1].Finger != 0 || notes[1].Tick != 480 {
		t.Errorf("unexpected notes: %+v", notes)
	}

	var n Note
	if err := json.Unmarshal([]byte(`[1,2]`), &n); err == nil {
		t.Error("short triple should fail")
	}
}
