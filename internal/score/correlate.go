package score

import (
	"sort"

	"github.com/apsjohn/pianovision-fingerings/internal/fingering"
)

// Correlation reports how a fingering map lines up with a score's notes
type Correlation struct {
	Matched   int
	Unmatched []string // map keys with no note in the score
	Missing   []string // score keys with no entry in either hand
}

// OK reports whether every key on both sides was found
func (c *Correlation) OK() bool {
	return len(c.Unmatched) == 0 && len(c.Missing) == 0
}

// Correlate checks a fingering map against the score's own note identities.
// A tick-resolution or pitch-scheme mismatch shows up as unmatched keys.
func Correlate(s *Score, res *fingering.Result) *Correlation {
	have := make(map[string]bool, len(s.Notes))
	for _, k := range s.Keys() {
		have[k.String()] = true
	}

	c := &Correlation{}
	assigned := make(map[string]bool, res.Len())
	for _, m := range []fingering.Mapping{res.Left, res.Right} {
		for key := range m {
			assigned[key] = true
			if have[key] {
				c.Matched++
			} else {
				c.Unmatched = append(c.Unmatched, key)
			}
		}
	}
	for key := range have {
		if !assigned[key] {
			c.Missing = append(c.Missing, key)
		}
	}

	sort.Strings(c.Unmatched)
	sort.Strings(c.Missing)
	return c
}
