package transcribe

import "github.com/antzucaro/matchr"

// Continuity compares a window's transcript with the previous window's.
// It is a display hint; text is never merged or de-duplicated.
type Continuity struct {
	// Updated is true when a previous text exists and the current text does
	// not start with it.
	Updated bool

	// Similarity is the Jaro-Winkler score between the previous text and the
	// equally long prefix of the current text: 1 for a match, lower as the
	// readings diverge. Zero when there is no previous text.
	Similarity float64
}

// CheckContinuity compares the first len(prev) runes of cur with prev. Word
// boundaries shift between windows, so a difference means "the newer reading
// may be better", not "the previous reading was wrong".
func CheckContinuity(prev, cur string) Continuity {
	if prev == "" {
		return Continuity{}
	}
	p, c := []rune(prev), []rune(cur)
	prefix := string(c[:min(len(p), len(c))])
	if prefix == prev {
		return Continuity{Similarity: 1}
	}
	sim := 0.0
	if prefix != "" {
		sim = matchr.JaroWinkler(prev, prefix, false)
	}
	return Continuity{Updated: true, Similarity: sim}
}

// Label returns the line prefix used when printing a live transcript.
func (c Continuity) Label() string {
	if c.Updated {
		return "Updated transcript (context improved):"
	}
	return "Transcript:"
}
