package transcribe

import (
	"slices"
	"strings"
)

// Separator joins segment texts in the assembled transcript.
const Separator = "\n\n"

// Assemble joins segments in index order, whatever order they are passed in.
// Failed segments contribute their [Segment.Placeholder]. The result is trimmed
// of surrounding whitespace.
func Assemble(segments []Segment) string {
	sorted := slices.Clone(segments)
	slices.SortStableFunc(sorted, func(a, b Segment) int { return a.Index - b.Index })

	parts := make([]string, len(sorted))
	for i, s := range sorted {
		if s.OK() {
			parts[i] = s.Text
		} else {
			parts[i] = s.Placeholder()
		}
	}
	return strings.TrimSpace(strings.Join(parts, Separator))
}

// Summary counts the outcome of a run.
type Summary struct {
	Chunks int
	Failed int
}

// Summarize counts failed segments.
func Summarize(segments []Segment) Summary {
	s := Summary{Chunks: len(segments)}
	for _, seg := range segments {
		if !seg.OK() {
			s.Failed++
		}
	}
	return s
}
