// Package chunk computes the segmentation plan for a long recording.
//
// A Plan is an ordered list of (start, length) spans, in seconds, that together
// cover the whole recording. Consecutive spans may share an overlap window on
// either side so that words cut at a boundary appear in full in at least one
// chunk. Planning is pure arithmetic; it never touches the audio.
package chunk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is matched by every [ConfigError] via errors.Is.
var ErrInvalidConfig = errors.New("chunk: invalid configuration")

// ConfigError reports a chunk length / overlap / duration combination that cannot
// produce a valid plan. It is returned before any planning takes place.
type ConfigError struct {
	Field  string
	Value  float64
	Reason string
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("chunk: invalid %s %g: %s", e.Field, e.Value, e.Reason)
}

// Is reports whether target is [ErrInvalidConfig].
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// Entry is one span of a [Plan].
type Entry struct {
	// Index is the 0-based position of the entry in emission order.
	Index int

	// Start is the offset of the span in seconds. Always >= 0.
	Start float64

	// Length is the span duration in seconds. Start+Length never exceeds the
	// recording duration.
	Length float64
}

// End returns Start+Length.
func (e Entry) End() float64 { return e.Start + e.Length }

// Plan is an ordered list of entries with dense indices.
type Plan []Entry

// NewPlan computes the plan for a recording of total seconds split into chunks of
// chunkLen seconds with overlap seconds of shared context on each interior
// boundary.
//
// The number of chunks is ceil(total/chunkLen). Chunk i starts at
// max(0, i*chunkLen-overlap) and is chunkLen long, extended by overlap on the left
// unless it is the first chunk and on the right unless it is the last, then
// clamped to the end of the recording. A zero-length recording yields an empty
// plan.
func NewPlan(total, chunkLen, overlap float64) (Plan, error) {
	if err := validate(total, chunkLen, overlap); err != nil {
		return nil, err
	}
	if total == 0 {
		return Plan{}, nil
	}
	if total <= chunkLen {
		return Plan{{Index: 0, Start: 0, Length: total}}, nil
	}

	n := chunkCount(total, chunkLen)
	plan := make(Plan, 0, n)
	for i := range n {
		start := math.Max(0, float64(i)*chunkLen-overlap)
		length := chunkLen
		if i > 0 {
			length += overlap
		}
		if i < n-1 {
			length += overlap
		}
		if i == n-1 || start+length > total {
			length = total - start
		}
		plan = append(plan, Entry{Index: i, Start: start, Length: length})
	}
	return plan, nil
}

// chunkCount is ceil(total/chunkLen), ignoring a remainder that only comes
// from rounding. 73.2/0.3 is 244.00000000000003 and must not produce a
// 245th chunk of length zero.
func chunkCount(total, chunkLen float64) int {
	return int(math.Ceil(total/chunkLen - epsilon))
}

func validate(total, chunkLen, overlap float64) error {
	var errs []error
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		errs = append(errs, &ConfigError{Field: "duration", Value: total, Reason: "must be a finite non-negative number"})
	}
	if math.IsNaN(chunkLen) || math.IsInf(chunkLen, 0) || chunkLen <= 0 {
		errs = append(errs, &ConfigError{Field: "chunk length", Value: chunkLen, Reason: "must be a finite positive number"})
	}
	switch {
	case math.IsNaN(overlap) || math.IsInf(overlap, 0) || overlap < 0:
		errs = append(errs, &ConfigError{Field: "overlap", Value: overlap, Reason: "must be a finite non-negative number"})
	case chunkLen > 0 && overlap >= chunkLen:
		errs = append(errs, &ConfigError{Field: "overlap", Value: overlap, Reason: fmt.Sprintf("must be smaller than the chunk length %g", chunkLen)})
	}
	return errors.Join(errs...)
}

// Len returns the number of entries.
func (p Plan) Len() int { return len(p) }

// Covers reports whether the plan covers [0, total) without gaps, keeps every span
// inside the recording and numbers entries densely from 0.
func (p Plan) Covers(total float64) bool {
	if total == 0 {
		return len(p) == 0
	}
	if len(p) == 0 || p[0].Start != 0 {
		return false
	}
	reach := 0.0
	for i, e := range p {
		if e.Index != i || e.Start < 0 || e.Length <= 0 || e.End() > total+epsilon {
			return false
		}
		if e.Start > reach+epsilon {
			return false
		}
		reach = math.Max(reach, e.End())
	}
	return math.Abs(reach-total) <= epsilon
}

// epsilon absorbs floating-point drift from repeated i*chunkLen products.
const epsilon = 1e-9
