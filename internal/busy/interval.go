package busy

import (
	"context"
	"sort"
	"time"
)

// Interval is a half-open range [Start, End) during which the host is committed.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps uses the half-open test startA < endB && startB < endA.
func (i Interval) Overlaps(start, end time.Time) bool {
	return i.Start.Before(end) && start.Before(i.End)
}

// Source returns the busy intervals of a host within [from, to). An empty
// result means no conflicts.
type Source interface {
	Busy(ctx context.Context, hostID string, from, to time.Time) ([]Interval, error)
}

// Normalize drops empty intervals, converts to UTC and sorts by start, then end.
func Normalize(in []Interval) []Interval {
	out := make([]Interval, 0, len(in))
	for _, iv := range in {
		if !iv.Start.Before(iv.End) {
			continue
		}
		out = append(out, Interval{Start: iv.Start.UTC(), End: iv.End.UTC()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].End.Before(out[j].End)
	})
	return out
}

// Merge normalizes and coalesces overlapping or touching intervals.
func Merge(in []Interval) []Interval {
	sorted := Normalize(in)
	if len(sorted) == 0 {
		return sorted
	}
	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Clip keeps the intervals that overlap [from, to).
func Clip(in []Interval, from, to time.Time) []Interval {
	var out []Interval
	for _, iv := range in {
		if iv.Overlaps(from, to) {
			out = append(out, iv)
		}
	}
	return out
}

// Index answers overlap queries over a fixed set of intervals in O(log n).
type Index struct {
	starts []time.Time
	maxEnd []time.Time
}

func NewIndex(in []Interval) *Index {
	sorted := Normalize(in)
	idx := &Index{
		starts: make([]time.Time, len(sorted)),
		maxEnd: make([]time.Time, len(sorted)),
	}
	for i, iv := range sorted {
		idx.starts[i] = iv.Start
		idx.maxEnd[i] = iv.End
		if i > 0 && idx.maxEnd[i-1].After(iv.End) {
			idx.maxEnd[i] = idx.maxEnd[i-1]
		}
	}
	return idx
}

// Overlaps reports whether [start, end) overlaps any indexed interval.
func (x *Index) Overlaps(start, end time.Time) bool {
	// intervals starting before end are candidates; one of them must end after start
	n := sort.Search(len(x.starts), func(i int) bool { return !x.starts[i].Before(end) })
	if n == 0 {
		return false
	}
	return x.maxEnd[n-1].After(start)
}
