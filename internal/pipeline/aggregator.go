package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Aggregator accumulates per-frame and cumulative class counts. It is the
// pipeline's only cross-frame state and is confined to a single goroutine.
type Aggregator struct {
	classOrder []string
	cumulative map[string]int
	processed  int
	failed     int
}

// NewAggregator builds an aggregator. classOrder fixes the rendering order of
// log records; labels outside it render after, alphabetically.
func NewAggregator(classOrder []string) *Aggregator {
	return &Aggregator{
		classOrder: append([]string(nil), classOrder...),
		cumulative: make(map[string]int),
	}
}

// Record counts one processed frame's detections. Each detection contributes
// exactly one unit to its class, so a class appearing N times in one frame
// counts N.
func (a *Aggregator) Record(frameIndex int, dets []Detection) map[string]int {
	counts := make(map[string]int, len(dets))
	for _, d := range dets {
		counts[d.ClassLabel]++
	}
	for label, n := range counts {
		a.cumulative[label] += n
	}
	a.processed++
	return counts
}

// RecordFailure counts one frame whose inference failed. The frame
// contributes zero detections to the cumulative counts.
func (a *Aggregator) RecordFailure(frameIndex int) {
	a.failed++
}

// Summary snapshots the running totals.
func (a *Aggregator) Summary() RunningSummary {
	counts := make(map[string]int, len(a.cumulative))
	for label, n := range a.cumulative {
		counts[label] = n
	}
	return RunningSummary{
		CumulativeCounts: counts,
		FramesProcessed:  a.processed,
		FramesFailed:     a.failed,
	}
}

// FormatRecord renders a frame log record as the UI log view shows it:
//
//	[FRAME 12] {'person': 3, 'helmet': 2, 'vest': 2}
//	[FRAME 47] WARNING: inference failed, skipped
func (a *Aggregator) FormatRecord(rec FrameLog) string {
	if rec.Warning != "" {
		return fmt.Sprintf("[FRAME %d] WARNING: %s", rec.FrameIndex, rec.Warning)
	}
	return fmt.Sprintf("[FRAME %d] %s", rec.FrameIndex, formatCounts(rec.ClassCounts, a.classOrder))
}

func formatCounts(counts map[string]int, classOrder []string) string {
	ordered := make([]string, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for _, label := range classOrder {
		if counts[label] > 0 {
			ordered = append(ordered, label)
			seen[label] = true
		}
	}
	rest := make([]string, 0)
	for label := range counts {
		if !seen[label] && counts[label] > 0 {
			rest = append(rest, label)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	var b strings.Builder
	b.WriteByte('{')
	for i, label := range ordered {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "'%s': %d", label, counts[label])
	}
	b.WriteByte('}')
	return b.String()
}
