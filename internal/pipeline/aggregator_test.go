package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var ppeClasses = []string{"person", "helmet", "vest", "no-helmet", "no-vest"}

func detections(labels ...string) []Detection {
	dets := make([]Detection, 0, len(labels))
	for _, l := range labels {
		dets = append(dets, Detection{ClassLabel: l, Confidence: 0.9})
	}
	return dets
}

func TestAggregatorCountsPerFrame(t *testing.T) {
	agg := NewAggregator(ppeClasses)

	counts := agg.Record(0, detections("person", "person", "helmet"))
	assert.Equal(t, map[string]int{"person": 2, "helmet": 1}, counts)

	counts = agg.Record(1, nil)
	assert.Empty(t, counts)

	summary := agg.Summary()
	assert.Equal(t, 2, summary.FramesProcessed)
	assert.Equal(t, 0, summary.FramesFailed)
	assert.Equal(t, map[string]int{"person": 2, "helmet": 1}, summary.CumulativeCounts)
}

func TestAggregatorCumulativeSums(t *testing.T) {
	agg := NewAggregator(ppeClasses)

	agg.Record(0, detections("person", "helmet"))
	agg.Record(1, detections("person", "helmet"))
	agg.Record(2, detections("person", "no-helmet"))

	summary := agg.Summary()
	assert.Equal(t, map[string]int{"person": 3, "helmet": 2, "no-helmet": 1}, summary.CumulativeCounts)
	assert.Equal(t, 3, summary.FramesProcessed)
}

func TestAggregatorFailedFrameContributesNothing(t *testing.T) {
	agg := NewAggregator(ppeClasses)

	agg.Record(0, detections("person"))
	agg.RecordFailure(1)
	agg.Record(2, detections("person"))

	summary := agg.Summary()
	assert.Equal(t, 2, summary.FramesProcessed)
	assert.Equal(t, 1, summary.FramesFailed)
	assert.Equal(t, map[string]int{"person": 2}, summary.CumulativeCounts)
}

func TestFormatRecordLogLine(t *testing.T) {
	agg := NewAggregator(ppeClasses)

	counts := agg.Record(12, detections(
		"person", "person", "person",
		"helmet", "helmet",
		"vest", "vest",
	))
	line := agg.FormatRecord(FrameLog{FrameIndex: 12, ClassCounts: counts})
	assert.Equal(t, "[FRAME 12] {'person': 3, 'helmet': 2, 'vest': 2}", line)

	counts = agg.Record(13, detections(
		"person", "person", "person",
		"helmet",
		"vest", "vest",
		"no-helmet",
	))
	line = agg.FormatRecord(FrameLog{FrameIndex: 13, ClassCounts: counts})
	assert.Equal(t, "[FRAME 13] {'person': 3, 'helmet': 1, 'vest': 2, 'no-helmet': 1}", line)
}

func TestFormatRecordWarning(t *testing.T) {
	agg := NewAggregator(ppeClasses)
	line := agg.FormatRecord(FrameLog{FrameIndex: 47, Warning: "inference failed, skipped"})
	assert.Equal(t, "[FRAME 47] WARNING: inference failed, skipped", line)
}

func TestFormatRecordZeroDetections(t *testing.T) {
	agg := NewAggregator(ppeClasses)
	counts := agg.Record(3, nil)
	line := agg.FormatRecord(FrameLog{FrameIndex: 3, ClassCounts: counts})
	assert.Equal(t, "[FRAME 3] {}", line)
}

func TestFormatRecordUnknownClassesSortLast(t *testing.T) {
	agg := NewAggregator([]string{"person", "helmet"})
	counts := agg.Record(0, detections("zebra", "person", "apron"))
	line := agg.FormatRecord(FrameLog{FrameIndex: 0, ClassCounts: counts})
	assert.Equal(t, "[FRAME 0] {'person': 1, 'apron': 1, 'zebra': 1}", line)
}

func TestSummaryIsASnapshot(t *testing.T) {
	agg := NewAggregator(ppeClasses)
	agg.Record(0, detections("person"))

	summary := agg.Summary()
	summary.CumulativeCounts["person"] = 99

	assert.Equal(t, 1, agg.Summary().CumulativeCounts["person"])
}
