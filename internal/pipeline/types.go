// Package pipeline implements the frame-by-frame PPE detection and
// re-encoding pipeline: frame ingestion, per-frame inference, annotation,
// count aggregation and codec-safe output assembly.
package pipeline

import (
	"context"
	"image"

	"gocv.io/x/gocv"
)

// Frame is one decoded image from the input video. Index is zero-based,
// strictly increasing and contiguous. The pipeline owns Image and closes it
// once the frame has been annotated and encoded.
type Frame struct {
	Index     int
	Timestamp float64
	Image     gocv.Mat
}

// Detection is one predicted object instance. Box coordinates are pixel
// coordinates within the frame bounds.
type Detection struct {
	ClassLabel string
	Confidence float32
	Box        image.Rectangle
}

// FrameResult pairs a frame's detections with its annotated pixels and
// per-frame class counts. Consumed immediately by the encoder and discarded.
type FrameResult struct {
	FrameIndex  int
	Detections  []Detection
	Annotated   gocv.Mat
	ClassCounts map[string]int
}

// RunningSummary accumulates over one pipeline run. Counts are monotonically
// non-decreasing; failed frames contribute zero detections.
type RunningSummary struct {
	CumulativeCounts map[string]int
	FramesProcessed  int
	FramesFailed     int
}

// VideoArtifact describes the final browser-safe output file. Immutable once
// created; its lifetime is owned by the caller.
type VideoArtifact struct {
	Path            string
	ContainerFormat string
	Codec           string
	Duration        float64
	FrameCount      int
}

// FrameLog is one record of the live log stream, emitted in strictly
// ascending frame order.
type FrameLog struct {
	FrameIndex  int
	ClassCounts map[string]int
	Warning     string
}

// LogSink receives frame log records as they are produced.
type LogSink func(FrameLog)

// FrameSource opens a video container and exposes decoded frames in
// presentation order.
type FrameSource interface {
	Open(path string) (FrameStream, error)
}

// FrameStream is a lazy, finite, forward-only sequence of frames. Not
// restartable; a fresh Open is required to replay. Next returns io.EOF once
// the stream is exhausted. Close releases decoder resources and must be
// called on every exit path.
type FrameStream interface {
	Next() (Frame, error)
	FPS() float64
	Close() error
}

// Detector maps one frame to its detections. Implementations hold the loaded
// model as read-only shared state; Detect must be callable from multiple
// goroutines when the pipeline runs pooled inference.
type Detector interface {
	Detect(ctx context.Context, f Frame) ([]Detection, error)
	Classes() []string
}

// FrameWriter appends annotated frames to the intermediate container.
type FrameWriter interface {
	Write(img gocv.Mat) error
	Close() error
}

// WriterOpener begins the intermediate container once the first frame's
// dimensions are known.
type WriterOpener interface {
	OpenWriter(path string, fps float64, width, height int) (FrameWriter, error)
}

// CompatProfile selects the transcode compatibility profile. The baseline
// profile is the narrower fallback used for the single retry.
type CompatProfile int

const (
	ProfileDefault CompatProfile = iota
	ProfileBaseline
)

// Transcoder converts the intermediate container into the browser-safe
// H.264/MP4 target, and probes container durations. It is an opaque external
// tool boundary; the pipeline owns the retry and cleanup policy around it.
type Transcoder interface {
	Transcode(ctx context.Context, srcPath, dstPath string, profile CompatProfile) error
	Probe(ctx context.Context, path string) (float64, error)
}
