package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// fakeStream serves n synthetic frames and then io.EOF.
type fakeStream struct {
	n      int
	fps    float64
	next   int
	closed bool
}

func (s *fakeStream) Next() (Frame, error) {
	if s.next >= s.n {
		return Frame{}, io.EOF
	}
	f := Frame{
		Index:     s.next,
		Timestamp: float64(s.next) / s.fps,
		Image:     gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3),
	}
	s.next++
	return f, nil
}

func (s *fakeStream) FPS() float64 { return s.fps }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeSource struct {
	stream  *fakeStream
	openErr error
}

func (s *fakeSource) Open(path string) (FrameStream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.stream, nil
}

// fakeDetector returns two detections per frame, failing on the indices in
// failOn. An optional jitter makes pooled completion order nondeterministic.
type fakeDetector struct {
	failOn map[int]bool
	jitter bool

	mu    sync.Mutex
	calls int
}

func (d *fakeDetector) Detect(ctx context.Context, f Frame) ([]Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	if d.jitter {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}
	if d.failOn[f.Index] {
		return nil, errors.New("forward pass failed")
	}
	return detections("person", "helmet"), nil
}

func (d *fakeDetector) Classes() []string { return ppeClasses }

type fakeWriter struct {
	opener *fakeWriterOpener
}

func (w *fakeWriter) Write(img gocv.Mat) error {
	w.opener.mu.Lock()
	defer w.opener.mu.Unlock()
	if w.opener.failAtWrite > 0 && w.opener.writes+1 == w.opener.failAtWrite {
		return errors.New("container full")
	}
	w.opener.writes++
	return nil
}

func (w *fakeWriter) Close() error {
	w.opener.mu.Lock()
	defer w.opener.mu.Unlock()
	w.opener.closed = true
	return nil
}

// fakeWriterOpener creates a real file at the intermediate path so cleanup
// behavior is observable on disk.
type fakeWriterOpener struct {
	mu          sync.Mutex
	path        string
	fps         float64
	width       int
	height      int
	writes      int
	closed      bool
	failAtWrite int
}

func (o *fakeWriterOpener) OpenWriter(path string, fps float64, width, height int) (FrameWriter, error) {
	o.mu.Lock()
	o.path, o.fps, o.width, o.height = path, fps, width, height
	o.mu.Unlock()
	if err := os.WriteFile(path, []byte("raw"), 0644); err != nil {
		return nil, err
	}
	return &fakeWriter{opener: o}, nil
}

// fakeTranscoder records which profiles it was invoked with and writes the
// destination file on success.
type fakeTranscoder struct {
	failProfiles map[CompatProfile]bool
	duration     float64
	probeErr     error

	mu    sync.Mutex
	calls []CompatProfile
}

func (t *fakeTranscoder) Transcode(ctx context.Context, src, dst string, profile CompatProfile) error {
	t.mu.Lock()
	t.calls = append(t.calls, profile)
	t.mu.Unlock()
	if t.failProfiles[profile] {
		return errors.New("encoder exited 1")
	}
	return os.WriteFile(dst, []byte("mp4"), 0644)
}

func (t *fakeTranscoder) Probe(ctx context.Context, path string) (float64, error) {
	if t.probeErr != nil {
		return 0, t.probeErr
	}
	return t.duration, nil
}

type harness struct {
	source     *fakeSource
	detector   *fakeDetector
	writer     *fakeWriterOpener
	transcoder *fakeTranscoder
	records    []FrameLog
	output     string
}

func newHarness(t *testing.T, frames int) *harness {
	t.Helper()
	return &harness{
		source:     &fakeSource{stream: &fakeStream{n: frames, fps: 25}},
		detector:   &fakeDetector{},
		writer:     &fakeWriterOpener{},
		transcoder: &fakeTranscoder{duration: float64(frames) / 25},
		output:     filepath.Join(t.TempDir(), "annotated.mp4"),
	}
}

func (h *harness) pipeline(t *testing.T, workers int) *Pipeline {
	t.Helper()
	p, err := New(Options{
		Source:     h.source,
		Detector:   h.detector,
		Writer:     h.writer,
		Transcoder: h.transcoder,
		Sink:       func(rec FrameLog) { h.records = append(h.records, rec) },
		Workers:    workers,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) recordedIndices() []int {
	out := make([]int, 0, len(h.records))
	for _, r := range h.records {
		out = append(out, r.FrameIndex)
	}
	return out
}

func TestRunProcessesEveryFrame(t *testing.T) {
	h := newHarness(t, 5)
	p := h.pipeline(t, 1)

	result, err := p.Run(context.Background(), "input.mp4", h.output)
	require.NoError(t, err)

	assert.Equal(t, StateDone, p.State())
	assert.Equal(t, 5, result.Summary.FramesProcessed)
	assert.Equal(t, 0, result.Summary.FramesFailed)
	assert.Equal(t, map[string]int{"person": 5, "helmet": 5}, result.Summary.CumulativeCounts)

	assert.Equal(t, 5, h.writer.writes)
	assert.True(t, h.writer.closed)
	assert.Equal(t, h.output+".raw.mp4", h.writer.path)
	assert.Equal(t, float64(25), h.writer.fps)
	assert.Equal(t, 64, h.writer.width)
	assert.Equal(t, 48, h.writer.height)

	assert.Equal(t, "mp4", result.Artifact.ContainerFormat)
	assert.Equal(t, "h264", result.Artifact.Codec)
	assert.Equal(t, 5, result.Artifact.FrameCount)
	assert.InDelta(t, 0.2, result.Artifact.Duration, 1e-9)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, h.recordedIndices())
	assert.True(t, h.source.stream.closed)

	// Intermediate removed, final artifact present.
	_, err = os.Stat(h.writer.path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(h.output)
	assert.NoError(t, err)
}

func TestRunPooledPreservesFrameOrder(t *testing.T) {
	const frames = 40
	h := newHarness(t, frames)
	h.detector.jitter = true
	p := h.pipeline(t, 4)

	result, err := p.Run(context.Background(), "input.mp4", h.output)
	require.NoError(t, err)

	assert.Equal(t, frames, result.Summary.FramesProcessed)
	assert.Equal(t, frames, h.writer.writes)

	want := make([]int, frames)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, h.recordedIndices(), "frame order must match input order")
}

func TestInferenceFailureIsRecoverable(t *testing.T) {
	h := newHarness(t, 5)
	h.detector.failOn = map[int]bool{2: true}
	p := h.pipeline(t, 1)

	result, err := p.Run(context.Background(), "input.mp4", h.output)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Summary.FramesProcessed)
	assert.Equal(t, 1, result.Summary.FramesFailed)
	assert.Equal(t, map[string]int{"person": 4, "helmet": 4}, result.Summary.CumulativeCounts)

	// The failed frame is still written, just unannotated.
	assert.Equal(t, 5, h.writer.writes)
	assert.Equal(t, 5, result.Artifact.FrameCount)

	require.Len(t, h.records, 5)
	assert.Equal(t, "inference failed, skipped", h.records[2].Warning)
	assert.Empty(t, h.records[2].ClassCounts)
	assert.Empty(t, h.records[3].Warning)
}

func TestTranscodeRetriesBaselineProfileOnce(t *testing.T) {
	h := newHarness(t, 3)
	h.transcoder.failProfiles = map[CompatProfile]bool{ProfileDefault: true}
	p := h.pipeline(t, 1)

	result, err := p.Run(context.Background(), "input.mp4", h.output)
	require.NoError(t, err)

	assert.Equal(t, []CompatProfile{ProfileDefault, ProfileBaseline}, h.transcoder.calls)
	assert.Equal(t, StateDone, p.State())
	assert.Equal(t, 3, result.Artifact.FrameCount)
}

func TestTranscodeFailureIsFatalAfterOneRetry(t *testing.T) {
	h := newHarness(t, 3)
	h.transcoder.failProfiles = map[CompatProfile]bool{
		ProfileDefault:  true,
		ProfileBaseline: true,
	}
	p := h.pipeline(t, 1)

	_, err := p.Run(context.Background(), "input.mp4", h.output)
	require.Error(t, err)

	assert.Equal(t, KindReencodeFailed, KindOf(err))
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, []CompatProfile{ProfileDefault, ProfileBaseline}, h.transcoder.calls,
		"exactly one retry with the baseline profile")

	// Counts survive the failure for reporting.
	assert.Equal(t, 3, p.Summary().FramesProcessed)

	// No partial artifacts on disk.
	_, statErr := os.Stat(h.output)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(h.output + ".raw.mp4")
	assert.True(t, os.IsNotExist(statErr))
}

func TestProbeFailureFallsBackToFrameMath(t *testing.T) {
	h := newHarness(t, 50)
	h.transcoder.probeErr = errors.New("no ffprobe")
	p := h.pipeline(t, 1)

	result, err := p.Run(context.Background(), "input.mp4", h.output)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, result.Artifact.Duration, 1e-9) // 50 frames at 25 fps
}

func TestEmptyVideoIsUnreadable(t *testing.T) {
	h := newHarness(t, 0)
	p := h.pipeline(t, 1)

	_, err := p.Run(context.Background(), "input.mp4", h.output)
	require.Error(t, err)
	assert.Equal(t, KindUnreadableVideo, KindOf(err))
	assert.Equal(t, StateFailed, p.State())
	assert.Empty(t, h.transcoder.calls, "nothing to transcode")
}

func TestOpenFailureClassifiedAsUnreadable(t *testing.T) {
	h := newHarness(t, 5)
	h.source.openErr = errors.New("moov atom not found")
	p := h.pipeline(t, 1)

	_, err := p.Run(context.Background(), "input.mp4", h.output)
	require.Error(t, err)
	assert.Equal(t, KindUnreadableVideo, KindOf(err))
	assert.Equal(t, StateFailed, p.State())
}

func TestFrameWriteFailureIsFatal(t *testing.T) {
	h := newHarness(t, 5)
	h.writer.failAtWrite = 3
	p := h.pipeline(t, 1)

	_, err := p.Run(context.Background(), "input.mp4", h.output)
	require.Error(t, err)
	assert.Equal(t, KindFrameWriteFailed, KindOf(err))
	assert.Equal(t, StateFailed, p.State())
	assert.Empty(t, h.transcoder.calls)

	_, statErr := os.Stat(h.output + ".raw.mp4")
	assert.True(t, os.IsNotExist(statErr))
}

func TestFallbackFPSWhenContainerReportsNone(t *testing.T) {
	h := newHarness(t, 2)
	h.source.stream.fps = 0

	p, err := New(Options{
		Source:      h.source,
		Detector:    h.detector,
		Writer:      h.writer,
		Transcoder:  h.transcoder,
		FallbackFPS: 30,
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "input.mp4", h.output)
	require.NoError(t, err)
	assert.Equal(t, float64(30), h.writer.fps)
}

func TestRunIsSingleUse(t *testing.T) {
	h := newHarness(t, 2)
	p := h.pipeline(t, 1)

	_, err := p.Run(context.Background(), "input.mp4", h.output)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "input.mp4", h.output)
	require.Error(t, err)
}

func TestCancelledContextAborts(t *testing.T) {
	h := newHarness(t, 100)
	p := h.pipeline(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "input.mp4", h.output)
	require.Error(t, err)
	assert.Equal(t, StateFailed, p.State())
	assert.Empty(t, h.transcoder.calls)
}

func TestNewRequiresAllStages(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	for _, opts := range []Options{
		{Detector: &fakeDetector{}, Writer: &fakeWriterOpener{}, Transcoder: &fakeTranscoder{}},
		{Source: &fakeSource{}, Writer: &fakeWriterOpener{}, Transcoder: &fakeTranscoder{}},
		{Source: &fakeSource{}, Detector: &fakeDetector{}, Transcoder: &fakeTranscoder{}},
		{Source: &fakeSource{}, Detector: &fakeDetector{}, Writer: &fakeWriterOpener{}},
	} {
		_, err := New(opts)
		assert.Error(t, err, fmt.Sprintf("%+v", opts))
	}
}
