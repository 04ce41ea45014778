package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// State is the orchestrator's lifecycle state. Failed is terminal and
// reachable from every non-terminal state.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateProcessing
	StateEncoding
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOpening:
		return "OPENING"
	case StateProcessing:
		return "PROCESSING"
	case StateEncoding:
		return "ENCODING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

const defaultFallbackFPS = 25

// Options wires the pipeline's stages together. Source, Detector, Writer and
// Transcoder are required.
type Options struct {
	Source     FrameSource
	Detector   Detector
	Writer     WriterOpener
	Transcoder Transcoder
	Logger     *zap.Logger
	// Sink receives one FrameLog per frame, in strictly ascending frame
	// order regardless of Workers.
	Sink LogSink
	// Workers bounds the inference worker pool. Values <= 1 run the
	// baseline sequential schedule.
	Workers int
	// FallbackFPS is used when the container reports no frame rate.
	FallbackFPS float64
}

// Pipeline drives one detection run. It is a single-run object: construct,
// Run once, discard.
type Pipeline struct {
	opts  Options
	agg   *Aggregator
	state atomic.Int32
}

// Result is what a successful run produces.
type Result struct {
	Artifact VideoArtifact
	Summary  RunningSummary
}

func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil || opts.Detector == nil || opts.Writer == nil || opts.Transcoder == nil {
		return nil, errors.New("pipeline: source, detector, writer and transcoder are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FallbackFPS <= 0 {
		opts.FallbackFPS = defaultFallbackFPS
	}
	return &Pipeline{
		opts: opts,
		agg:  NewAggregator(opts.Detector.Classes()),
	}, nil
}

// State reports the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Summary snapshots the running totals. Valid after a failed run too, where
// it reports the frames processed before the failure.
func (p *Pipeline) Summary() RunningSummary {
	return p.agg.Summary()
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}

// encodeState is the phase-1 output being assembled incrementally.
type encodeState struct {
	intermediate string
	fps          float64
	writer       FrameWriter
	frames       int
}

// Run executes the full pipeline: open the container, process every frame
// through detect → annotate → aggregate → write, then transcode to the
// browser-safe target. On any fatal error the intermediate and partial output
// files are removed and the decoder is released.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateOpening)) {
		return nil, errors.New("pipeline: Run called twice on the same run object")
	}

	stream, err := p.opts.Source.Open(inputPath)
	if err != nil {
		p.setState(StateFailed)
		return nil, p.classify(err, KindUnreadableVideo, "open video")
	}
	defer stream.Close()

	enc := &encodeState{
		intermediate: outputPath + ".raw.mp4",
		fps:          stream.FPS(),
	}
	if enc.fps <= 0 {
		enc.fps = p.opts.FallbackFPS
	}

	p.setState(StateProcessing)

	if p.opts.Workers > 1 {
		err = p.runPooled(ctx, stream, enc)
	} else {
		err = p.runSequential(ctx, stream, enc)
	}
	if err == nil && enc.frames == 0 {
		err = newError(KindUnreadableVideo, "video contains no frames", nil)
	}
	if err == nil && enc.writer != nil {
		if cerr := enc.writer.Close(); cerr != nil {
			err = newError(KindFrameWriteFailed, "close intermediate container", cerr)
		}
		enc.writer = nil
	}
	if err != nil {
		return nil, p.fail(enc, outputPath, err)
	}

	p.setState(StateEncoding)
	artifact, err := p.encode(ctx, enc, outputPath)
	if err != nil {
		return nil, p.fail(enc, outputPath, err)
	}

	p.setState(StateDone)
	summary := p.agg.Summary()
	p.opts.Logger.Info("pipeline completed",
		zap.Int("frames_processed", summary.FramesProcessed),
		zap.Int("frames_failed", summary.FramesFailed),
		zap.String("artifact", artifact.Path),
	)
	return &Result{Artifact: artifact, Summary: summary}, nil
}

func (p *Pipeline) runSequential(ctx context.Context, stream FrameStream, enc *encodeState) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return newError(KindUnreadableVideo, "decode frame", err)
		}

		o := frameOutcome{frame: frame}
		o.dets, o.err = p.opts.Detector.Detect(ctx, frame)
		if err := p.emit(o, enc); err != nil {
			return err
		}
	}
}

// runPooled overlaps inference across a bounded worker pool. A reorder buffer
// restores strict ascending frame order before annotate/aggregate/write, so
// output frame order matches input order exactly.
func (p *Pipeline) runPooled(ctx context.Context, stream FrameStream, enc *encodeState) error {
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan Frame, p.opts.Workers)
	outcomes := make(chan frameOutcome, p.opts.Workers)

	var readErr atomic.Value
	go func() {
		defer close(frames)
		for {
			frame, err := stream.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				readErr.Store(newError(KindUnreadableVideo, "decode frame", err))
				cancel()
				return
			}
			select {
			case frames <- frame:
			case <-poolCtx.Done():
				frame.Image.Close()
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frame := range frames {
				o := frameOutcome{frame: frame}
				o.dets, o.err = p.opts.Detector.Detect(poolCtx, frame)
				select {
				case outcomes <- o:
				case <-poolCtx.Done():
					frame.Image.Close()
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	buf := newReorderBuffer()
	var fatal error
	for o := range outcomes {
		if fatal != nil {
			o.frame.Image.Close()
			continue
		}
		for _, ready := range buf.add(o) {
			if fatal != nil {
				ready.frame.Image.Close()
				continue
			}
			if err := p.emit(ready, enc); err != nil {
				fatal = err
				cancel()
			}
		}
	}
	for _, leftover := range buf.drainRemaining() {
		leftover.frame.Image.Close()
	}

	if fatal != nil {
		return fatal
	}
	if err, ok := readErr.Load().(error); ok && err != nil {
		return err
	}
	return ctx.Err()
}

// emit runs annotate → aggregate → write for one frame, in order. It is the
// single writer of the running summary.
func (p *Pipeline) emit(o frameOutcome, enc *encodeState) error {
	frame := o.frame
	defer frame.Image.Close()

	if enc.writer == nil {
		w, err := p.opts.Writer.OpenWriter(enc.intermediate, enc.fps, frame.Image.Cols(), frame.Image.Rows())
		if err != nil {
			return newError(KindFrameWriteFailed, "open intermediate container", err)
		}
		enc.writer = w
	}

	var rec FrameLog
	if o.err != nil {
		p.agg.RecordFailure(frame.Index)
		rec = FrameLog{FrameIndex: frame.Index, Warning: "inference failed, skipped"}
		p.opts.Logger.Warn(p.agg.FormatRecord(rec),
			zap.Int("frame", frame.Index),
			zap.Error(o.err),
		)
	} else {
		counts := p.agg.Record(frame.Index, o.dets)
		rec = FrameLog{FrameIndex: frame.Index, ClassCounts: counts}
		p.opts.Logger.Info(p.agg.FormatRecord(rec), zap.Int("frame", frame.Index))
	}
	if p.opts.Sink != nil {
		p.opts.Sink(rec)
	}

	annotated := Annotate(frame, o.dets)
	err := enc.writer.Write(annotated)
	annotated.Close()
	if err != nil {
		return newError(KindFrameWriteFailed, fmt.Sprintf("write frame %d", frame.Index), err)
	}
	enc.frames++
	return nil
}

// encode is phase 2: transcode the intermediate file into the H.264/MP4
// target, retrying once with the narrower baseline profile. The intermediate
// file is deleted on success; failures are cleaned up by the caller.
func (p *Pipeline) encode(ctx context.Context, enc *encodeState, outputPath string) (VideoArtifact, error) {
	err := p.opts.Transcoder.Transcode(ctx, enc.intermediate, outputPath, ProfileDefault)
	if err != nil {
		p.opts.Logger.Warn("transcode failed, retrying with baseline profile", zap.Error(err))
		os.Remove(outputPath)
		if err = p.opts.Transcoder.Transcode(ctx, enc.intermediate, outputPath, ProfileBaseline); err != nil {
			return VideoArtifact{}, newError(KindReencodeFailed, "transcode to h264", err)
		}
	}

	duration, err := p.opts.Transcoder.Probe(ctx, outputPath)
	if err != nil {
		p.opts.Logger.Warn("could not probe output duration", zap.Error(err))
		duration = float64(enc.frames) / enc.fps
	}

	os.Remove(enc.intermediate)
	return VideoArtifact{
		Path:            outputPath,
		ContainerFormat: "mp4",
		Codec:           "h264",
		Duration:        duration,
		FrameCount:      enc.frames,
	}, nil
}

// fail transitions to Failed and guarantees no partial artifact survives.
func (p *Pipeline) fail(enc *encodeState, outputPath string, err error) error {
	p.setState(StateFailed)
	if enc.writer != nil {
		enc.writer.Close()
		enc.writer = nil
	}
	os.Remove(enc.intermediate)
	os.Remove(outputPath)

	summary := p.agg.Summary()
	p.opts.Logger.Error("pipeline failed",
		zap.String("kind", string(KindOf(err))),
		zap.Int("frames_processed", summary.FramesProcessed),
		zap.Error(err),
	)
	return err
}

// classify keeps an existing pipeline error kind, otherwise wraps with the
// fallback kind.
func (p *Pipeline) classify(err error, fallback Kind, msg string) error {
	p.setState(StateFailed)
	if KindOf(err) != "" {
		return err
	}
	return newError(fallback, msg, err)
}
