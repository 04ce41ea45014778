// Package yolo wraps a YOLO ONNX model behind the pipeline's detector
// contract using the gocv DNN module.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/safevision/ppe-detection-service/internal/pipeline"
)

const (
	defaultInputSize     = 640
	defaultConfidence    = 0.4
	defaultIoUThreshold  = 0.45
	outputValuesPerClass = 4 // cx, cy, w, h precede the class scores
)

type Config struct {
	ModelPath string
	// ClassNames is the ordered class taxonomy the model was trained on.
	ClassNames []string
	// ConfidenceThreshold discards detections below it before they are
	// returned. Zero means the default of 0.4.
	ConfidenceThreshold float32
	// IoUThreshold controls overlap suppression. Zero means 0.45.
	IoUThreshold float32
	// InputSize is the square network input. Zero means 640.
	InputSize int
}

// Engine holds the loaded network. The model is loaded once at construction
// and never reloaded; Detect is safe for concurrent use but serializes the
// forward pass, since the underlying network is not thread safe.
type Engine struct {
	mu      sync.Mutex
	net     gocv.Net
	cfg     Config
	classes []string
	logger  *zap.Logger
}

func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if len(cfg.ClassNames) == 0 {
		return nil, &pipeline.Error{Kind: pipeline.KindModelUnavailable, Msg: "no class names configured"}
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaultConfidence
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = defaultIoUThreshold
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = defaultInputSize
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, &pipeline.Error{
			Kind: pipeline.KindModelUnavailable,
			Msg:  fmt.Sprintf("load model %s", cfg.ModelPath),
		}
	}

	logger.Info("detection model loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("classes", len(cfg.ClassNames)),
		zap.Float32("confidence_threshold", cfg.ConfidenceThreshold),
	)
	return &Engine{
		net:     net,
		cfg:     cfg,
		classes: append([]string(nil), cfg.ClassNames...),
		logger:  logger,
	}, nil
}

func (e *Engine) Classes() []string {
	return e.classes
}

func (e *Engine) Close() error {
	return e.net.Close()
}

// Detect runs one frame through the network and returns detections above the
// confidence threshold, after overlap suppression, with boxes clamped to the
// frame bounds.
func (e *Engine) Detect(ctx context.Context, f pipeline.Frame) ([]pipeline.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Image.Empty() {
		return nil, fmt.Errorf("frame %d: empty image buffer", f.Index)
	}

	size := e.cfg.InputSize
	blob := gocv.BlobFromImage(f.Image, 1.0/255.0, image.Pt(size, size),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.mu.Lock()
	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	e.mu.Unlock()
	defer out.Close()

	if out.Empty() {
		return nil, fmt.Errorf("frame %d: network produced no output", f.Index)
	}
	return e.decode(out, f.Image.Cols(), f.Image.Rows())
}

// decode turns the raw [1, 4+nc, candidates] output tensor into pixel-space
// detections.
func (e *Engine) decode(out gocv.Mat, frameW, frameH int) ([]pipeline.Detection, error) {
	rows := outputValuesPerClass + len(e.classes)
	flat := out.Reshape(1, rows)
	defer flat.Close()

	if flat.Rows() != rows {
		return nil, errors.New("output tensor shape does not match class taxonomy")
	}
	candidates := flat.Cols()

	scaleX := float64(frameW) / float64(e.cfg.InputSize)
	scaleY := float64(frameH) / float64(e.cfg.InputSize)

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	for c := 0; c < candidates; c++ {
		bestScore := float32(0)
		bestClass := -1
		for k := 0; k < len(e.classes); k++ {
			if s := flat.GetFloatAt(outputValuesPerClass+k, c); s > bestScore {
				bestScore = s
				bestClass = k
			}
		}
		if bestClass < 0 || bestScore < e.cfg.ConfidenceThreshold {
			continue
		}

		cx := float64(flat.GetFloatAt(0, c)) * scaleX
		cy := float64(flat.GetFloatAt(1, c)) * scaleY
		w := float64(flat.GetFloatAt(2, c)) * scaleX
		h := float64(flat.GetFloatAt(3, c)) * scaleY

		box := clampBox(cx-w/2, cy-h/2, cx+w/2, cy+h/2, frameW, frameH)
		if box.Empty() {
			continue
		}
		boxes = append(boxes, box)
		scores = append(scores, bestScore)
		classIDs = append(classIDs, bestClass)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, e.cfg.ConfidenceThreshold, e.cfg.IoUThreshold)
	dets := make([]pipeline.Detection, 0, len(keep))
	for _, i := range keep {
		dets = append(dets, pipeline.Detection{
			ClassLabel: e.classes[classIDs[i]],
			Confidence: scores[i],
			Box:        boxes[i],
		})
	}
	return dets, nil
}

func clampBox(x0, y0, x1, y1 float64, w, h int) image.Rectangle {
	r := image.Rect(int(x0), int(y0), int(x1), int(y1))
	return r.Intersect(image.Rect(0, 0, w, h))
}
