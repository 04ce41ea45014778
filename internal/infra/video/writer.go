package video

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/safevision/ppe-detection-service/internal/pipeline"
)

// intermediateCodec is what the OpenCV frame writer reliably produces
// everywhere. Browsers cannot play it, which is why the pipeline transcodes
// the intermediate file afterwards.
const intermediateCodec = "mp4v"

// WriterOpener opens phase-1 intermediate containers.
type WriterOpener struct{}

func NewWriterOpener() *WriterOpener {
	return &WriterOpener{}
}

func (WriterOpener) OpenWriter(path string, fps float64, width, height int) (pipeline.FrameWriter, error) {
	vw, err := gocv.VideoWriterFile(path, intermediateCodec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open %s writer: %w", intermediateCodec, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("%s writer did not open for %s", intermediateCodec, path)
	}
	return &writer{vw: vw, width: width, height: height}, nil
}

type writer struct {
	vw     *gocv.VideoWriter
	width  int
	height int
}

func (w *writer) Write(img gocv.Mat) error {
	if img.Cols() != w.width || img.Rows() != w.height {
		return fmt.Errorf("frame size %dx%d does not match container %dx%d",
			img.Cols(), img.Rows(), w.width, w.height)
	}
	if err := w.vw.Write(img); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (w *writer) Close() error {
	if w.vw == nil {
		return errors.New("writer already closed")
	}
	err := w.vw.Close()
	w.vw = nil
	return err
}
