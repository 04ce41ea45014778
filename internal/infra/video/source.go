// Package video adapts gocv video I/O to the pipeline's frame source and
// intermediate writer contracts.
package video

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"github.com/safevision/ppe-detection-service/internal/pipeline"
)

var supportedExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
}

// Source opens video containers with the OpenCV decoder.
type Source struct{}

func NewSource() *Source {
	return &Source{}
}

func (s *Source) Open(path string) (pipeline.FrameStream, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return nil, &pipeline.Error{
			Kind: pipeline.KindUnreadableVideo,
			Msg:  fmt.Sprintf("unsupported container %q (want mp4, avi or mov)", ext),
		}
	}

	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, &pipeline.Error{Kind: pipeline.KindUnreadableVideo, Msg: "open container", Err: err}
	}
	if !cap.IsOpened() || cap.Get(gocv.VideoCaptureFrameCount) <= 0 {
		cap.Close()
		return nil, &pipeline.Error{
			Kind: pipeline.KindUnreadableVideo,
			Msg:  fmt.Sprintf("container %s has no decodable frames", filepath.Base(path)),
		}
	}

	return &stream{cap: cap, fps: cap.Get(gocv.VideoCaptureFPS)}, nil
}

// stream is a forward-only frame sequence over one decoder handle.
type stream struct {
	cap    *gocv.VideoCapture
	fps    float64
	next   int
	closed bool
}

func (s *stream) Next() (pipeline.Frame, error) {
	if s.closed {
		return pipeline.Frame{}, io.EOF
	}

	img := gocv.NewMat()
	if ok := s.cap.Read(&img); !ok || img.Empty() {
		img.Close()
		return pipeline.Frame{}, io.EOF
	}

	fps := s.fps
	if fps <= 0 {
		fps = 25
	}
	frame := pipeline.Frame{
		Index:     s.next,
		Timestamp: float64(s.next) / fps,
		Image:     img,
	}
	s.next++
	return frame, nil
}

func (s *stream) FPS() float64 {
	return s.fps
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cap.Close()
}
