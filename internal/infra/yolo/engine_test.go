package yolo

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safevision/ppe-detection-service/internal/pipeline"
)

func TestNewEngineRequiresClassNames(t *testing.T) {
	_, err := NewEngine(Config{ModelPath: "/models/ppe-yolov8.onnx"}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, pipeline.KindModelUnavailable, pipeline.KindOf(err))
}

func TestClampBoxStaysInsideFrame(t *testing.T) {
	tests := []struct {
		name           string
		x0, y0, x1, y1 float64
		w, h           int
		want           image.Rectangle
	}{
		{"fully inside", 10, 20, 110, 220, 640, 480, image.Rect(10, 20, 110, 220)},
		{"spills left and top", -15, -8, 50, 60, 640, 480, image.Rect(0, 0, 50, 60)},
		{"spills right and bottom", 600, 400, 700, 520, 640, 480, image.Rect(600, 400, 640, 480)},
		{"fully outside", 700, 500, 800, 600, 640, 480, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampBox(tt.x0, tt.y0, tt.x1, tt.y1, tt.w, tt.h)
			assert.Equal(t, tt.want, got)
		})
	}
}
