package pipeline

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestClassColorIsDeterministic(t *testing.T) {
	for _, label := range []string{"person", "helmet", "vest", "no-helmet", "no-vest"} {
		first := ClassColor(label)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, ClassColor(label), "color for %q changed between calls", label)
		}
	}
}

func TestClassColorComesFromPalette(t *testing.T) {
	c := ClassColor("person")
	assert.Contains(t, classPalette, c)
}

func TestAnnotateDoesNotMutateInput(t *testing.T) {
	img := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()
	frame := Frame{Index: 0, Image: img}

	before := img.Sum()
	out := Annotate(frame, []Detection{
		{ClassLabel: "person", Confidence: 0.85, Box: image.Rect(10, 30, 60, 110)},
	})
	defer out.Close()

	assert.Equal(t, before, img.Sum(), "input frame pixels changed")
	assert.NotEqual(t, before, out.Sum(), "annotated copy should differ from input")
}

func TestAnnotateZeroDetectionsReturnsCopy(t *testing.T) {
	img := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer img.Close()
	frame := Frame{Index: 0, Image: img}

	out := Annotate(frame, nil)
	defer out.Close()

	require.False(t, out.Empty())
	assert.Equal(t, img.Rows(), out.Rows())
	assert.Equal(t, img.Cols(), out.Cols())
	assert.Equal(t, img.Sum(), out.Sum())
}
