package pipeline

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// classPalette holds the colors detections are drawn in. A class label is
// hashed onto the palette so the same class gets the same color within and
// across runs.
var classPalette = []color.RGBA{
	{R: 0x11, G: 0x8a, B: 0x28, A: 255}, // green
	{R: 0xe6, G: 0x3c, B: 0x3c, A: 255}, // red
	{R: 0x1e, G: 0x90, B: 0xff, A: 255}, // blue
	{R: 0xff, G: 0xa5, B: 0x00, A: 255}, // orange
	{R: 0x9b, G: 0x59, B: 0xb6, A: 255}, // purple
	{R: 0x00, G: 0xce, B: 0xc8, A: 255}, // teal
	{R: 0xf3, G: 0xd2, B: 0x1a, A: 255}, // yellow
	{R: 0xff, G: 0x69, B: 0xb4, A: 255}, // pink
}

// ClassColor returns the deterministic color for a class label.
func ClassColor(label string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(label))
	return classPalette[h.Sum32()%uint32(len(classPalette))]
}

// Annotate draws one rectangle plus a label per detection onto a copy of the
// frame. The input frame is never mutated; the caller owns the returned Mat.
// Zero detections returns an unmodified copy.
func Annotate(f Frame, dets []Detection) gocv.Mat {
	out := f.Image.Clone()
	for _, d := range dets {
		c := ClassColor(d.ClassLabel)
		gocv.Rectangle(&out, d.Box, c, 2)

		label := fmt.Sprintf("%s %.0f%%", d.ClassLabel, d.Confidence*100)
		labelPos := image.Point{X: d.Box.Min.X, Y: d.Box.Min.Y - 6}
		if labelPos.Y < 14 {
			labelPos.Y = d.Box.Max.Y + 16
		}
		gocv.PutText(&out, label, labelPos, gocv.FontHersheySimplex, 0.5, c, 1)
	}
	return out
}
