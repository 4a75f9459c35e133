package preview

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/edgevision/aibox/internal/model"
)

// ROIOverlay is the subset of an internal/behavior ROI this package needs to
// draw it: geometry and a display priority, decoupled from the rule engine.
type ROIOverlay struct {
	Boxes    []model.BoundingBox
	Priority int // 1..5, drives fill color
}

// Input is everything RenderFullOverlay needs to draw one frame.
type Input struct {
	Frame          *model.Frame
	Detections     []model.Detection
	LocalTrackIDs  []uint64
	GlobalTrackIDs []uint64
	FaceLabels     []string
	PlateLabels    []string
	ActiveROIs     []ROIOverlay
	AlarmActive    bool
	FPS            float64
}

var classColors = map[string]color.RGBA{
	"person":     {R: 0, G: 220, B: 0, A: 255},
	"car":        {R: 0, G: 140, B: 255, A: 255},
	"truck":      {R: 0, G: 100, B: 200, A: 255},
	"bus":        {R: 0, G: 100, B: 200, A: 255},
	"motorcycle": {R: 255, G: 165, B: 0, A: 255},
	"bicycle":    {R: 255, G: 165, B: 0, A: 255},
	"bag":        {R: 255, G: 0, B: 255, A: 255},
}

func colorForClass(label string) color.RGBA {
	if c, ok := classColors[label]; ok {
		return c
	}
	return color.RGBA{R: 220, G: 220, B: 0, A: 255}
}

func roiColorForPriority(priority int) color.RGBA {
	// higher priority -> warmer, more opaque fill
	alpha := uint8(40 + priority*25)
	switch {
	case priority >= 4:
		return color.RGBA{R: 255, G: 0, B: 0, A: alpha}
	case priority >= 2:
		return color.RGBA{R: 255, G: 165, B: 0, A: alpha}
	default:
		return color.RGBA{R: 255, G: 255, B: 0, A: alpha}
	}
}

// RenderFullOverlay draws the preview-mode overlay described in spec.md
// §4.9: class-colored boxes with corner markers, labels with confidence,
// track ids, face/plate badges, translucent ROI fills, an alarm border
// flash, and a system-info line. Returns an RGB buffer; the upstream frame
// is never mutated.
func RenderFullOverlay(in Input) []byte {
	f := in.Frame
	src := rgbToRGBAImage(f.Pixels, f.Width, f.Height)
	dc := gg.NewContextForRGBA(src)

	for _, roi := range in.ActiveROIs {
		dc.SetColor(roiColorForPriority(roi.Priority))
		for _, b := range roi.Boxes {
			dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
			dc.Fill()
		}
	}

	for i, det := range in.Detections {
		c := colorForClass(det.ClassLabel)
		dc.SetColor(c)
		dc.SetLineWidth(2)
		b := det.BBox
		drawBoxWithCorners(dc, b)

		label := fmt.Sprintf("%s %.0f%%", det.ClassLabel, det.Confidence*100)
		if i < len(in.LocalTrackIDs) {
			label += fmt.Sprintf(" L%d", in.LocalTrackIDs[i])
		}
		if i < len(in.GlobalTrackIDs) && in.GlobalTrackIDs[i] != 0 {
			label += fmt.Sprintf(" G%d", in.GlobalTrackIDs[i])
		}
		if i < len(in.FaceLabels) && in.FaceLabels[i] != "" {
			label += " [face:" + in.FaceLabels[i] + "]"
		}
		if i < len(in.PlateLabels) && in.PlateLabels[i] != "" {
			label += " [plate:" + in.PlateLabels[i] + "]"
		}
		dc.DrawString(label, float64(b.X), float64(b.Y)-4)
	}

	if in.AlarmActive {
		dc.SetColor(color.RGBA{R: 255, G: 0, B: 0, A: 255})
		dc.SetLineWidth(6)
		dc.DrawRectangle(3, 3, float64(f.Width-6), float64(f.Height-6))
		dc.Stroke()
	}

	sysInfo := fmt.Sprintf("det=%d trk=%d faces=%d plates=%d fps=%.1f",
		len(in.Detections), len(in.LocalTrackIDs), countNonEmpty(in.FaceLabels), countNonEmpty(in.PlateLabels), in.FPS)
	dc.SetColor(color.RGBA{R: 255, G: 255, B: 255, A: 255})
	dc.DrawString(sysInfo, 8, float64(f.Height)-8)

	return rgbaImageToRGB(dc.Image().(*image.RGBA))
}

func drawBoxWithCorners(dc *gg.Context, b model.BoundingBox) {
	dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
	dc.Stroke()

	corner := float64(min(b.Width, b.Height)) * 0.2
	if corner < 4 {
		corner = 4
	}
	x1, y1 := float64(b.X), float64(b.Y)
	x2, y2 := float64(b.X+b.Width), float64(b.Y+b.Height)
	dc.SetLineWidth(4)
	for _, corn := range [][4]float64{{x1, y1, x1 + corner, y1}, {x1, y1, x1, y1 + corner}, {x2, y1, x2 - corner, y1}, {x2, y1, x2, y1 + corner}, {x1, y2, x1 + corner, y2}, {x1, y2, x1, y2 - corner}, {x2, y2, x2 - corner, y2}, {x2, y2, x2, y2 - corner}} {
		dc.DrawLine(corn[0], corn[1], corn[2], corn[3])
		dc.Stroke()
	}
}

func countNonEmpty(labels []string) int {
	n := 0
	for _, l := range labels {
		if l != "" {
			n++
		}
	}
	return n
}

func rgbToRGBAImage(pixels []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height
	for i := 0; i < n && i*3+2 < len(pixels); i++ {
		img.Pix[i*4+0] = pixels[i*3+0]
		img.Pix[i*4+1] = pixels[i*3+1]
		img.Pix[i*4+2] = pixels[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img
}

func rgbaImageToRGB(img *image.RGBA) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]byte, width*height*3)
	n := width * height
	for i := 0; i < n; i++ {
		out[i*3+0] = img.Pix[i*4+0]
		out[i*3+1] = img.Pix[i*4+1]
		out[i*3+2] = img.Pix[i*4+2]
	}
	return out
}
