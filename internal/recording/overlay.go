package recording

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/edgevision/aibox/internal/model"
)

// RenderOverlay draws detection boxes and a timestamp banner onto a copy of
// frame's pixels, returning a new RGB buffer (3 bytes/pixel, matching
// internal/decoder's Frame.Pixels convention). The upstream frame is never
// mutated (spec.md §4.8).
func RenderOverlay(frame *model.Frame, detections []model.Detection, timestampLabel string) []byte {
	src := rgbToRGBAImage(frame.Pixels, frame.Width, frame.Height)

	dc := gg.NewContextForRGBA(src)

	dc.SetColor(color.RGBA{R: 0, G: 255, B: 0, A: 255})
	dc.SetLineWidth(2)
	for _, det := range detections {
		b := det.BBox
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()
	}

	dc.SetColor(color.RGBA{R: 255, G: 255, B: 255, A: 255})
	dc.DrawString(timestampLabel, 8, float64(frame.Height)-8)

	return rgbaImageToRGB(dc.Image().(*image.RGBA))
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
