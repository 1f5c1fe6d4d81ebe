package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"securo/internal/pipeline"
)

// ModelColors maps model identifiers to box colours
var ModelColors = map[string]color.RGBA{
	"people":      {0, 255, 0, 255},
	"weapon":      {255, 0, 0, 255},
	"fire":        {255, 165, 0, 255},
	"shoplifting": {255, 0, 255, 255},
	"crowd":       {0, 140, 255, 255},
	"Accident":    {0, 255, 255, 255},
	"Vandalism":   {255, 255, 0, 255},
}

// DefaultColor is used for models without an entry in ModelColors
var DefaultColor = color.RGBA{255, 255, 255, 255}

// ColorFor returns the box colour of a model
func ColorFor(model string) color.RGBA {
	if c, ok := ModelColors[model]; ok {
		return c
	}
	return DefaultColor
}

// Overlay draws detection boxes and labels onto JPEG frames
type Overlay struct {
	quality   int
	thickness int
}

// NewOverlay creates an annotator encoding at the given JPEG quality
func NewOverlay(quality int) *Overlay {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Overlay{quality: quality, thickness: 2}
}

// Annotate decodes the frame, draws every detection and re-encodes it
func (o *Overlay) Annotate(jpegData []byte, detections []pipeline.Detection) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return o.AnnotateImage(img, detections)
}

// AnnotateImage draws onto an already decoded image and encodes it as JPEG
func (o *Overlay) AnnotateImage(img image.Image, detections []pipeline.Detection) ([]byte, error) {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, det := range detections {
		c := ColorFor(det.Model)
		x1, y1 := int(det.BBox.X1), int(det.BBox.Y1)
		x2, y2 := int(det.BBox.X2), int(det.BBox.Y2)
		o.drawBox(rgba, x1, y1, x2, y2, c)

		labelY := y1 - 10
		if labelY < 20 {
			labelY = 20
		}
		drawLabel(rgba, x1, labelY, fmt.Sprintf("%s %.2f", det.Label, det.Confidence), c)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: o.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBox draws a rectangle outline from (x1,y1) to (x2,y2), clipped to the image
func (o *Overlay) drawBox(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	b := img.Bounds()
	set := func(x, y int) {
		if image.Pt(x, y).In(b) {
			img.SetRGBA(x, y, c)
		}
	}

	for t := 0; t < o.thickness; t++ {
		for x := x1; x <= x2; x++ {
			set(x, y1+t)
			set(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			set(x1+t, y)
			set(x2-t, y)
		}
	}
}

// drawLabel draws text with its baseline at y on a dark background
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if x < 0 {
		x = 0
	}
	face := basicfont.Face7x13

	bg := image.Rect(x-2, y-face.Ascent-2, x+len(label)*face.Advance+2, y+face.Descent+2).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(color.RGBA{0, 0, 0, 180}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}

// Ensure Overlay implements pipeline.Annotator
var _ pipeline.Annotator = (*Overlay)(nil)
