package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// DecodeImage decodes PNG or JPEG bytes.
func DecodeImage(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// SplitPanels crops a combined image into its panels for n steps (1, 2 or 4
// regions) and letterboxes each onto a 4:3 white canvas.
func SplitPanels(img image.Image, n int) []image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var rects []image.Rectangle
	switch PanelCount(n) {
	case 0:
		return nil
	case 1:
		rects = []image.Rectangle{b}
	case 2:
		rects = []image.Rectangle{
			image.Rect(b.Min.X, b.Min.Y, b.Min.X+w/2, b.Max.Y),
			image.Rect(b.Min.X+w/2, b.Min.Y, b.Max.X, b.Max.Y),
		}
	default:
		mx, my := b.Min.X+w/2, b.Min.Y+h/2
		rects = []image.Rectangle{
			image.Rect(b.Min.X, b.Min.Y, mx, my),
			image.Rect(mx, b.Min.Y, b.Max.X, my),
			image.Rect(b.Min.X, my, mx, b.Max.Y),
			image.Rect(mx, my, b.Max.X, b.Max.Y),
		}
	}
	out := make([]image.Image, 0, len(rects))
	for _, r := range rects {
		out = append(out, padTo43(img, r))
	}
	return out
}

func padTo43(src image.Image, r image.Rectangle) image.Image {
	w, h := r.Dx(), r.Dy()
	cw, ch := w, w*3/4
	if ch < h {
		ch, cw = h, h*4/3
	}
	if cw <= 0 || ch <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 4, 3))
	}
	dst := image.NewRGBA(image.Rect(0, 0, cw, ch))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	off := image.Pt((cw-w)/2, (ch-h)/2)
	draw.Draw(dst, image.Rectangle{Min: off, Max: off.Add(r.Size())}, src, r.Min, draw.Src)
	return dst
}
