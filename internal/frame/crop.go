package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"toll-monitor/internal/domain/detection"
)

const jpegQuality = 90

// ErrUndecodable marks frames whose bytes are not a supported image format.
var ErrUndecodable = errors.New("undecodable frame")

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop cuts box out of an encoded frame. The box is clipped to the frame
// bounds; a box that does not intersect the frame is ErrInvalidInput. The crop
// is re-encoded in the frame's own format.
func Crop(data []byte, box detection.BBox) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", detection.ErrInvalidInput, ErrUndecodable, err)
	}

	rect := ClipRect(box, img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("%w: bbox %v outside frame %v", detection.ErrInvalidInput, box, img.Bounds())
	}

	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("%w: image type %T cannot be cropped", detection.ErrInvalidInput, img)
	}
	cropped := si.SubImage(rect)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: jpegQuality})
	default:
		err = png.Encode(&buf, cropped)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// ClipRect converts a [x, y, width, height] box to a pixel rectangle clipped
// to bounds. Fractional edges are widened outwards.
func ClipRect(box detection.BBox, bounds image.Rectangle) image.Rectangle {
	if box.Width() <= 0 || box.Height() <= 0 {
		return image.Rectangle{}
	}
	for _, v := range box {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return image.Rectangle{}
		}
	}
	// Clamp in float64 first: converting an out-of-range float to int is
	// implementation-specific.
	x0 := clamp(math.Floor(box.X()), bounds.Min.X, bounds.Max.X)
	y0 := clamp(math.Floor(box.Y()), bounds.Min.Y, bounds.Max.Y)
	x1 := clamp(math.Ceil(box.X()+box.Width()), bounds.Min.X, bounds.Max.X)
	y1 := clamp(math.Ceil(box.Y()+box.Height()), bounds.Min.Y, bounds.Max.Y)
	if x0 >= x1 || y0 >= y1 {
		return image.Rectangle{}
	}
	return image.Rect(int(x0), int(y0), int(x1), int(y1))
}

func clamp(v float64, lo, hi int) float64 {
	return math.Max(float64(lo), math.Min(v, float64(hi)))
}
