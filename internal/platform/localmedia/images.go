package localmedia

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DownscaleJPEG reads an image file and re-encodes it as JPEG with its longer
// side at most maxDim pixels. Smaller images are re-encoded unchanged in size.
// JPEG, PNG, GIF, WebP, BMP and TIFF sources decode; anything else fails with
// an error wrapping image.ErrFormat.
func DownscaleJPEG(path string, maxDim int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return encodeScaled(src, maxDim)
}

func encodeScaled(src image.Image, maxDim int) ([]byte, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := src
	if maxDim > 0 && (w > maxDim || h > maxDim) {
		nw, nh := maxDim, maxDim
		if w >= h {
			nh = max(1, h*maxDim/w)
		} else {
			nw = max(1, w*maxDim/h)
		}
		rgba := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(rgba, rgba.Bounds(), src, b, draw.Over, nil)
		dst = rgba
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
