// Package imaging turns pictures and text into printer rows: strings of
// '0' and '1', one per line of dots, '1' burning a dot.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultThreshold separates dark from light pixels
const DefaultThreshold = 128

// LoadImage decodes a png, jpeg, gif, bmp or webp file
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// Fit scales img into a w by h white canvas, keeping the aspect ratio and
// centering it. Scaling is nearest neighbour, which keeps edges crisp on
// a thermal head.
func Fit(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	b := img.Bounds()
	if b.Empty() || w <= 0 || h <= 0 {
		return dst
	}
	scale := min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	fw, fh := int(float64(b.Dx())*scale), int(float64(b.Dy())*scale)
	offX, offY := (w-fw)/2, (h-fh)/2

	for y := 0; y < fh; y++ {
		sy := min(int(float64(y)/scale), b.Dy()-1)
		for x := 0; x < fw; x++ {
			sx := min(int(float64(x)/scale), b.Dx()-1)
			dst.Set(offX+x, offY+y, img.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return dst
}

// BitRows thresholds img into one row per line. Rows are padded with
// blank dots to a multiple of 8.
func BitRows(img image.Image, threshold uint8, invert bool) []string {
	b := img.Bounds()
	width := (b.Dx() + 7) / 8 * 8
	rows := make([]string, 0, b.Dy())

	var sb strings.Builder
	for y := b.Min.Y; y < b.Max.Y; y++ {
		sb.Reset()
		sb.Grow(width)
		for x := b.Min.X; x < b.Min.X+width; x++ {
			dark := false
			if x < b.Max.X {
				dark = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y < threshold
			}
			if dark != invert {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		rows = append(rows, sb.String())
	}
	return rows
}

// Rasterize prepares img for a label headDots wide and feedDots long.
// With rotate set the image is laid along the feed, so landscape content
// reads along the label.
func Rasterize(img image.Image, headDots, feedDots int, rotate bool, threshold uint8) []string {
	if rotate {
		return BitRows(RotateCW(Fit(img, feedDots, headDots)), threshold, false)
	}
	return BitRows(Fit(img, headDots, feedDots), threshold, false)
}

// Preview draws rows back into an image for display
func Preview(rows []string) image.Image {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	img := image.NewGray(image.Rect(0, 0, width, len(rows)))
	for y, r := range rows {
		for x := 0; x < width; x++ {
			v := uint8(255)
			if x < len(r) && r[x] == '1' {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

// RotateCW rotates src a quarter turn clockwise
func RotateCW(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dy()-1-y, x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// RotateCCW rotates src a quarter turn counter-clockwise, undoing RotateCW
// for on-screen previews
func RotateCCW(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(y, b.Dx()-1-x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
