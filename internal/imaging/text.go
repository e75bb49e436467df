package imaging

import (
	"image"
	"image/draw"
	"strings"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

// PrinterDPI is the resolution of every supported print head
const PrinterDPI = 203

const textMargin = 4

// TextOptions configures text rendering
type TextOptions struct {
	Width, Height int
	FontSize      float64 // points
	Invert        bool    // white text on black
	// WordWrap breaks lines at spaces only, splitting words that do not fit
	WordWrap bool
}

var goRegular = mustParseFont(goregular.TTF)

func mustParseFont(ttf []byte) *truetype.Font {
	f, err := truetype.Parse(ttf)
	if err != nil {
		panic(err)
	}
	return f
}

// RenderText draws text centered on a Width by Height canvas
func RenderText(text string, opts TextOptions) image.Image {
	bg, fg := image.White, image.Black
	if opts.Invert {
		bg, fg = image.Black, image.White
	}
	img := image.NewGray(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(img, img.Bounds(), bg, image.Point{}, draw.Src)

	face := truetype.NewFace(goRegular, &truetype.Options{Size: opts.FontSize, DPI: PrinterDPI})
	defer face.Close()

	c := freetype.NewContext()
	c.SetDPI(PrinterDPI)
	c.SetFont(goRegular)
	c.SetFontSize(opts.FontSize)
	c.SetClip(img.Bounds())
	c.SetDst(img)
	c.SetSrc(fg)
	c.SetHinting(font.HintingFull)

	m := face.Metrics()
	lineHeight := m.Height.Ceil()
	lines := wrap(text, face, opts.Width-2*textMargin, opts.WordWrap)

	y := (opts.Height-len(lines)*lineHeight)/2 + m.Ascent.Ceil()
	for _, line := range lines {
		x := (opts.Width - measure(face, line)) / 2
		c.DrawString(line, freetype.Pt(x, y))
		y += lineHeight
	}
	return img
}

// wrap splits text into lines no wider than maxWidth pixels
func wrap(text string, face font.Face, maxWidth int, wordsOnly bool) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		if !wordsOnly {
			lines = append(lines, splitRunes(para, face, maxWidth)...)
			continue
		}
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := ""
		for _, w := range words {
			candidate := strings.TrimPrefix(line+" "+w, " ")
			if measure(face, candidate) <= maxWidth {
				line = candidate
				continue
			}
			if line != "" {
				lines = append(lines, line)
			}
			parts := splitRunes(w, face, maxWidth)
			lines = append(lines, parts[:len(parts)-1]...)
			line = parts[len(parts)-1]
		}
		lines = append(lines, line)
	}
	return lines
}

// splitRunes breaks s anywhere so every piece fits; it returns at least
// one piece
func splitRunes(s string, face font.Face, maxWidth int) []string {
	var parts []string
	cur := ""
	for _, r := range s {
		if cur != "" && measure(face, cur+string(r)) > maxWidth {
			parts = append(parts, cur)
			cur = ""
		}
		cur += string(r)
	}
	return append(parts, cur)
}

func measure(face font.Face, s string) int {
	var w fixed.Int26_6
	for _, r := range s {
		if adv, ok := face.GlyphAdvance(r); ok {
			w += adv
		}
	}
	return w.Ceil()
}
