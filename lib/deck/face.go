package deck

import (
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	defaultColor  = color.RGBA{100, 100, 110, 255}
	blackoutColor = color.RGBA{200, 30, 30, 255}
)

// Face is what one key shows.
type Face struct {
	Label string
	Color color.RGBA
	Lit   bool
}

// Background is Color when lit and a third of it otherwise.
func (f Face) Background() color.RGBA {
	if f.Lit {
		return f.Color
	}
	return color.RGBA{f.Color.R / 3, f.Color.G / 3, f.Color.B / 3, 255}
}

func (f Face) Image(size int) image.Image {
	return TextImage(size, f.Background(), color.White, strings.Split(f.Label, "\n")...)
}

// TextImage renders lines centred on a size×size square.
func TextImage(size int, bg, fg color.Color, lines ...string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()

	totalHeight := lineHeight * len(lines)
	startY := (size-totalHeight)/2 + metrics.Ascent.Ceil()

	for i, line := range lines {
		width := font.MeasureString(face, line).Ceil()
		d := &font.Drawer{
			Dst:  img,
			Src:  &image.Uniform{fg},
			Face: face,
			Dot:  fixed.P((size-width)/2, startY+i*lineHeight),
		}
		d.DrawString(line)
	}
	return img
}

// ParseColor reads "#rrggbb". Anything else gives the default key colour.
func ParseColor(s string) color.RGBA {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return defaultColor
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return defaultColor
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}
}

// wrap breaks label into lines that fit a key of the given size.
func wrap(label string, size int) string {
	maxChars := size / 7
	if maxChars < 1 || len(label) <= maxChars {
		return label
	}
	var lines []string
	var cur string
	for _, word := range strings.Fields(label) {
		switch {
		case cur == "":
			cur = word
		case len(cur)+1+len(word) <= maxChars:
			cur += " " + word
		default:
			lines = append(lines, cur)
			cur = word
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	for i, l := range lines {
		if len(l) > maxChars {
			lines[i] = l[:maxChars]
		}
	}
	return strings.Join(lines, "\n")
}
