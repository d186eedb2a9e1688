package device

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/orrn/labelstream/internal/template"
)

const (
	defaultFontSizeMM = 3.2
	defaultThreshold  = 128
)

var (
	fontsOnce sync.Once
	fonts     [4]*truetype.Font
	fontsErr  error
)

// face returns the Go font face for the style, sized in millimetres.
func face(bold, italic bool, sizeMM float64, dpi int) (font.Face, error) {
	fontsOnce.Do(func() {
		for i, ttf := range [][]byte{goregular.TTF, gobold.TTF, goitalic.TTF, gobolditalic.TTF} {
			f, err := truetype.Parse(ttf)
			if err != nil {
				fontsErr = fmt.Errorf("failed to parse built-in font: %w", err)
				return
			}
			fonts[i] = f
		}
	})
	if fontsErr != nil {
		return nil, fontsErr
	}

	i := 0
	if bold {
		i |= 1
	}
	if italic {
		i |= 2
	}
	return truetype.NewFace(fonts[i], &truetype.Options{
		Size:    sizeMM * 72 / 25.4,
		DPI:     float64(dpi),
		Hinting: font.HintingFull,
	}), nil
}

// renderText rasterizes a text element into its box, wrapping at word
// boundaries and applying alignment, spacing and style.
func renderText(e *template.Text, dpi int) (*image.Gray, error) {
	w, h := mmToDots(e.Width, dpi), mmToDots(e.Height, dpi)
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("text box %gx%g mm is too small to render", e.Width, e.Height)
	}

	size := e.FontSize
	if size <= 0 {
		size = defaultFontSizeMM
	}
	ff, err := face(e.FontStyle[0], e.FontStyle[1], size, dpi)
	if err != nil {
		return nil, err
	}
	defer ff.Close()

	img := blank(w, h)
	spacing := fixed.I(mmToDots(e.LetterSpacing, dpi))
	metrics := ff.Metrics()
	ascent := metrics.Ascent.Ceil()
	lineH := metrics.Height.Ceil() + mmToDots(e.LineSpacing, dpi)
	lines := wrapWords(e.Value, ff, spacing, w)

	top := 0
	switch e.TextAlignVertical {
	case 1:
		top = (h - len(lines)*lineH) / 2
	case 2:
		top = h - len(lines)*lineH
	}

	d := &font.Drawer{Dst: img, Src: image.Black, Face: ff}
	rule := max(1, lineH/16)
	for i, line := range lines {
		lw := measure(ff, line, spacing)
		x := 0
		switch e.TextAlignHorizontal {
		case 1:
			x = (w - lw) / 2
		case 2:
			x = w - lw
		}
		baseline := top + i*lineH + ascent

		d.Dot = fixed.P(x, baseline)
		for _, r := range line {
			d.DrawString(string(r))
			d.Dot.X += spacing
		}

		if e.FontStyle[2] {
			fill(img, image.Rect(x, baseline+rule, x+lw, baseline+2*rule))
		}
		if e.FontStyle[3] {
			mid := baseline - ascent/3
			fill(img, image.Rect(x, mid, x+lw, mid+rule))
		}
	}

	return rotate(img, e.Rotate), nil
}

// wrapWords splits text into lines no wider than maxWidth, breaking at
// spaces and only splitting words that do not fit on a line alone.
func wrapWords(text string, ff font.Face, spacing fixed.Int26_6, maxWidth int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		current := ""
		for _, word := range words {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if measure(ff, candidate, spacing) <= maxWidth {
				current = candidate
				continue
			}
			if current != "" {
				lines = append(lines, current)
			}
			current = word
			for measure(ff, current, spacing) > maxWidth {
				head, tail := splitToWidth(current, ff, spacing, maxWidth)
				lines = append(lines, head)
				current = tail
			}
		}
		lines = append(lines, current)
	}
	return lines
}

// splitToWidth returns the longest prefix of s that fits, always keeping
// at least one rune so the caller makes progress.
func splitToWidth(s string, ff font.Face, spacing fixed.Int26_6, maxWidth int) (string, string) {
	runes := []rune(s)
	n := 1
	for n < len(runes) && measure(ff, string(runes[:n+1]), spacing) <= maxWidth {
		n++
	}
	return string(runes[:n]), string(runes[n:])
}

func measure(ff font.Face, s string, spacing fixed.Int26_6) int {
	var width fixed.Int26_6
	for _, r := range s {
		if adv, ok := ff.GlyphAdvance(r); ok {
			width += adv
		}
		width += spacing
	}
	return width.Ceil()
}

// decodeImage decodes base64 image data, with or without a data URL
// prefix.
func decodeImage(data string) (image.Image, error) {
	if strings.HasPrefix(data, "data:") {
		if i := strings.IndexByte(data, ','); i >= 0 {
			data = data[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 image data: %w", err)
		}
	}
	return decodeRaw(raw)
}

func decodeRaw(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// fit scales src into a w by h white canvas keeping its aspect ratio,
// centered.
func fit(src image.Image, w, h int) *image.Gray {
	dst := blank(w, h)
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return dst
	}

	scale := min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	sw := max(1, int(float64(b.Dx())*scale))
	sh := max(1, int(float64(b.Dy())*scale))
	x0, y0 := (w-sw)/2, (h-sh)/2

	xdraw.ApproxBiLinear.Scale(dst, image.Rect(x0, y0, x0+sw, y0+sh), src, b, xdraw.Over, nil)
	return dst
}

// dither applies Floyd-Steinberg error diffusion to a black and white
// palette.
func dither(img *image.Gray) *image.Gray {
	b := img.Bounds()
	pal := image.NewPaletted(b, color.Palette{color.Black, color.White})
	draw.FloydSteinberg.Draw(pal, b, img, b.Min)

	out := image.NewGray(b)
	draw.Draw(out, b, pal, b.Min, draw.Src)
	return out
}

// packBitmap packs img into BITMAP rows, MSB first. Pixels darker than
// threshold print.
func packBitmap(img *image.Gray, threshold uint8) (widthBytes int, data []byte) {
	b := img.Bounds()
	widthBytes = (b.Dx() + 7) / 8
	data = bytes.Repeat([]byte{0xff}, widthBytes*b.Dy())

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if img.GrayAt(b.Min.X+x, b.Min.Y+y).Y < threshold {
				data[y*widthBytes+x/8] &^= 1 << (7 - x%8)
			}
		}
	}
	return widthBytes, data
}

// rotate turns img clockwise by deg, which is a multiple of 90.
func rotate(img *image.Gray, deg int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.Gray
	switch ((deg % 360) + 360) % 360 {
	case 90:
		dst = image.NewGray(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.SetGray(h-1-y, x, img.GrayAt(b.Min.X+x, b.Min.Y+y))
			}
		}
	case 180:
		dst = image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.SetGray(w-1-x, h-1-y, img.GrayAt(b.Min.X+x, b.Min.Y+y))
			}
		}
	case 270:
		dst = image.NewGray(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.SetGray(y, w-1-x, img.GrayAt(b.Min.X+x, b.Min.Y+y))
			}
		}
	default:
		return img
	}
	return dst
}

func blank(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

func fill(img *image.Gray, r image.Rectangle) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.Black, image.Point{}, draw.Src)
}
