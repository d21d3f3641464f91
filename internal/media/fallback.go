package media

import (
	"bytes"
	"crypto/md5"
	"image"
	"image/color"
	"image/png"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultAvatarSize is the edge length in pixels of generated avatars.
const DefaultAvatarSize = 40

var palette = []color.RGBA{
	{0x00, 0x7A, 0xFF, 0xFF},
	{0x34, 0xC7, 0x59, 0xFF},
	{0xFF, 0x95, 0x00, 0xFF},
	{0xFF, 0x3B, 0x30, 0xFF},
	{0xAF, 0x52, 0xDE, 0xFF},
	{0xFF, 0x2D, 0x92, 0xFF},
	{0x5A, 0xC8, 0xFA, 0xFF},
	{0xFF, 0xCC, 0x00, 0xFF},
	{0xFF, 0x6B, 0x35, 0xFF},
	{0x32, 0xD7, 0x4B, 0xFF},
}

// Initials returns the uppercased first letters of the first and last
// words of name, or "?" when name has no words.
func Initials(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return "?"
	}
	first, _ := utf8.DecodeRuneInString(words[0])
	out := string(unicode.ToUpper(first))
	if len(words) > 1 {
		last, _ := utf8.DecodeRuneInString(words[len(words)-1])
		out += string(unicode.ToUpper(last))
	}
	return out
}

// ColorFor picks the palette colour for name. The same name always maps to
// the same colour.
func ColorFor(name string) color.RGBA {
	sum := md5.Sum([]byte(name))
	return palette[int(sum[0])%len(palette)]
}

// GenerateFallback draws a circular initials avatar for name as PNG. It
// returns nil if drawing fails.
func GenerateFallback(name string, size int) (out []byte) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	if size <= 0 {
		size = DefaultAvatarSize
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fillCircle(img, ColorFor(name))

	text := initialsImage(Initials(name))
	// Scale the glyphs to roughly half the avatar, keeping their aspect.
	tb := text.Bounds()
	h := size / 2
	w := h * tb.Dx() / tb.Dy()
	if w > size*3/4 {
		w = size * 3 / 4
		h = w * tb.Dy() / tb.Dx()
	}
	x0, y0 := (size-w)/2, (size-h)/2
	draw.BiLinear.Scale(img, image.Rect(x0, y0, x0+w, y0+h), text, tb, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func fillCircle(img *image.RGBA, c color.RGBA) {
	size := img.Bounds().Dx()
	r := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)+0.5-r, float64(y)+0.5-r
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// initialsImage renders s in white on a transparent canvas sized to the text.
func initialsImage(s string) *image.RGBA {
	face := basicfont.Face7x13
	width := font.MeasureString(face, s).Ceil()
	if width <= 0 {
		width = face.Advance
	}
	m := face.Metrics()
	height := (m.Ascent + m.Descent).Ceil()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(0, m.Ascent.Ceil()),
	}
	d.DrawString(s)
	return img
}
