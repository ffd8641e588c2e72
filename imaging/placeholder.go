package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	placeholderSize     = 100
	placeholderFontSize = 23
)

var (
	regularOnce sync.Once
	regular     *opentype.Font
	regularErr  error
)

// face returns a new Go Regular face; faces are not safe for concurrent use
func face(size float64) (font.Face, error) {
	regularOnce.Do(func() {
		regular, regularErr = opentype.Parse(goregular.TTF)
	})
	if regularErr != nil {
		return nil, fmt.Errorf("parse font: %w", regularErr)
	}
	return opentype.NewFace(regular, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// Placeholder renders text in black on a 100x100 white grayscale PNG.
// Explicit newlines break lines and long lines are word-wrapped.
func Placeholder(text string) ([]byte, error) {
	f, err := face(placeholderFontSize)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img := image.NewGray(image.Rect(0, 0, placeholderSize, placeholderSize))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: f}
	metrics := f.Metrics()
	y := metrics.Ascent
	for _, line := range wrap(f, text, placeholderSize) {
		d.Dot = fixed.Point26_6{X: 0, Y: y}
		d.DrawString(line)
		y += metrics.Height
	}

	return EncodePNG(img)
}

// wrap splits text on newlines, then greedily packs words into lines no wider than width
func wrap(f font.Face, text string, width int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			candidate := line + " " + w
			if font.MeasureString(f, candidate).Ceil() <= width {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = w
		}
		lines = append(lines, line)
	}
	return lines
}
