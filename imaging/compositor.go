package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/jaliph/qrbridge/models"
)

// Default skin geometry for the built-in formats
const (
	SkinQRSize = 576
)

var (
	newSkinPoint = image.Point{X: 106, Y: 638}
	oldSkinPoint = image.Point{X: 106, Y: 1060}
)

// Layout describes where a regenerated QR code goes on a skin
type Layout struct {
	Format      models.SkinFormat
	CustomPath  string
	CustomSize  int
	CustomPoint models.Point
}

// Compositor builds the final served image from a decoded payload
type Compositor struct {
	// DefaultSkinPath is the skin.png shipped beside the executable
	DefaultSkinPath string
	// BaseDir resolves a relative custom skin path
	BaseDir string
}

// NewCompositor creates a compositor
func NewCompositor(defaultSkinPath, baseDir string) *Compositor {
	return &Compositor{DefaultSkinPath: defaultSkinPath, BaseDir: baseDir}
}

// Compose re-encodes payload and places it on the skin chosen by layout.
// Without any skin the plain QR PNG is returned.
func (c *Compositor) Compose(payload string, layout Layout) ([]byte, error) {
	qrPNG, err := EncodeQR(payload)
	if err != nil {
		return nil, err
	}

	skinPath, ok := c.skinFor(layout)
	if !ok {
		return qrPNG, nil
	}

	skin, err := loadImage(skinPath)
	if err != nil {
		return nil, fmt.Errorf("load skin: %w", err)
	}
	qrImg, err := png.Decode(bytes.NewReader(qrPNG))
	if err != nil {
		return nil, fmt.Errorf("decode generated QR: %w", err)
	}

	size, at := geometry(layout)
	if size <= 0 {
		return nil, fmt.Errorf("invalid QR size %d", size)
	}
	keyed := Resize(ColorKey(qrImg), size)
	return EncodePNG(Overlay(skin, keyed, at))
}

// skinFor picks the skin file. The default skin wins unless the format is custom;
// with no default skin only a custom format uses a skin at all.
func (c *Compositor) skinFor(layout Layout) (string, bool) {
	custom := c.resolve(layout.CustomPath)
	if c.DefaultSkinPath != "" && fileExists(c.DefaultSkinPath) {
		if layout.Format == models.SkinCustom {
			return custom, true
		}
		return c.DefaultSkinPath, true
	}
	if layout.Format == models.SkinCustom {
		return custom, true
	}
	return "", false
}

func (c *Compositor) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// geometry returns the QR size and paste point for a layout
func geometry(layout Layout) (int, image.Point) {
	switch layout.Format {
	case models.SkinOld:
		return SkinQRSize, oldSkinPoint
	case models.SkinCustom:
		return layout.CustomSize, image.Point{X: layout.CustomPoint.X, Y: layout.CustomPoint.Y}
	default:
		return SkinQRSize, newSkinPoint
	}
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
