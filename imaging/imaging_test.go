package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaliph/qrbridge/automation"
	"github.com/jaliph/qrbridge/models"
)

const roundTripPayload = "https://example.com/pay?id=123"

func TestEncodeQRRoundTrip(t *testing.T) {
	data, err := EncodeQR(roundTripPayload)
	if err != nil {
		t.Fatalf("EncodeQR: %v", err)
	}
	img := mustDecodePNG(t, data)
	if img.Bounds().Dx() != 256 || img.Bounds().Dy() != 256 {
		t.Fatalf("expected 256x256, got %v", img.Bounds())
	}
	got, err := automation.NewQRDecoder().Decode(img)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != roundTripPayload {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestColorKeyBoundaries(t *testing.T) {
	values := []struct {
		v           uint8
		transparent bool
	}{
		{255, true},
		{201, true},
		{200, false},
		{199, false},
		{0, false},
	}

	src := image.NewRGBA(image.Rect(0, 0, len(values), 1))
	for i, tc := range values {
		src.SetRGBA(i, 0, color.RGBA{tc.v, tc.v, tc.v, 255})
	}
	out := ColorKey(src)
	for i, tc := range values {
		a := out.NRGBAAt(i, 0).A
		if tc.transparent && a != 0 {
			t.Fatalf("value %d: expected transparent, alpha=%d", tc.v, a)
		}
		if !tc.transparent && a != 255 {
			t.Fatalf("value %d: expected opaque, alpha=%d", tc.v, a)
		}
	}
}

func TestColorKeyNeedsAllChannels(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src.SetRGBA(0, 0, color.RGBA{255, 255, 150, 255})
	if a := ColorKey(src).NRGBAAt(0, 0).A; a != 255 {
		t.Fatalf("yellowish pixel should stay opaque, alpha=%d", a)
	}
}

func TestResize(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{0, 0, 0, 255})
	out := Resize(src, 10)
	if out.Bounds().Dx() != 10 || out.Bounds().Dy() != 10 {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
	if c := out.NRGBAAt(0, 0); c.A != 255 || c.R != 0 {
		t.Fatalf("top-left should be opaque black, got %v", c)
	}
	if c := out.NRGBAAt(9, 9); c.A != 0 {
		t.Fatalf("bottom-right should stay transparent, got %v", c)
	}
}

func TestComposePlainQRWithoutSkin(t *testing.T) {
	c := NewCompositor(filepath.Join(t.TempDir(), "skin.png"), t.TempDir())
	data, err := c.Compose(roundTripPayload, Layout{Format: models.SkinNew})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	plain, _ := EncodeQR(roundTripPayload)
	if !bytes.Equal(data, plain) {
		t.Fatal("expected plain QR when no skin exists")
	}
}

func TestComposeOnDefaultSkin(t *testing.T) {
	dir := t.TempDir()
	skinPath := filepath.Join(dir, "skin.png")
	writeSkin(t, skinPath, 800, 1700, color.NRGBA{255, 0, 0, 255})

	c := NewCompositor(skinPath, dir)
	for _, tc := range []struct {
		format models.SkinFormat
		at     image.Point
	}{
		{models.SkinNew, image.Point{X: 106, Y: 638}},
		{models.SkinOld, image.Point{X: 106, Y: 1060}},
	} {
		data, err := c.Compose(roundTripPayload, Layout{Format: tc.format})
		if err != nil {
			t.Fatalf("%s: Compose: %v", tc.format, err)
		}
		img := mustDecodePNG(t, data)
		if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 1700 {
			t.Fatalf("%s: output should keep skin size, got %v", tc.format, img.Bounds())
		}

		// the keyed quiet zone lets the red skin show through at the QR corner
		if !isRed(img.At(tc.at.X, tc.at.Y)) {
			t.Fatalf("%s: expected skin at QR corner, got %v", tc.format, img.At(tc.at.X, tc.at.Y))
		}
		if !isRed(img.At(tc.at.X-1, tc.at.Y-1)) {
			t.Fatalf("%s: expected skin outside QR", tc.format)
		}

		region := image.Rect(tc.at.X, tc.at.Y, tc.at.X+SkinQRSize, tc.at.Y+SkinQRSize)
		if !hasDark(img, region) {
			t.Fatalf("%s: no QR modules inside %v", tc.format, region)
		}

		crop := image.NewRGBA(image.Rect(0, 0, SkinQRSize+40, SkinQRSize+40))
		draw.Draw(crop, crop.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(crop, image.Rect(20, 20, 20+SkinQRSize, 20+SkinQRSize), whiten(img), region.Min, draw.Src)
		got, err := automation.NewQRDecoder().Decode(crop)
		if err != nil {
			t.Fatalf("%s: composed QR not decodable: %v", tc.format, err)
		}
		if got != roundTripPayload {
			t.Fatalf("%s: decoded %q", tc.format, got)
		}
	}
}

func TestComposeCustomSkin(t *testing.T) {
	dir := t.TempDir()
	writeSkin(t, filepath.Join(dir, "custom.png"), 400, 400, color.NRGBA{0, 0, 255, 255})

	c := NewCompositor(filepath.Join(dir, "skin.png"), dir)
	layout := Layout{
		Format:      models.SkinCustom,
		CustomPath:  "./custom.png",
		CustomSize:  200,
		CustomPoint: models.Point{X: 50, Y: 60},
	}
	data, err := c.Compose(roundTripPayload, layout)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	img := mustDecodePNG(t, data)
	if img.Bounds().Dx() != 400 {
		t.Fatalf("expected custom skin size, got %v", img.Bounds())
	}
	if !hasDark(img, image.Rect(50, 60, 250, 260)) {
		t.Fatal("no QR modules at custom point")
	}
	if hasDark(img, image.Rect(260, 270, 400, 400)) {
		t.Fatal("QR modules outside the custom region")
	}
}

func TestComposeMissingCustomSkin(t *testing.T) {
	dir := t.TempDir()
	c := NewCompositor(filepath.Join(dir, "skin.png"), dir)
	_, err := c.Compose(roundTripPayload, Layout{Format: models.SkinCustom, CustomPath: "nope.png", CustomSize: 100})
	if err == nil {
		t.Fatal("expected error for missing custom skin")
	}
}

func TestPlaceholder(t *testing.T) {
	data, err := Placeholder("Window\nnot found")
	if err != nil {
		t.Fatalf("Placeholder: %v", err)
	}
	img := mustDecodePNG(t, data)
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 100 {
		t.Fatalf("expected 100x100, got %v", img.Bounds())
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Fatalf("expected grayscale image, got %T", img)
	}
	if !hasDark(img, img.Bounds()) {
		t.Fatal("placeholder has no text")
	}
	if r, _, _, _ := img.At(99, 99).RGBA(); r>>8 != 255 {
		t.Fatal("placeholder background should be white")
	}
}

func TestWrapSplitsLongLines(t *testing.T) {
	f, err := face(placeholderFontSize)
	if err != nil {
		t.Fatalf("face: %v", err)
	}
	defer f.Close()

	lines := wrap(f, "Unable to load QRCode", placeholderSize)
	if len(lines) < 2 {
		t.Fatalf("expected wrapping, got %q", lines)
	}
	lines = wrap(f, "Unable\nto load\nskin", placeholderSize)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", lines)
	}
}

func mustDecodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	return img
}

func writeSkin(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create skin: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode skin: %v", err)
	}
}

func isRed(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 == 255 && g>>8 == 0 && b>>8 == 0
}

func hasDark(img image.Image, region image.Rectangle) bool {
	region = region.Intersect(img.Bounds())
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r>>8 < 60 && g>>8 < 60 && b>>8 < 60 {
				return true
			}
		}
	}
	return false
}

// whiten maps every non-dark pixel to white so the decoder sees a clean code
func whiten(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r>>8 < 60 && g>>8 < 60 && bl>>8 < 60 {
				out.SetGray(x, y, color.Gray{Y: 0})
			} else {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}
