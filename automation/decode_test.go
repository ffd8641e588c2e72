package automation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/skip2/go-qrcode"

	"github.com/jaliph/qrbridge/utils"
)

func TestQRDecoderReadsGeneratedCode(t *testing.T) {
	const payload = "https://example.com/pay?id=123"
	data, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}

	got, err := NewQRDecoder().Decode(img)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != payload {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestQRDecoderFindsCodeInsideLargerScreen(t *testing.T) {
	data, err := qrcode.Encode("hello", qrcode.Medium, 200)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	code, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}

	screen := image.NewRGBA(image.Rect(0, 0, 800, 600))
	draw.Draw(screen, screen.Bounds(), image.NewUniform(color.RGBA{40, 40, 40, 255}), image.Point{}, draw.Src)
	at := image.Rect(300, 200, 500, 400)
	draw.Draw(screen, at, code, image.Point{}, draw.Src)

	got, err := NewQRDecoder().Decode(screen)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestQRDecoderNoCode(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, 120, 120))
	draw.Draw(blank, blank.Bounds(), image.White, image.Point{}, draw.Src)

	_, err := NewQRDecoder().Decode(blank)
	if !errors.Is(err, ErrNoCode) {
		t.Fatalf("expected ErrNoCode, got %v", err)
	}
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.png")
	if err := qrcode.WriteFile("file-payload", qrcode.Medium, 256, path); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if got != "file-payload" {
		t.Fatalf("got %q", got)
	}

	if _, err := DecodeFile(filepath.Join(t.TempDir(), "missing.png")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestProcessKillerNoMatch(t *testing.T) {
	killer := NewProcessKiller(utils.Discard())
	n, err := killer.Kill(context.Background(), "qrbridge-no-such-process-7f3a")
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing killed, got %d", n)
	}
}
