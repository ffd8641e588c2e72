package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/skip2/go-qrcode"
)

// keyThreshold is the channel value a pixel must exceed on r, g and b to be keyed out
const keyThreshold = 200

// EncodeQR renders payload as a 256x256 PNG at medium error correction
func EncodeQR(payload string) ([]byte, error) {
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	data, err := qr.PNG(256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return data, nil
}

// ColorKey returns an NRGBA copy of img in which every near-white pixel is fully transparent
func ColorKey(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R > keyThreshold && c.G > keyThreshold && c.B > keyThreshold {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 0}
			}
			out.SetNRGBA(x-b.Min.X, y-b.Min.Y, c)
		}
	}
	return out
}

// Resize scales img to a size x size square with nearest neighbour sampling
func Resize(img image.Image, size int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Overlay draws top over an NRGBA copy of base with its top-left corner at at
func Overlay(base, top image.Image, at image.Point) *image.NRGBA {
	b := base.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), base, b.Min, draw.Src)

	r := image.Rectangle{Min: at, Max: at.Add(top.Bounds().Size())}
	draw.Draw(out, r, top, top.Bounds().Min, draw.Over)
	return out
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
