// Package automation wraps the operating system capabilities a capture cycle
// needs: finding and activating the target window, clicking, taking a
// screenshot, decoding a QR code and killing the target process.
package automation

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/jaliph/qrbridge/models"
	"github.com/jaliph/qrbridge/utils"
)

// ErrUnsupported is returned by capabilities that need a Windows desktop
var ErrUnsupported = errors.New("automation: not supported on this platform")

// Window is a top-level window of the target application
type Window interface {
	Handle() uintptr
	Restore() error
	Foreground() error
	SetTopmost() error
	Minimize() error
}

// WindowLocator finds the first visible top-level window owned by a process.
// Not found is reported as (nil, false, nil).
type WindowLocator interface {
	FindWindow(processName string) (Window, bool, error)
}

// Mouse performs a left click at an absolute screen position
type Mouse interface {
	Click(p models.Point) error
}

// Screen captures the primary display
type Screen interface {
	Capture() (image.Image, error)
}

// Decoder extracts the text of a QR code from an image
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// ProcessKiller terminates every process whose name contains name
type ProcessKiller interface {
	Kill(ctx context.Context, name string) (int, error)
}

// Platform bundles the capabilities of the running desktop
type Platform struct {
	Locator WindowLocator
	Mouse   Mouse
	Screen  Screen
	Decoder Decoder
	Killer  ProcessKiller
}

// NewPlatform returns the capabilities of the current operating system
func NewPlatform(logger *slog.Logger) *Platform {
	logger = utils.Or(logger)
	return &Platform{
		Locator: newWindowLocator(logger),
		Mouse:   newMouse(),
		Screen:  NewScreenCapturer(0),
		Decoder: NewQRDecoder(),
		Killer:  NewProcessKiller(logger),
	}
}
