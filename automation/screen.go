package automation

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenCapturer grabs a whole display
type ScreenCapturer struct {
	display int
}

// NewScreenCapturer captures the display with the given index, 0 being primary
func NewScreenCapturer(display int) *ScreenCapturer {
	return &ScreenCapturer{display: display}
}

// Capture takes a screenshot of the display
func (s *ScreenCapturer) Capture() (image.Image, error) {
	if n := screenshot.NumActiveDisplays(); n <= s.display {
		return nil, fmt.Errorf("display %d not available (%d active)", s.display, n)
	}
	img, err := screenshot.CaptureDisplay(s.display)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", s.display, err)
	}
	return img, nil
}
