//go:build !windows

package automation

import (
	"log/slog"

	"github.com/jaliph/qrbridge/models"
)

type windowLocator struct {
	logger *slog.Logger
}

func newWindowLocator(logger *slog.Logger) WindowLocator {
	return &windowLocator{logger: logger}
}

// FindWindow never finds a window outside Windows
func (l *windowLocator) FindWindow(processName string) (Window, bool, error) {
	l.logger.Debug("Window lookup unsupported on this platform", "process", processName)
	return nil, false, nil
}

type noMouse struct{}

func newMouse() Mouse {
	return noMouse{}
}

func (noMouse) Click(models.Point) error {
	return ErrUnsupported
}
