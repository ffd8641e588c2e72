//go:build windows

package automation

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/windows"

	"github.com/jaliph/qrbridge/models"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procShowWindow          = user32.NewProc("ShowWindow")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
	procSetWindowPos        = user32.NewProc("SetWindowPos")
	procSetCursorPos        = user32.NewProc("SetCursorPos")
	procMouseEvent          = user32.NewProc("mouse_event")
)

const (
	swMinimize = 6
	swRestore  = 9

	swpNoSize = 0x0001
	swpNoMove = 0x0002

	mouseEventLeftDown = 0x0002
	mouseEventLeftUp   = 0x0004
)

// hwndTopmost is HWND_TOPMOST, (HWND)-1
var hwndTopmost = ^uintptr(0)

// callbacks are a finite resource, so one is shared by every enumeration
var (
	enumMu      sync.Mutex
	enumResults []windows.HWND
	enumProc    = windows.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		if windows.IsWindowVisible(hwnd) {
			enumResults = append(enumResults, hwnd)
		}
		return 1
	})
)

type windowLocator struct {
	logger *slog.Logger
}

func newWindowLocator(logger *slog.Logger) WindowLocator {
	return &windowLocator{logger: logger}
}

// FindWindow returns the first visible top-level window whose process name contains processName
func (l *windowLocator) FindWindow(processName string) (Window, bool, error) {
	enumMu.Lock()
	enumResults = enumResults[:0]
	err := windows.EnumWindows(enumProc, unsafe.Pointer(nil))
	visible := append([]windows.HWND(nil), enumResults...)
	enumMu.Unlock()
	if err != nil {
		return nil, false, fmt.Errorf("enumerate windows: %w", err)
	}

	for _, hwnd := range visible {
		var pid uint32
		if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil || pid == 0 {
			continue
		}
		proc, err := process.NewProcess(int32(pid))
		if err != nil {
			continue
		}
		name, err := proc.Name()
		if err != nil {
			continue
		}
		if strings.Contains(name, processName) {
			l.logger.Debug("Found target window", "process", name, "pid", pid, "hwnd", uintptr(hwnd))
			return &win32Window{hwnd: hwnd}, true, nil
		}
	}
	return nil, false, nil
}

type win32Window struct {
	hwnd windows.HWND
}

func (w *win32Window) Handle() uintptr { return uintptr(w.hwnd) }

func (w *win32Window) Restore() error {
	// ShowWindow returns the previous visibility, not success
	procShowWindow.Call(uintptr(w.hwnd), swRestore)
	return nil
}

func (w *win32Window) Minimize() error {
	procShowWindow.Call(uintptr(w.hwnd), swMinimize)
	return nil
}

func (w *win32Window) Foreground() error {
	if r, _, err := procSetForegroundWindow.Call(uintptr(w.hwnd)); r == 0 {
		return fmt.Errorf("SetForegroundWindow: %w", err)
	}
	return nil
}

func (w *win32Window) SetTopmost() error {
	r, _, err := procSetWindowPos.Call(uintptr(w.hwnd), hwndTopmost, 0, 0, 0, 0, swpNoMove|swpNoSize)
	if r == 0 {
		return fmt.Errorf("SetWindowPos: %w", err)
	}
	return nil
}

type win32Mouse struct{}

func newMouse() Mouse {
	return win32Mouse{}
}

// Click moves the cursor to p and presses the left button
func (win32Mouse) Click(p models.Point) error {
	if r, _, err := procSetCursorPos.Call(uintptr(p.X), uintptr(p.Y)); r == 0 {
		return fmt.Errorf("SetCursorPos(%d, %d): %w", p.X, p.Y, err)
	}
	procMouseEvent.Call(mouseEventLeftDown, 0, 0, 0, 0)
	procMouseEvent.Call(mouseEventLeftUp, 0, 0, 0, 0)
	return nil
}
