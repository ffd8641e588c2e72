package wechat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/xid"

	"github.com/jaliph/qrbridge/automation"
	"github.com/jaliph/qrbridge/config"
	"github.com/jaliph/qrbridge/imaging"
	"github.com/jaliph/qrbridge/models"
	"github.com/jaliph/qrbridge/utils"
)

// Placeholder texts served when a cycle cannot produce a QR code
const (
	MessageWindowNotFound = "Window\nnot found"
	MessageTimeout        = "Unable\nto load\nQRCode\n(Timeout)"
	MessageSkinFailed     = "Unable\nto load\nskin"
)

const (
	activationAttempts = 3
	activationPause    = time.Second
	clickPause         = 2 * time.Second
)

// State is a step of the capture cycle
type State int

const (
	StateLocatingWindow State = iota
	StateActivatingWindow
	StateClicking
	StateWaitingAndPolling
	StateDecoded
	StateTimedOut
	StateWindowMissing
)

func (s State) String() string {
	switch s {
	case StateLocatingWindow:
		return "locating_window"
	case StateActivatingWindow:
		return "activating_window"
	case StateClicking:
		return "clicking"
	case StateWaitingAndPolling:
		return "waiting_and_polling"
	case StateDecoded:
		return "decoded"
	case StateTimedOut:
		return "timed_out"
	case StateWindowMissing:
		return "window_missing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Target names the processes a cycle drives
type Target struct {
	// WindowProcess owns the window that shows the mini-program
	WindowProcess string
	// KillProcess is terminated at the end of every cycle
	KillProcess string
}

// Composer turns a decoded payload into the served image
type Composer interface {
	Compose(payload string, layout imaging.Layout) ([]byte, error)
}

// CycleResult is the terminal state of one capture cycle
type CycleResult struct {
	ID        string
	Outcome   models.Outcome
	Image     []byte
	Payload   string
	Attempts  int
	Activated bool
	Duration  time.Duration
}

// Generation converts the result into a history record
func (r CycleResult) Generation(created time.Time) *models.Generation {
	return &models.Generation{
		CycleID:    r.ID,
		Outcome:    r.Outcome,
		Attempts:   r.Attempts,
		PayloadLen: len(r.Payload),
		ImageBytes: len(r.Image),
		DurationMS: r.Duration.Milliseconds(),
		Activated:  r.Activated,
		CreatedAt:  created,
	}
}

// Capturer drives the target window through one capture-and-decode cycle
type Capturer struct {
	platform *automation.Platform
	composer Composer
	target   Target
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// NewCapturer creates a capturer over the given platform capabilities
func NewCapturer(platform *automation.Platform, composer Composer, target Target, logger *slog.Logger) *Capturer {
	return &Capturer{
		platform: platform,
		composer: composer,
		target:   target,
		logger:   utils.Or(logger),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Run executes a full cycle with the given settings. Once started the cycle
// always reaches a terminal state, even if ctx is cancelled. The error is
// non-nil only when no image at all could be produced.
func (c *Capturer) Run(ctx context.Context, s config.Settings) (CycleResult, error) {
	ctx = context.WithoutCancel(ctx)
	start := c.now()
	res := CycleResult{ID: xid.New().String()}
	log := c.logger.With("cycle", res.ID)

	log.Debug("Capture cycle entering state", "state", StateLocatingWindow)
	win, found, err := c.platform.Locator.FindWindow(c.target.WindowProcess)
	if err != nil {
		log.Warn("Window lookup failed", "process", c.target.WindowProcess, "error", err)
	}
	if !found || win == nil {
		log.Warn("Target window not found", "process", c.target.WindowProcess, "state", StateWindowMissing)
		c.kill(ctx, log)
		return c.fail(res, start, models.OutcomeWindowMissing, MessageWindowNotFound)
	}

	log.Debug("Capture cycle entering state", "state", StateActivatingWindow)
	res.Activated = c.activate(ctx, win, log)
	if !res.Activated {
		log.Warn("Could not activate window, continuing anyway")
	}

	log.Debug("Capture cycle entering state", "state", StateClicking)
	c.click(s.P1, log)
	c.sleep(ctx, clickPause)
	c.click(s.P2, log)
	_ = win.Minimize()

	log.Debug("Capture cycle entering state", "state", StateWaitingAndPolling)
	res.Payload, res.Attempts = c.poll(ctx, s.Decode, log)
	if res.Payload == "" {
		log.Warn("QR code not decoded in time", "attempts", res.Attempts, "state", StateTimedOut)
		c.kill(ctx, log)
		return c.fail(res, start, models.OutcomeTimeout, MessageTimeout)
	}

	log.Debug("Capture cycle entering state", "state", StateDecoded)
	image, composeErr := c.composer.Compose(res.Payload, LayoutFrom(s))
	c.kill(ctx, log)
	if composeErr != nil {
		log.Error("Failed to compose QR image", "error", composeErr)
		return c.fail(res, start, models.OutcomeComposeFailed, MessageSkinFailed)
	}

	res.Outcome = models.OutcomeDecoded
	res.Image = image
	res.Duration = c.now().Sub(start)
	log.Info("QR code regenerated",
		"attempts", res.Attempts,
		"size", humanize.Bytes(uint64(len(image))),
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// activate restores, focuses and pins the window, pausing between failed attempts
func (c *Capturer) activate(ctx context.Context, win automation.Window, log *slog.Logger) bool {
	for attempt := 1; attempt <= activationAttempts; attempt++ {
		err := win.Restore()
		if err == nil {
			err = win.Foreground()
		}
		if err == nil {
			err = win.SetTopmost()
		}
		if err == nil {
			return true
		}
		log.Warn("Window activation failed", "attempt", attempt, "error", err)
		if attempt < activationAttempts {
			c.sleep(ctx, activationPause)
		}
	}
	return false
}

func (c *Capturer) click(p models.Point, log *slog.Logger) {
	if err := c.platform.Mouse.Click(p); err != nil {
		log.Warn("Click failed", "point", p.String(), "error", err)
	}
}

// poll takes up to policy.RetryCount screenshots and returns the first decoded payload
func (c *Capturer) poll(ctx context.Context, policy config.DecodePolicy, log *slog.Logger) (string, int) {
	retries := policy.RetryCount
	if retries < 1 {
		retries = 1
	}
	interval := policy.Interval()

	for attempt := 1; attempt <= retries; attempt++ {
		c.sleep(ctx, interval)

		img, err := c.platform.Screen.Capture()
		if err != nil {
			log.Warn("Screen capture failed", "attempt", attempt, "error", err)
			continue
		}
		payload, err := c.platform.Decoder.Decode(img)
		if err == nil && payload != "" {
			return payload, attempt
		}
		log.Debug("QR decode failed, retrying", "attempt", attempt, "of", retries, "next_in", interval)
	}
	return "", retries
}

func (c *Capturer) kill(ctx context.Context, log *slog.Logger) {
	if c.target.KillProcess == "" {
		return
	}
	if _, err := c.platform.Killer.Kill(ctx, c.target.KillProcess); err != nil {
		log.Warn("Failed to kill target process", "process", c.target.KillProcess, "error", err)
	}
}

func (c *Capturer) fail(res CycleResult, start time.Time, outcome models.Outcome, text string) (CycleResult, error) {
	res.Outcome = outcome
	res.Duration = c.now().Sub(start)
	img, err := imaging.Placeholder(text)
	if err != nil {
		return res, fmt.Errorf("render placeholder: %w", err)
	}
	res.Image = img
	return res, nil
}

// LayoutFrom extracts the skin layout from settings
func LayoutFrom(s config.Settings) imaging.Layout {
	return imaging.Layout{
		Format:      s.SkinFormat,
		CustomPath:  s.CustomSkinPath,
		CustomSize:  s.CustomSkinQRCodeSize,
		CustomPoint: s.CustomSkinQRCodePt,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
