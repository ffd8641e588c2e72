package wechat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/jaliph/qrbridge/config"
	"github.com/jaliph/qrbridge/metrics"
	"github.com/jaliph/qrbridge/models"
	"github.com/jaliph/qrbridge/store"
	"github.com/jaliph/qrbridge/utils"
)

// flightKey is shared by every request; the bridge drives a single target
const flightKey = "qr"

const notifyTimeout = 30 * time.Second

// Cycle runs one capture-and-decode cycle
type Cycle interface {
	Run(ctx context.Context, s config.Settings) (CycleResult, error)
}

// SettingsSource provides the current settings
type SettingsSource interface {
	Snapshot() config.Settings
}

// History interface for QR manager
type History interface {
	RecordGeneration(ctx context.Context, g *models.Generation) error
}

// Notifier interface for failure alerts
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Deps are the collaborators of a QRManager. History, Notifier and Metrics are optional.
type Deps struct {
	Cycle    Cycle
	Cache    *store.QRCache
	Settings SettingsSource
	History  History
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// QRManager serves the QR image, running at most one capture cycle at a time
type QRManager struct {
	cycle    Cycle
	cache    *store.QRCache
	settings SettingsSource
	history  History
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	group    singleflight.Group
	inFlight atomic.Bool
	now      func() time.Time
}

type flightResult struct {
	image  []byte
	cached bool
}

// NewQRManager creates a new QR manager
func NewQRManager(d Deps) *QRManager {
	cache := d.Cache
	if cache == nil {
		cache = store.NewQRCache()
	}
	return &QRManager{
		cycle:    d.Cycle,
		cache:    cache,
		settings: d.Settings,
		history:  d.History,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   utils.Or(d.Logger),
		now:      time.Now,
	}
}

// GetQRCode returns a fresh cached image or runs a capture cycle.
// Concurrent callers share one cycle and receive identical bytes.
// cached reports whether the image came straight from the cache.
func (m *QRManager) GetQRCode(ctx context.Context) ([]byte, bool, error) {
	ttl := m.settings.Snapshot().CacheTTL()
	if img, ok := m.cache.Get(m.now(), ttl); ok {
		m.metrics.Request("hit")
		return img, true, nil
	}

	ch := m.group.DoChan(flightKey, func() (interface{}, error) {
		return m.generate(ctx)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			m.metrics.Request("error")
			return nil, false, r.Err
		}
		res := r.Val.(flightResult)
		if res.cached {
			m.metrics.Request("hit")
		} else {
			m.metrics.Request("miss")
		}
		return res.image, res.cached, nil
	case <-ctx.Done():
		// the cycle keeps running and fills the cache for the next caller
		return nil, false, ctx.Err()
	}
}

// generate runs inside the single flight
func (m *QRManager) generate(ctx context.Context) (flightResult, error) {
	requested := m.now()
	s := m.settings.Snapshot()

	// a cycle may have finished between the caller's miss and this flight
	if img, ok := m.cache.Get(requested, s.CacheTTL()); ok {
		return flightResult{image: img, cached: true}, nil
	}

	m.inFlight.Store(true)
	m.metrics.SetInFlight(true)
	defer func() {
		m.inFlight.Store(false)
		m.metrics.SetInFlight(false)
	}()

	ctx = context.WithoutCancel(ctx)
	res, err := m.cycle.Run(ctx, s)
	if err != nil {
		m.logger.Error("Capture cycle failed", "error", err)
		return flightResult{}, fmt.Errorf("capture cycle: %w", err)
	}

	m.metrics.ObserveCycle(res.Outcome, res.Duration, res.Attempts, len(res.Image))
	m.record(ctx, res, requested)

	if res.Outcome.Failed() {
		m.alert(ctx, res)
	} else {
		m.cache.Put(res.Image, requested)
	}
	return flightResult{image: res.Image}, nil
}

func (m *QRManager) record(ctx context.Context, res CycleResult, requested time.Time) {
	if m.history == nil {
		return
	}
	if err := m.history.RecordGeneration(ctx, res.Generation(requested)); err != nil {
		m.logger.Warn("Failed to record generation", "cycle", res.ID, "error", err)
	}
}

// alert sends a failure notice without holding up the waiting callers
func (m *QRManager) alert(ctx context.Context, res CycleResult) {
	if m.notifier == nil {
		return
	}
	text := fmt.Sprintf("qrbridge: cycle %s ended with %s after %d attempt(s): %s",
		res.ID, res.Outcome, res.Attempts, strings.ReplaceAll(messageFor(res.Outcome), "\n", " "))
	go func() {
		nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := m.notifier.Notify(nctx, text); err != nil {
			m.logger.Warn("Failed to send failure alert", "cycle", res.ID, "error", err)
		}
	}()
}

// Invalidate drops the cached image so the next request runs a new cycle
func (m *QRManager) Invalidate() {
	m.cache.Clear()
	m.logger.Debug("QR cache invalidated")
}

// InFlight reports whether a capture cycle is running
func (m *QRManager) InFlight() bool {
	return m.inFlight.Load()
}

// CacheAge reports the age of the cached image, if any
func (m *QRManager) CacheAge() (time.Duration, bool) {
	return m.cache.Age(m.now())
}

// CacheSummary describes the cache for logs
func (m *QRManager) CacheSummary() string {
	age, ok := m.CacheAge()
	if !ok {
		return "empty"
	}
	now := m.now()
	return "cached " + humanize.RelTime(now.Add(-age), now, "ago", "from now")
}

func messageFor(o models.Outcome) string {
	switch o {
	case models.OutcomeWindowMissing:
		return MessageWindowNotFound
	case models.OutcomeTimeout:
		return MessageTimeout
	case models.OutcomeComposeFailed:
		return MessageSkinFailed
	}
	return string(o)
}
