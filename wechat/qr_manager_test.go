package wechat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaliph/qrbridge/config"
	"github.com/jaliph/qrbridge/models"
	"github.com/jaliph/qrbridge/store"
	"github.com/jaliph/qrbridge/utils"
)

type staticSettings struct {
	mu sync.Mutex
	s  config.Settings
}

func (f *staticSettings) Snapshot() config.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

// fakeCycle returns numbered images and can be held open with gate
type fakeCycle struct {
	runs    atomic.Int32
	outcome models.Outcome
	gate    chan struct{}
	started chan struct{}
	err     error
}

func (c *fakeCycle) Run(ctx context.Context, _ config.Settings) (CycleResult, error) {
	n := c.runs.Add(1)
	if c.started != nil {
		select {
		case c.started <- struct{}{}:
		default:
		}
	}
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return CycleResult{}, c.err
	}
	outcome := c.outcome
	if outcome == "" {
		outcome = models.OutcomeDecoded
	}
	return CycleResult{
		ID:       fmt.Sprintf("cycle-%d", n),
		Outcome:  outcome,
		Image:    []byte(fmt.Sprintf("image-%d", n)),
		Attempts: 1,
	}, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []*models.Generation
}

func (h *fakeHistory) RecordGeneration(_ context.Context, g *models.Generation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, g)
	return nil
}

type fakeNotifier struct {
	sent chan string
}

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.sent <- text
	return nil
}

func newManager(cycle Cycle, cacheSeconds int) (*QRManager, *staticSettings) {
	s := config.DefaultSettings()
	s.CacheDuration = cacheSeconds
	settings := &staticSettings{s: s}
	m := NewQRManager(Deps{
		Cycle:    cycle,
		Cache:    store.NewQRCache(),
		Settings: settings,
		Logger:   utils.Discard(),
	})
	return m, settings
}

func TestGetQRCodeSingleFlight(t *testing.T) {
	cycle := &fakeCycle{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	m, _ := newManager(cycle, 60)

	const callers = 16
	var wg sync.WaitGroup
	images := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			images[i], _, errs[i] = m.GetQRCode(context.Background())
		}(i)
	}

	<-cycle.started
	if !m.InFlight() {
		t.Fatal("expected a cycle in flight")
	}
	time.Sleep(50 * time.Millisecond)
	close(cycle.gate)
	wg.Wait()

	if got := cycle.runs.Load(); got != 1 {
		t.Fatalf("expected exactly one cycle, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(images[i], images[0]) {
			t.Fatalf("caller %d got different bytes", i)
		}
	}
	if m.InFlight() {
		t.Fatal("in-flight flag not cleared")
	}
}

func TestGetQRCodeCacheExpiry(t *testing.T) {
	cycle := &fakeCycle{}
	m, _ := newManager(cycle, 60)
	base := time.Unix(1700000000, 0)
	now := base
	m.now = func() time.Time { return now }

	first, cached, err := m.GetQRCode(context.Background())
	if err != nil || cached {
		t.Fatalf("first call: cached=%v err=%v", cached, err)
	}

	now = base.Add(60*time.Second - time.Millisecond)
	again, cached, err := m.GetQRCode(context.Background())
	if err != nil || !cached || !bytes.Equal(again, first) {
		t.Fatalf("expected cache hit just before expiry: cached=%v err=%v", cached, err)
	}
	if cycle.runs.Load() != 1 {
		t.Fatalf("cache hit ran a cycle")
	}

	now = base.Add(60*time.Second + time.Millisecond)
	fresh, cached, err := m.GetQRCode(context.Background())
	if err != nil || cached {
		t.Fatalf("expected a miss after expiry: cached=%v err=%v", cached, err)
	}
	if bytes.Equal(fresh, first) || cycle.runs.Load() != 2 {
		t.Fatalf("expected a new cycle after expiry, runs=%d", cycle.runs.Load())
	}
}

func TestGetQRCodeDoesNotCachePlaceholders(t *testing.T) {
	cycle := &fakeCycle{outcome: models.OutcomeWindowMissing}
	m, _ := newManager(cycle, 60)

	for i := 0; i < 3; i++ {
		if _, cached, err := m.GetQRCode(context.Background()); err != nil || cached {
			t.Fatalf("call %d: cached=%v err=%v", i, cached, err)
		}
	}
	if got := cycle.runs.Load(); got != 3 {
		t.Fatalf("expected every failed cycle to rerun, got %d runs", got)
	}
	if _, ok := m.CacheAge(); ok {
		t.Fatal("placeholder ended up in the cache")
	}
}

func TestGetQRCodeRecordsAndAlerts(t *testing.T) {
	cycle := &fakeCycle{outcome: models.OutcomeTimeout}
	history := &fakeHistory{}
	notifier := &fakeNotifier{sent: make(chan string, 1)}
	settings := &staticSettings{s: config.DefaultSettings()}
	m := NewQRManager(Deps{
		Cycle:    cycle,
		Settings: settings,
		History:  history,
		Notifier: notifier,
		Logger:   utils.Discard(),
	})

	if _, _, err := m.GetQRCode(context.Background()); err != nil {
		t.Fatalf("GetQRCode: %v", err)
	}

	history.mu.Lock()
	n := len(history.records)
	var outcome models.Outcome
	if n > 0 {
		outcome = history.records[0].Outcome
	}
	history.mu.Unlock()
	if n != 1 || outcome != models.OutcomeTimeout {
		t.Fatalf("expected one timeout record, got %d (%s)", n, outcome)
	}

	select {
	case text := <-notifier.sent:
		if text == "" {
			t.Fatal("empty alert")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure alert not sent")
	}
}

func TestGetQRCodeCycleError(t *testing.T) {
	cycle := &fakeCycle{err: errors.New("boom")}
	m, _ := newManager(cycle, 60)
	if _, _, err := m.GetQRCode(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetQRCodeCallerCancelKeepsCycle(t *testing.T) {
	cycle := &fakeCycle{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	m, _ := newManager(cycle, 60)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := m.GetQRCode(ctx)
		done <- err
	}()

	<-cycle.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(cycle.gate)
	deadline := time.Now().Add(2 * time.Second)
	for m.InFlight() {
		if time.Now().After(deadline) {
			t.Fatal("cycle did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, cached, err := m.GetQRCode(context.Background())
	if err != nil || !cached {
		t.Fatalf("abandoned cycle should have filled the cache: cached=%v err=%v", cached, err)
	}
	if cycle.runs.Load() != 1 {
		t.Fatalf("expected one cycle, got %d", cycle.runs.Load())
	}
}

func TestInvalidate(t *testing.T) {
	cycle := &fakeCycle{}
	m, _ := newManager(cycle, 60)
	if _, _, err := m.GetQRCode(context.Background()); err != nil {
		t.Fatalf("GetQRCode: %v", err)
	}
	if m.CacheSummary() == "empty" {
		t.Fatal("expected a cached image")
	}
	m.Invalidate()
	if m.CacheSummary() != "empty" {
		t.Fatal("cache not cleared")
	}
	if _, cached, _ := m.GetQRCode(context.Background()); cached {
		t.Fatal("invalidated cache served a hit")
	}
}
