package config

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaliph/qrbridge/utils"
)

func TestOpenSettingsCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	store, err := OpenSettings(path, utils.Discard())
	if err != nil {
		t.Fatalf("OpenSettings: %v", err)
	}
	if store.Snapshot() != DefaultSettings() {
		t.Fatalf("expected defaults, got %+v", store.Snapshot())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings file not created: %v", err)
	}
	if store.Fingerprint() == "" {
		t.Fatal("fingerprint not computed")
	}
}

func TestOpenSettingsBackfillsAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"token":"mine","extra":1}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store, err := OpenSettings(path, utils.Discard())
	if err != nil {
		t.Fatalf("OpenSettings: %v", err)
	}
	if store.Snapshot().Token != "mine" {
		t.Fatalf("token not kept")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("saved document invalid: %v", err)
	}
	if doc["token"] != "mine" {
		t.Fatalf("saved token = %v", doc["token"])
	}
	if _, ok := doc["extra"]; ok {
		t.Fatal("unknown key should be dropped on save")
	}
	if _, ok := doc["custom_skin_qrcode_point"]; !ok {
		t.Fatal("missing key not backfilled on disk")
	}
}

func TestOpenSettingsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"port":0}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenSettings(path, utils.Discard()); err == nil {
		t.Fatal("expected invalid port to fail load")
	}
}

func TestUpdateRotatesFingerprintOnlyForToken(t *testing.T) {
	store, err := OpenSettings(filepath.Join(t.TempDir(), "config.json"), utils.Discard())
	if err != nil {
		t.Fatalf("OpenSettings: %v", err)
	}
	before := store.Fingerprint()

	var hooked int
	store.OnChange(func(old, next Settings) { hooked++ })

	res, err := store.Update(url.Values{"cache_duration": {"30"}, "port": {"5001"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.TokenChanged {
		t.Fatal("token did not change")
	}
	if len(res.RestartRequired) != 1 || res.RestartRequired[0] != "port" {
		t.Fatalf("restart required = %v", res.RestartRequired)
	}
	if store.Fingerprint() != before {
		t.Fatal("fingerprint rotated without a token change")
	}

	res, err = store.Update(url.Values{"token": {"rotated"}})
	if err != nil {
		t.Fatalf("Update token: %v", err)
	}
	if !res.TokenChanged {
		t.Fatal("expected token change")
	}
	if store.Fingerprint() == before {
		t.Fatal("fingerprint not rotated after token change")
	}
	if hooked != 2 {
		t.Fatalf("expected 2 change hooks, got %d", hooked)
	}

	reopened, err := OpenSettings(store.Path(), utils.Discard())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Snapshot().Token != "rotated" || reopened.Snapshot().CacheDuration != 30 {
		t.Fatalf("update not persisted: %+v", reopened.Snapshot())
	}
}

func TestUpdateInvalidLeavesStateUntouched(t *testing.T) {
	store, err := OpenSettings(filepath.Join(t.TempDir(), "config.json"), utils.Discard())
	if err != nil {
		t.Fatalf("OpenSettings: %v", err)
	}
	if _, err := store.Update(url.Values{"port": {"nope"}}); err == nil {
		t.Fatal("expected error")
	}
	if store.Snapshot() != DefaultSettings() {
		t.Fatal("settings changed after rejected update")
	}
}

func TestReload(t *testing.T) {
	store, err := OpenSettings(filepath.Join(t.TempDir(), "config.json"), utils.Discard())
	if err != nil {
		t.Fatalf("OpenSettings: %v", err)
	}

	changed, err := store.Reload()
	if err != nil || changed {
		t.Fatalf("reload of unchanged file: changed=%v err=%v", changed, err)
	}

	if err := os.WriteFile(store.Path(), []byte(`{"token":"edited"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	before := store.Fingerprint()
	changed, err = store.Reload()
	if err != nil || !changed {
		t.Fatalf("reload after edit: changed=%v err=%v", changed, err)
	}
	if store.Snapshot().Token != "edited" {
		t.Fatalf("token = %q", store.Snapshot().Token)
	}
	if store.Fingerprint() == before {
		t.Fatal("fingerprint not rotated by external token edit")
	}

	if err := os.WriteFile(store.Path(), []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Reload(); err == nil {
		t.Fatal("expected error for broken document")
	}
	if store.Snapshot().Token != "edited" {
		t.Fatal("broken edit replaced settings")
	}
}

func TestWatcherPicksUpExternalEdit(t *testing.T) {
	store, err := OpenSettings(filepath.Join(t.TempDir(), "config.json"), utils.Discard())
	if err != nil {
		t.Fatalf("OpenSettings: %v", err)
	}
	w, err := NewWatcher(store, utils.Discard())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	if err := os.WriteFile(store.Path(), []byte(`{"cache_duration":5}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for store.Snapshot().CacheDuration != 5 {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not reload settings")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	<-done
}
