package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/jaliph/qrbridge/models"
	"github.com/jaliph/qrbridge/utils"
)

// SettingsStore owns the settings document and its fingerprint.
// All readers go through Snapshot; writers hold the lock while persisting.
type SettingsStore struct {
	path   string
	logger *slog.Logger

	mu          sync.RWMutex
	settings    Settings
	fingerprint string

	hooksMu sync.Mutex
	hooks   []func(old, next Settings)
}

// OpenSettings loads the document at path. A missing file is created from the
// defaults and an incomplete one is backfilled and written back.
func OpenSettings(path string, logger *slog.Logger) (*SettingsStore, error) {
	s := &SettingsStore{path: path, logger: utils.Or(logger)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.settings = DefaultSettings()
		if err := s.write(s.settings); err != nil {
			return nil, err
		}
		s.logger.Info("Created default settings", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	default:
		settings, changed, err := EnsureComplete(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := settings.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		s.settings = settings
		if len(changed) > 0 {
			if err := s.write(settings); err != nil {
				return nil, err
			}
			s.logger.Info("Backfilled settings", "path", path, "keys", changed)
		}
	}

	s.fingerprint = Fingerprint(s.settings.Token, fileStamp(path))
	return s, nil
}

// Path is the location of the document on disk
func (s *SettingsStore) Path() string {
	return s.path
}

// Snapshot returns a copy of the current settings
func (s *SettingsStore) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Fingerprint returns the current configuration fingerprint
func (s *SettingsStore) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint
}

// OnChange registers fn to run after every successful update or reload
func (s *SettingsStore) OnChange(fn func(old, next Settings)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Update applies an admin form submission, persists it and rotates the
// fingerprint when the token changed.
func (s *SettingsStore) Update(form url.Values) (models.SettingsUpdateResult, error) {
	s.mu.Lock()
	old := s.settings
	next, err := ApplyForm(old, form)
	if err != nil {
		s.mu.Unlock()
		return models.SettingsUpdateResult{}, err
	}
	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return models.SettingsUpdateResult{}, err
	}
	s.settings = next

	result := models.SettingsUpdateResult{
		TokenChanged:    next.Token != old.Token,
		RestartRequired: RestartRequired(old, next),
	}
	if result.TokenChanged {
		s.fingerprint = Fingerprint(next.Token, fileStamp(s.path))
	}
	s.mu.Unlock()

	s.notify(old, next)
	return result, nil
}

// Reload re-reads the document after an external edit. An unreadable or
// invalid document is rejected and the current settings stay in effect.
func (s *SettingsStore) Reload() (bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read settings %s: %w", s.path, err)
	}
	next, _, err := EnsureComplete(raw)
	if err != nil {
		return false, err
	}
	if err := next.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	old := s.settings
	if reflect.DeepEqual(old, next) {
		s.mu.Unlock()
		return false, nil
	}
	s.settings = next
	if next.Token != old.Token {
		s.fingerprint = Fingerprint(next.Token, fileStamp(s.path))
	}
	s.mu.Unlock()

	s.notify(old, next)
	return true, nil
}

func (s *SettingsStore) notify(old, next Settings) {
	s.hooksMu.Lock()
	hooks := append([]func(old, next Settings){}, s.hooks...)
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(old, next)
	}
}

// write replaces the document atomically with a temp file and rename
func (s *SettingsStore) write(settings Settings) error {
	data, err := settings.Marshal()
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// RestartRequired lists the changed keys that only take effect after a restart
func RestartRequired(old, next Settings) []string {
	var keys []string
	if old.QRRoute != next.QRRoute {
		keys = append(keys, "qr_route")
	}
	if old.Host != next.Host {
		keys = append(keys, "host")
	}
	if old.Port != next.Port {
		keys = append(keys, "port")
	}
	return keys
}

// Fingerprint derives the configuration version used to invalidate sessions
func Fingerprint(token string, stamp time.Time) string {
	sum := sha256.Sum256([]byte(token + "|" + strconv.FormatInt(stamp.UnixNano(), 10)))
	return hex.EncodeToString(sum[:])
}

// fileStamp is the modification time of path, or now when it cannot be read
func fileStamp(path string) time.Time {
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Now()
}
