// Package updater checks a GitHub-style release feed and replaces the running
// executable with a newer build.
package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/jaliph/qrbridge/utils"
)

// ErrNoAsset means the release carries no build for this platform
var ErrNoAsset = errors.New("updater: no release asset for this platform")

// Asset is a downloadable file attached to a release
type Asset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
	Size int64  `json:"size"`
}

// Release is the subset of the release feed the bridge reads
type Release struct {
	TagName     string  `json:"tag_name"`
	Name        string  `json:"name"`
	PublishedAt string  `json:"published_at"`
	Body        string  `json:"body"`
	Assets      []Asset `json:"assets"`
}

// Updater checks for and applies new releases
type Updater struct {
	feedURL string
	current string
	client  *http.Client
	logger  *slog.Logger

	exePath string
	goos    string
	goarch  string
}

// New creates an updater. currentVersion may be a non-semver build label such as "dev".
func New(feedURL, currentVersion string, timeout time.Duration, logger *slog.Logger) *Updater {
	return &Updater{
		feedURL: feedURL,
		current: currentVersion,
		client:  &http.Client{Timeout: timeout},
		logger:  utils.Or(logger),
		goos:    runtime.GOOS,
		goarch:  runtime.GOARCH,
	}
}

// Latest fetches the newest release from the feed
func (u *Updater) Latest(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "qrbridge/"+u.current)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch release feed: unexpected status %s", resp.Status)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release feed: %w", err)
	}
	if rel.TagName == "" {
		return nil, errors.New("release feed has no tag_name")
	}
	return &rel, nil
}

// Check reports whether the latest release is newer than the running version
func (u *Updater) Check(ctx context.Context) (bool, *Release, error) {
	rel, err := u.Latest(ctx)
	if err != nil {
		return false, nil, err
	}
	latest := withPrefix(rel.TagName)
	if !semver.IsValid(latest) {
		return false, rel, fmt.Errorf("release tag %q is not a semantic version", rel.TagName)
	}
	newer := semver.Compare(latest, canonical(u.current)) > 0
	u.logger.Debug("Checked for update", "current", u.current, "latest", rel.TagName, "newer", newer)
	return newer, rel, nil
}

// canonical maps the running build label onto semver; unparseable labels sort lowest
func canonical(v string) string {
	v = withPrefix(v)
	if !semver.IsValid(v) {
		return "v0.0.0"
	}
	return v
}

func withPrefix(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// AssetFor picks the release asset built for this platform
func (u *Updater) AssetFor(rel *Release) (Asset, error) {
	for _, a := range rel.Assets {
		name := strings.ToLower(a.Name)
		if strings.Contains(name, u.goos) && strings.Contains(name, u.goarch) {
			return a, nil
		}
	}
	if u.goos == "windows" {
		for _, a := range rel.Assets {
			if strings.HasSuffix(strings.ToLower(a.Name), ".exe") {
				return a, nil
			}
		}
	}
	return Asset{}, ErrNoAsset
}

// Apply downloads the platform asset of rel and swaps it in for the running
// executable. The previous binary is kept beside it with a .old suffix.
func (u *Updater) Apply(ctx context.Context, rel *Release) error {
	asset, err := u.AssetFor(rel)
	if err != nil {
		return err
	}
	exe, err := u.executable()
	if err != nil {
		return err
	}

	staged := filepath.Join(filepath.Dir(exe), fmt.Sprintf(".qrbridge-%s.download", uuid.NewString()))
	n, err := u.download(ctx, asset.URL, staged)
	if err != nil {
		os.Remove(staged)
		return err
	}
	if asset.Size > 0 && n != asset.Size {
		os.Remove(staged)
		return fmt.Errorf("download %s: got %d bytes, expected %d", asset.Name, n, asset.Size)
	}

	backup := exe + ".old"
	os.Remove(backup)
	if err := os.Rename(exe, backup); err != nil {
		os.Remove(staged)
		return fmt.Errorf("move current executable aside: %w", err)
	}
	if err := os.Rename(staged, exe); err != nil {
		if rerr := os.Rename(backup, exe); rerr != nil {
			u.logger.Error("Failed to restore previous executable", "error", rerr)
		}
		os.Remove(staged)
		return fmt.Errorf("install new executable: %w", err)
	}

	u.logger.Info("Update installed", "version", rel.TagName, "asset", asset.Name, "size", humanize.Bytes(uint64(n)))
	return nil
}

func (u *Updater) download(ctx context.Context, url, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", "qrbridge/"+u.current)

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download asset: unexpected status %s", resp.Status)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return 0, fmt.Errorf("create staged executable: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write staged executable: %w", err)
	}
	return n, nil
}

func (u *Updater) executable() (string, error) {
	if u.exePath != "" {
		return u.exePath, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}
