package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/jaliph/qrbridge/models"
)

// DecodePolicy bounds the polling phase of a capture cycle
type DecodePolicy struct {
	Time       float64 `json:"time"`
	RetryCount int     `json:"retry_count"`
}

// Interval is the pause before each decode attempt
func (d DecodePolicy) Interval() time.Duration {
	if d.RetryCount <= 0 {
		return 0
	}
	return time.Duration(d.Time / float64(d.RetryCount) * float64(time.Second))
}

// Settings is the persisted settings document edited from the admin page
type Settings struct {
	P1                   models.Point      `json:"p1"`
	P2                   models.Point      `json:"p2"`
	Token                string            `json:"token"`
	Host                 string            `json:"host"`
	Port                 int               `json:"port"`
	QRRoute              string            `json:"qr_route"`
	CacheDuration        int               `json:"cache_duration"`
	StandaloneMode       bool              `json:"standalone_mode"`
	Decode               DecodePolicy      `json:"decode"`
	SkinFormat           models.SkinFormat `json:"skin_format"`
	CustomSkinPath       string            `json:"custom_skin_path"`
	CustomSkinQRCodeSize int               `json:"custom_skin_qrcode_size"`
	CustomSkinQRCodePt   models.Point      `json:"custom_skin_qrcode_point"`
	DevMode              bool              `json:"dev_mode"`
}

// DefaultSettings returns the settings written when no document exists
func DefaultSettings() Settings {
	return Settings{
		P1:                   models.Point{X: 1087, Y: 799},
		P2:                   models.Point{X: 945, Y: 682},
		Token:                "qrmai",
		Host:                 "0.0.0.0",
		Port:                 5000,
		QRRoute:              "/qrmai",
		CacheDuration:        60,
		StandaloneMode:       false,
		Decode:               DecodePolicy{Time: 10, RetryCount: 10},
		SkinFormat:           models.SkinNew,
		CustomSkinPath:       "./skin.png",
		CustomSkinQRCodeSize: 576,
		CustomSkinQRCodePt:   models.Point{X: 106, Y: 638},
		DevMode:              false,
	}
}

// CacheTTL is how long a decoded image stays servable
func (s Settings) CacheTTL() time.Duration {
	return time.Duration(s.CacheDuration) * time.Second
}

// Addr is the listen address
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BrowserURL is the admin login page as a local browser should open it
func (s Settings) BrowserURL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + "/login"
}

// Marshal renders the document the way it is stored on disk
func (s Settings) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EnsureComplete parses a stored document and backfills every missing key
// from the defaults. Present values are kept and unknown keys are dropped.
// It returns the keys that were missing or unknown, so the caller knows the
// document on disk needs rewriting.
func EnsureComplete(raw []byte) (Settings, []string, error) {
	settings := DefaultSettings()
	if len(bytes.TrimSpace(raw)) == 0 {
		return settings, documentKeys(), nil
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return Settings{}, nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, nil, fmt.Errorf("parse settings: %w", err)
	}

	var changed []string
	known := make(map[string]bool)
	for _, key := range documentKeys() {
		known[key] = true
		if _, ok := present[key]; !ok {
			changed = append(changed, key)
		}
	}
	for key := range present {
		if !known[key] {
			changed = append(changed, key)
		}
	}

	if nested, ok := present["decode"]; ok {
		var decode map[string]json.RawMessage
		if err := json.Unmarshal(nested, &decode); err != nil {
			return Settings{}, nil, fmt.Errorf("parse settings: decode: %w", err)
		}
		for _, key := range []string{"time", "retry_count"} {
			if _, ok := decode[key]; !ok {
				changed = append(changed, "decode."+key)
			}
		}
	}

	sort.Strings(changed)
	return settings, changed, nil
}

// documentKeys lists the top-level keys of the settings document
func documentKeys() []string {
	return []string{
		"p1", "p2", "token", "host", "port", "qr_route", "cache_duration",
		"standalone_mode", "decode", "skin_format", "custom_skin_path",
		"custom_skin_qrcode_size", "custom_skin_qrcode_point", "dev_mode",
	}
}
