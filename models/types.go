package models

import (
	"encoding/json"
	"fmt"
)

// Point represents an absolute screen coordinate or an offset inside a skin image.
// It is stored as a two element [x, y] array.
type Point struct {
	X int
	Y int
}

// MarshalJSON encodes the point as [x, y]
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.X, p.Y})
}

// UnmarshalJSON decodes a [x, y] array
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("point must be an [x, y] array: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("point must have exactly 2 coordinates, got %d", len(pair))
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

// String renders the point the way the settings form expects it
func (p Point) String() string {
	return fmt.Sprintf("%d,%d", p.X, p.Y)
}

// SkinFormat selects how the regenerated QR code is placed on a skin image
type SkinFormat string

const (
	SkinNew    SkinFormat = "new"
	SkinOld    SkinFormat = "old"
	SkinCustom SkinFormat = "custom"
)

// Valid reports whether the format is one of the known selectors
func (f SkinFormat) Valid() bool {
	switch f {
	case SkinNew, SkinOld, SkinCustom:
		return true
	}
	return false
}

// Outcome is the terminal state of a capture cycle
type Outcome string

const (
	OutcomeDecoded       Outcome = "decoded"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeWindowMissing Outcome = "window_missing"
	OutcomeComposeFailed Outcome = "compose_failed"
)

// Failed reports whether the outcome produced a placeholder instead of a QR code
func (o Outcome) Failed() bool {
	return o != OutcomeDecoded
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// LoginResponse is returned by POST /login
type LoginResponse struct {
	Success bool `json:"success"`
}

// UpdateCheckResponse describes whether a newer release exists
type UpdateCheckResponse struct {
	HasUpdate   bool   `json:"has_update"`
	Version     string `json:"version,omitempty"`
	Name        string `json:"name,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Body        string `json:"body,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ErrorResponse is the JSON error payload of the update endpoints
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	InFlight        bool    `json:"in_flight"`
	CacheAgeSeconds float64 `json:"cache_age_seconds,omitempty"`
	Cached          bool    `json:"cached"`
	StartedAt       string  `json:"started_at"`
}

// SettingsUpdateResult summarizes what a settings change affected
type SettingsUpdateResult struct {
	TokenChanged    bool
	RestartRequired []string
}
