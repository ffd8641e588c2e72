package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jaliph/qrbridge/models"
)

// ErrInvalidField is matched by every *FieldError
var ErrInvalidField = errors.New("invalid settings field")

// FieldError reports a settings value that could not be coerced or validated
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidField
}

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// reservedRoutes may not be used as the QR route
var reservedRoutes = map[string]bool{
	"/":              true,
	"/login":         true,
	"/logout":        true,
	"/settings":      true,
	"/check_update":  true,
	"/manual_update": true,
	"/health":        true,
	"/stats":         true,
	"/history":       true,
	"/metrics":       true,
}

// Validate checks the semantic constraints of a settings document
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Token) == "" {
		return fieldErr("token", "must not be empty")
	}
	if strings.TrimSpace(s.Host) == "" {
		return fieldErr("host", "must not be empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fieldErr("port", "must be between 1 and 65535, got %d", s.Port)
	}
	if !strings.HasPrefix(s.QRRoute, "/") || len(s.QRRoute) < 2 {
		return fieldErr("qr_route", "must start with / and name a path")
	}
	if strings.ContainsAny(s.QRRoute, "?#{} ") {
		return fieldErr("qr_route", "must be a plain path")
	}
	if reservedRoutes[strings.TrimSuffix(s.QRRoute, "/")] {
		return fieldErr("qr_route", "%s is reserved", s.QRRoute)
	}
	if s.CacheDuration < 0 {
		return fieldErr("cache_duration", "must not be negative")
	}
	if s.Decode.Time < 0 {
		return fieldErr("decode.time", "must not be negative")
	}
	if s.Decode.RetryCount < 1 {
		return fieldErr("decode.retry_count", "must be at least 1")
	}
	if !s.SkinFormat.Valid() {
		return fieldErr("skin_format", "must be new, old or custom, got %q", s.SkinFormat)
	}
	if s.CustomSkinQRCodeSize <= 0 {
		return fieldErr("custom_skin_qrcode_size", "must be positive")
	}
	if s.SkinFormat == models.SkinCustom && strings.TrimSpace(s.CustomSkinPath) == "" {
		return fieldErr("custom_skin_path", "required when skin_format is custom")
	}
	return nil
}
