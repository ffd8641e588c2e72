package config

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/jaliph/qrbridge/models"
)

// ApplyForm coerces submitted admin form values onto a copy of s and validates the result.
// Only known keys are applied. An unchecked standalone_mode switch is absent from a
// browser submission, so its absence means false; dev_mode only changes when present.
func ApplyForm(s Settings, form url.Values) (Settings, error) {
	next := s
	next.StandaloneMode = truthy(form.Get("standalone_mode"))

	var err error
	for _, key := range formKeys {
		if _, ok := form[key]; !ok {
			continue
		}
		value := strings.TrimSpace(form.Get(key))

		switch key {
		case "p1":
			next.P1, err = parsePoint(key, value)
		case "p2":
			next.P2, err = parsePoint(key, value)
		case "custom_skin_qrcode_point":
			next.CustomSkinQRCodePt, err = parsePoint(key, value)
		case "token":
			next.Token = value
		case "host":
			next.Host = value
		case "qr_route":
			next.QRRoute = value
		case "custom_skin_path":
			next.CustomSkinPath = value
		case "skin_format":
			next.SkinFormat = models.SkinFormat(strings.ToLower(value))
		case "port":
			next.Port, err = parseInt(key, value)
		case "cache_duration":
			next.CacheDuration, err = parseInt(key, value)
		case "custom_skin_qrcode_size":
			next.CustomSkinQRCodeSize, err = parseInt(key, value)
		case "decode.retry_count":
			next.Decode.RetryCount, err = parseInt(key, value)
		case "decode.time":
			next.Decode.Time, err = parseFloat(key, value)
		case "dev_mode":
			next.DevMode = truthy(value)
		}
		if err != nil {
			return s, err
		}
	}

	if err := next.Validate(); err != nil {
		return s, err
	}
	return next, nil
}

// formKeys is the fixed order in which form fields are coerced
var formKeys = []string{
	"token", "host", "port", "qr_route", "cache_duration",
	"p1", "p2", "decode.time", "decode.retry_count",
	"skin_format", "custom_skin_path", "custom_skin_qrcode_size", "custom_skin_qrcode_point",
	"dev_mode",
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func parseInt(field, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fieldErr(field, "%q is not an integer", v)
	}
	return n, nil
}

func parseFloat(field, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fieldErr(field, "%q is not a number", v)
	}
	return f, nil
}

// parsePoint accepts "x,y"
func parsePoint(field, v string) (models.Point, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return models.Point{}, fieldErr(field, "%q must be two comma separated integers", v)
	}
	x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errX != nil || errY != nil {
		return models.Point{}, fieldErr(field, "%q must be two comma separated integers", v)
	}
	return models.Point{X: x, Y: y}, nil
}
