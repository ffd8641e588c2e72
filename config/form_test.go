package config

import (
	"errors"
	"net/url"
	"testing"

	"github.com/jaliph/qrbridge/models"
)

func TestApplyFormCoercesTypes(t *testing.T) {
	form := url.Values{
		"port":                     {"6000"},
		"p1":                       {"10, 20"},
		"decode.time":              {"2.5"},
		"decode.retry_count":       {"5"},
		"skin_format":              {"custom"},
		"custom_skin_qrcode_point": {"1,2"},
		"standalone_mode":          {"on"},
		"ignored":                  {"x"},
	}
	next, err := ApplyForm(DefaultSettings(), form)
	if err != nil {
		t.Fatalf("ApplyForm: %v", err)
	}
	if next.Port != 6000 {
		t.Fatalf("port = %d", next.Port)
	}
	if next.P1 != (models.Point{X: 10, Y: 20}) {
		t.Fatalf("p1 = %v", next.P1)
	}
	if next.Decode.Time != 2.5 || next.Decode.RetryCount != 5 {
		t.Fatalf("decode = %+v", next.Decode)
	}
	if next.SkinFormat != models.SkinCustom {
		t.Fatalf("skin_format = %q", next.SkinFormat)
	}
	if !next.StandaloneMode {
		t.Fatal("standalone_mode should be on")
	}
}

func TestApplyFormUncheckedSwitchMeansFalse(t *testing.T) {
	base := DefaultSettings()
	base.StandaloneMode = true
	base.DevMode = true

	next, err := ApplyForm(base, url.Values{"token": {"abc"}})
	if err != nil {
		t.Fatalf("ApplyForm: %v", err)
	}
	if next.StandaloneMode {
		t.Fatal("absent standalone_mode should be false")
	}
	if !next.DevMode {
		t.Fatal("absent dev_mode should keep its value")
	}
}

func TestApplyFormRejectsBadValues(t *testing.T) {
	cases := []struct {
		form  url.Values
		field string
	}{
		{url.Values{"port": {"abc"}}, "port"},
		{url.Values{"port": {"70000"}}, "port"},
		{url.Values{"p1": {"1,2,3"}}, "p1"},
		{url.Values{"p2": {"x,y"}}, "p2"},
		{url.Values{"decode.retry_count": {"0"}}, "decode.retry_count"},
		{url.Values{"decode.time": {"soon"}}, "decode.time"},
		{url.Values{"skin_format": {"fancy"}}, "skin_format"},
		{url.Values{"token": {""}}, "token"},
		{url.Values{"qr_route": {"/settings"}}, "qr_route"},
		{url.Values{"qr_route": {"qr"}}, "qr_route"},
		{url.Values{"cache_duration": {"-1"}}, "cache_duration"},
	}

	base := DefaultSettings()
	for _, tc := range cases {
		next, err := ApplyForm(base, tc.form)
		if err == nil {
			t.Fatalf("%v: expected error", tc.form)
		}
		var fe *FieldError
		if !errors.As(err, &fe) {
			t.Fatalf("%v: expected FieldError, got %T", tc.form, err)
		}
		if fe.Field != tc.field {
			t.Fatalf("%v: expected field %q, got %q", tc.form, tc.field, fe.Field)
		}
		if !errors.Is(err, ErrInvalidField) {
			t.Fatalf("%v: error should match ErrInvalidField", tc.form)
		}
		if next != base {
			t.Fatalf("%v: settings changed on error", tc.form)
		}
	}
}
