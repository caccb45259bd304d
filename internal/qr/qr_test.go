package qr

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateCode_LengthAndCharset(t *testing.T) {
	code := GenerateCode(8)
	if len(code) != 8 {
		t.Fatalf("expected 8 characters, got %d (%q)", len(code), code)
	}
	for _, r := range code {
		if !strings.ContainsRune(codeCharset, r) {
			t.Errorf("unexpected character %q in code %q", r, code)
		}
	}
}

func TestGenerateCode_DefaultLength(t *testing.T) {
	if got := len(GenerateCode(0)); got != 8 {
		t.Errorf("expected default length 8, got %d", got)
	}
}

func TestGenerateCode_NoDuplicatesAcrossMany(t *testing.T) {
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		code := GenerateCode(8)
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code generated: %q", code)
		}
		seen[code] = struct{}{}
	}
}

func TestNewPayload_EmbedsExpiryWindow(t *testing.T) {
	gen := NewGenerator(15 * time.Minute)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	payload, expiry, err := gen.NewPayload("MATHAB12", "class-1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(payload, "data:image/png;base64,") {
		t.Errorf("payload is not a PNG data URL: %.40q", payload)
	}
	if want := now.Add(15 * time.Minute); !expiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", expiry, want)
	}
}

func TestIsValid(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if !IsValid(now.Add(time.Minute), now) {
		t.Error("payload before expiry should be valid")
	}
	if IsValid(now, now) {
		t.Error("payload at expiry instant should be invalid")
	}
	if IsValid(now.Add(-time.Minute), now) {
		t.Error("payload past expiry should be invalid")
	}
}

func TestDecodeScan_Valid(t *testing.T) {
	scan, err := DecodeScan(`{"sessionCode":"AB12CD34","registrationNumber":"STU001","studentName":"John Doe"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scan.SessionCode != "AB12CD34" || scan.RegistrationNumber != "STU001" || scan.StudentName != "John Doe" {
		t.Errorf("decoded scan mismatch: %+v", scan)
	}
}

func TestDecodeScan_Malformed(t *testing.T) {
	if _, err := DecodeScan("not-json"); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestDecodeScan_MissingFields(t *testing.T) {
	if _, err := DecodeScan(`{"sessionCode":"AB12CD34"}`); err == nil {
		t.Error("expected error when identity fields are missing")
	}
}
