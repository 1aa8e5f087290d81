package report

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"oversized", errors.New("file size 157286400 bytes exceeds the 100MB limit"), "FILE001"},
		{"empty", errors.New("file is empty"), "FILE002"},
		{"unsafe name", errors.New(`file name "../x.csv" rejected: name contains '..'`), "FILE003"},
		{"hidden executable", errors.New(`file name "a.exe.csv" hides an executable extension`), "FILE004"},
		{"blocked extension", errors.New(`file extension ".exe" is not allowed`), "FILE004"},
		{"mime", errors.New(`declared type "image/png" is not on the allowed list`), "FILE005"},
		{"invalid json", errors.New("invalid JSON: unexpected EOF"), "PRS002"},
		{"busy", fmt.Errorf("submit: %w", errors.New("too many ingests in progress")), "ING001"},
		{"cancelled", errors.New("context canceled"), "ING002"},
		{"batch", errors.New("batch not found"), "BAT001"},
		{"unresolved commit", errors.New("commit 42: batch has unresolved duplicates: duplicate candidates are unresolved: 2 pending"), "BAT002"},
		{"quarantined commit", errors.New("commit 42: batch is quarantined"), "BAT004"},
		{"bad index", errors.New("duplicate candidate not found: index 7"), "BAT005"},
		{"case insensitive", errors.New("NO MSH SEGMENT FOUND"), "PRS002"},
		{"unknown error returns default", errors.New("some random internal error"), "ING000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	for _, code := range []string{"FILE001", "ENC003", "PRS004", "VAL004", "SEC005", "DUP001", "ING000", "BAT004"} {
		if m, ok := Lookup(code); !ok || m.Code != code || m.Message == "" || m.Action == "" {
			t.Errorf("Lookup(%s) = %+v, %v", code, m, ok)
		}
	}
	if _, ok := Lookup("XXX999"); ok {
		t.Error("Lookup(XXX999) should fail")
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(errors.New("batch not found"))
	want := "Batch not found (Code: BAT001). The batch may have expired. Submit the file again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
	if IsUserFacing(errors.New("weird")) || !IsUserFacing(errors.New("rate limit exceeded")) {
		t.Error("IsUserFacing mismatch")
	}
}
