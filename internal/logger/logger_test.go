package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestLevels_TagAndMessageAppear(t *testing.T) {
	out := captureStdout(t, func() {
		Info("DB", "opened store")
		Success("DB", "migrations applied")
		Warn("Orders", "no candidate lines")
		Error("Nightly", "vendor build failed")
	})

	for _, want := range []string{
		"[DB]", "opened store", "migrations applied",
		"[Orders]", "no candidate lines",
		"[Nightly]", "vendor build failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestBanner_IncludesVersion(t *testing.T) {
	out := captureStdout(t, func() {
		Banner("v0.3.0")
		Banner("")
	})
	if !strings.Contains(out, "stockcast v0.3.0") {
		t.Errorf("banner missing version:\n%s", out)
	}
	if !strings.Contains(out, "stockcast") {
		t.Errorf("empty-version banner missing title:\n%s", out)
	}
}

func TestSectionAndStats(t *testing.T) {
	out := captureStdout(t, func() {
		Section("Run Statistics")
		Stats("SKUs processed", 128)
		Stats("Errors", 0)
	})
	for _, want := range []string{"Run Statistics", "SKUs processed", "128"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}
