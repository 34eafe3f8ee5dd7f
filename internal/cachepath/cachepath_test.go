package cachepath

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveIsDeterministic(t *testing.T) {
	first := Resolve("/cache", "col-1", "img-9", 800, 600, "png")
	for i := 0; i < 5; i++ {
		if got := Resolve("/cache", "col-1", "img-9", 800, 600, "png"); got != first {
			t.Fatalf("resolution not deterministic: %q vs %q", got, first)
		}
	}
	want := filepath.Join("/cache", "col-1", "img-9_800x600.png")
	if first != want {
		t.Fatalf("path = %q, want %q", first, want)
	}
}

func TestResolveFormatOnlyChangesExtension(t *testing.T) {
	png := Resolve("/cache", "col-1", "img-9", 800, 600, "png")
	webp := Resolve("/cache", "col-1", "img-9", 800, 600, "webp")

	if strings.TrimSuffix(png, ".png") != strings.TrimSuffix(webp, ".webp") {
		t.Fatalf("paths differ beyond extension: %q vs %q", png, webp)
	}
}

func TestExtension(t *testing.T) {
	cases := []struct {
		format string
		want   string
	}{
		{"jpeg", "jpg"},
		{"jpg", "jpg"},
		{"JPEG", "jpg"},
		{"png", "png"},
		{"webp", "webp"},
		{"gif", "gif"},
		{"bmp", "jpg"}, // unrecognized formats fall back to jpeg
		{"", "jpg"},
	}
	for _, tc := range cases {
		if got := Extension(tc.format); got != tc.want {
			t.Errorf("Extension(%q) = %q, want %q", tc.format, got, tc.want)
		}
	}
}
