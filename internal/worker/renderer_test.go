package worker

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"image-cache-service/internal/config"
	"image-cache-service/internal/models"
)

func writeSourceImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
}

func newLocalRenderer(t *testing.T) *CacheRenderer {
	t.Helper()
	r, err := NewCacheRenderer(context.Background(), config.Config{ImageMaxBytes: 2 * 1024 * 1024})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return r
}

func TestRenderWritesResizedEntry(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "cache", "c1", "img_10x8.png")
	writeSourceImage(t, src, 40, 32)

	msg := models.WorkMessage{
		JobID:           "j1",
		ImageID:         "img",
		CollectionID:    "c1",
		SourcePath:      src,
		DestinationPath: dst,
		Width:           10,
		Height:          8,
		Quality:         85,
		Format:          "png",
	}

	skipped, err := newLocalRenderer(t).Render(context.Background(), msg)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if skipped {
		t.Fatal("fresh destination reported as skipped")
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	out, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Bounds().Dx() != 10 || out.Bounds().Dy() != 8 {
		t.Fatalf("output is %dx%d, want 10x8", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestRenderSkipsExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "existing.jpg")
	writeSourceImage(t, src, 20, 20)

	// Pre-existing output from an earlier, uncrashed attempt.
	if err := os.WriteFile(dst, []byte("sentinel"), 0o644); err != nil {
		t.Fatalf("seed destination: %v", err)
	}

	msg := models.WorkMessage{
		SourcePath:      src,
		DestinationPath: dst,
		Width:           10,
		Height:          10,
		Format:          "jpeg",
	}

	skipped, err := newLocalRenderer(t).Render(context.Background(), msg)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !skipped {
		t.Fatal("existing destination was not skipped")
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "sentinel" {
		t.Fatal("resume-style render clobbered existing output")
	}
}

func TestRenderForceRegenerateOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "existing.jpg")
	writeSourceImage(t, src, 20, 20)
	if err := os.WriteFile(dst, []byte("sentinel"), 0o644); err != nil {
		t.Fatalf("seed destination: %v", err)
	}

	msg := models.WorkMessage{
		SourcePath:      src,
		DestinationPath: dst,
		Width:           10,
		Height:          10,
		Quality:         90,
		Format:          "jpeg",
		ForceRegenerate: true,
	}

	skipped, err := newLocalRenderer(t).Render(context.Background(), msg)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if skipped {
		t.Fatal("forced render reported as skipped")
	}
	data, _ := os.ReadFile(dst)
	if string(data) == "sentinel" {
		t.Fatal("forced render did not overwrite")
	}
}

func TestRenderMissingSource(t *testing.T) {
	dir := t.TempDir()
	msg := models.WorkMessage{
		SourcePath:      filepath.Join(dir, "gone.png"),
		DestinationPath: filepath.Join(dir, "out.jpg"),
		Width:           10,
		Height:          10,
		Format:          "jpeg",
	}
	if _, err := newLocalRenderer(t).Render(context.Background(), msg); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestRenderRejectsOversizedSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	writeSourceImage(t, src, 64, 64)

	r, err := NewCacheRenderer(context.Background(), config.Config{ImageMaxBytes: 16})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	msg := models.WorkMessage{
		SourcePath:      src,
		DestinationPath: filepath.Join(dir, "out.jpg"),
		Width:           10,
		Height:          10,
		Format:          "jpeg",
	}
	if _, err := r.Render(context.Background(), msg); err == nil {
		t.Fatal("expected oversized source to be rejected")
	}
}
