package synthetic

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"adstudio/internal/storage"
)

func TestSeedIsStable(t *testing.T) {
	a := Seed("image", "a cat")
	b := Seed("image", "a cat")
	c := Seed("image", "a dog")
	if a != b {
		t.Fatalf("seed not deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different inputs produced same seed")
	}
	if len(a) != 12 {
		t.Fatalf("expected 12 hex chars, got %q", a)
	}
}

func TestRenderImageDimensions(t *testing.T) {
	data := RenderImage(160, 90, Seed("x"))
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 160 || cfg.Height != 90 {
		t.Fatalf("unexpected dimensions %dx%d", cfg.Width, cfg.Height)
	}
}

func TestRenderSilenceHeader(t *testing.T) {
	wav := RenderSilence(2)
	if !bytes.HasPrefix(wav, []byte("RIFF")) || !bytes.Contains(wav[:16], []byte("WAVE")) {
		t.Fatalf("missing RIFF/WAVE header")
	}
	if len(wav) != 44+2*8000*2 {
		t.Fatalf("unexpected length %d", len(wav))
	}
}

func TestRendererPublishes(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, "http://cdn.test/static")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	r := NewRenderer(store)
	url, err := r.Image(context.Background(), "replicate", "logo", "abcdef012345", 64, 64)
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if !strings.HasPrefix(url, "http://cdn.test/static/synthetic/replicate/logo-abcdef012345") {
		t.Fatalf("unexpected url %q", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "synthetic", "replicate", "logo-abcdef012345.png")); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
}
