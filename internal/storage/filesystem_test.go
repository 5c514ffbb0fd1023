package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPublishWritesAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	url, err := store.Publish(context.Background(), "/voiceover/abc.mp3", []byte("ID3"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if url != "http://localhost:8080/static/voiceover/abc.mp3" {
		t.Fatalf("unexpected url %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, "voiceover", "abc.mp3"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "ID3" {
		t.Fatalf("unexpected content %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "voiceover", "abc.mp3.part")); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind")
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "  ", "../etc/passwd", "a/../../b", ".", ".."} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
	got, err := sanitizeKey(`.\images\x.png`)
	if err != nil || got != "images/x.png" {
		t.Fatalf("unexpected sanitize result %q, %v", got, err)
	}
}

func TestWriteHonoursCancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Write(ctx, "x.bin", []byte{1}); err == nil {
		t.Fatalf("expected cancelled write to fail")
	}
}
