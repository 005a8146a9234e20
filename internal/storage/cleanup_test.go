package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestTempSweeper_RunOnce(t *testing.T) {
	backend, root := newTestFilesystem(t)
	ctx := context.Background()

	if _, err := backend.Upload(ctx, UploadInput{Key: "docs/kept.txt", Body: strings.NewReader("kept")}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	keptObject := filepath.Join(root, "objects", "docs", "kept.txt")
	keptMeta := filepath.Join(root, "meta", "docs", "kept.txt.json")
	stamp := time.Now().Add(-2 * time.Hour)
	os.Chtimes(keptObject, stamp, stamp)
	os.Chtimes(keptMeta, stamp, stamp)

	staleTemp := filepath.Join(root, "objects", "docs", ".upload-123")
	freshTemp := filepath.Join(root, "objects", "docs", ".upload-456")
	orphanMeta := filepath.Join(root, "meta", "docs", "gone.txt.json")
	freshOrphan := filepath.Join(root, "meta", "docs", "inflight.txt.json")

	writeAged(t, staleTemp, 2*time.Hour)
	writeAged(t, freshTemp, time.Minute)
	writeAged(t, orphanMeta, 2*time.Hour)
	writeAged(t, freshOrphan, time.Minute)

	sweeper, err := NewTempSweeper(backend, "@hourly", time.Hour)
	if err != nil {
		t.Fatalf("NewTempSweeper failed: %v", err)
	}

	removed, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 files removed, got %d", removed)
	}

	for path, want := range map[string]bool{
		keptObject:  true,
		keptMeta:    true,
		staleTemp:   false,
		freshTemp:   true,
		orphanMeta:  false,
		freshOrphan: true,
	} {
		if got := fileExists(path); got != want {
			t.Errorf("%s exists = %v, want %v", path, got, want)
		}
	}
}

func TestTempSweeper_EmptyRoot(t *testing.T) {
	backend, _ := newTestFilesystem(t)

	sweeper, err := NewTempSweeper(backend, "*/5 * * * *", 0)
	if err != nil {
		t.Fatalf("NewTempSweeper failed: %v", err)
	}
	if sweeper.maxAge != DefaultSweepMaxAge {
		t.Errorf("expected default max age, got %v", sweeper.maxAge)
	}

	removed, err := sweeper.RunOnce(context.Background())
	if err != nil || removed != 0 {
		t.Errorf("RunOnce on empty root = %d, %v", removed, err)
	}
}

func TestTempSweeper_InvalidSchedule(t *testing.T) {
	backend, _ := newTestFilesystem(t)

	if _, err := NewTempSweeper(backend, "every tuesday", time.Hour); err == nil {
		t.Error("expected an error for an invalid schedule")
	}
}

func TestTempSweeper_Canceled(t *testing.T) {
	backend, root := newTestFilesystem(t)
	writeAged(t, filepath.Join(root, "objects", ".upload-1"), 2*time.Hour)

	sweeper, err := NewTempSweeper(backend, "@hourly", time.Hour)
	if err != nil {
		t.Fatalf("NewTempSweeper failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sweeper.RunOnce(ctx); err == nil {
		t.Error("expected a canceled sweep to fail")
	}
}

func TestTempSweeper_StartStop(t *testing.T) {
	backend, _ := newTestFilesystem(t)

	sweeper, err := NewTempSweeper(backend, "@every 1h", time.Hour)
	if err != nil {
		t.Fatalf("NewTempSweeper failed: %v", err)
	}
	sweeper.Start()
	sweeper.Stop()
}
