package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestFullRemovesEverythingExceptKeepPath(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "2.cub")
	touch(t, filepath.Join(dir, "0.cub"))
	touch(t, filepath.Join(dir, "1.compact"))
	touch(t, keep)

	w := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	done := make(chan error, 1)
	w.Submit(Job{Kind: Full, DataDir: dir, KeepPath: keep, Done: done})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cleanup job failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cleanup job did not complete in time")
	}

	if _, err := os.Stat(filepath.Join(dir, "0.cub")); !os.IsNotExist(err) {
		t.Fatalf("0.cub still exists, err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "1.compact")); !os.IsNotExist(err) {
		t.Fatalf("1.compact still exists, err=%v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("keep path was removed: %v", err)
	}
}

func TestOldCompactionFilesOnlyTouchesCompactExt(t *testing.T) {
	dir := t.TempDir()
	cub := filepath.Join(dir, "0.cub")
	stale := filepath.Join(dir, "1.compact")
	touch(t, cub)
	touch(t, stale)

	w := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	done := make(chan error, 1)
	w.Submit(Job{Kind: OldCompactionFiles, DataDir: dir, Done: done})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cleanup job failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cleanup job did not complete in time")
	}

	if _, err := os.Stat(cub); err != nil {
		t.Fatalf("0.cub was removed by an OldCompactionFiles pass: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("1.compact still exists, err=%v", err)
	}
}
