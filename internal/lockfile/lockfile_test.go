package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireLock_WritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	holder := ReadHolder(lock.Path())
	if holder.PID != os.Getpid() || !holder.Running || holder.StartedAt.IsZero() {
		t.Errorf("unexpected holder %+v", holder)
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("Second lock acquisition should have failed")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("expected the holder record to survive the failed attempt, got %+v", lockErr.Holder)
	}
	if !strings.Contains(err.Error(), dir) || !strings.Contains(err.Error(), "another WellnessPipe instance") {
		t.Errorf("unhelpful error message: %s", err)
	}
}

func TestLock_ReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("expected the lock file to be removed")
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Reacquire failed: %v", err)
	}
	again.Release()
}

func TestAcquireLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("expected the directory to be created, got %v", err)
	}
	lock.Release()
}

func TestReadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFileName)
	if h := ReadHolder(path); h.PID != 0 {
		t.Errorf("expected zero holder for a missing file, got %+v", h)
	}

	if err := os.WriteFile(path, []byte("garbage\npid=notanumber\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if h := ReadHolder(path); h.PID != 0 || h.String() != "unknown process" {
		t.Errorf("expected zero holder for garbage, got %+v", h)
	}

	if err := os.WriteFile(path, []byte("pid=999999999\nstarted=2024-05-01T09:00:00Z\n"), 0644); err != nil {
		t.Fatal(err)
	}
	h := ReadHolder(path)
	if h.PID != 999999999 || h.Running || h.StartedAt.Year() != 2024 {
		t.Errorf("unexpected holder %+v", h)
	}
	if !strings.Contains(h.String(), "stale lock") {
		t.Errorf("expected stale marker, got %s", h.String())
	}
}
