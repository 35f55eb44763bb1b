package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsotp.lock")

	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release")
	}
}

func TestLock_HeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsotp.lock")
	// the parent of the test binary is alive for the test's duration
	data := []byte(`{"pid":` + strconv.Itoa(os.Getppid()) + `,"started_at":"2025-01-01T00:00:00Z"}`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := AcquireLock(path); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestLock_StaleReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsotp.lock")
	if err := os.WriteFile(path, []byte(`{"pid":0}`), 0600); err != nil {
		t.Fatal(err)
	}

	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock over stale lock: %v", err)
	}
	l.Release()
}

