package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// LockInfo contains information about the lock holder.
type LockInfo struct {
	PID       int    `json:"pid"`
	StartedAt string `json:"started_at"`
}

// ErrAlreadyRunning indicates another instance is running.
var ErrAlreadyRunning = errors.New("another wsotp instance is already running")

// Lock is a pid file guarding against two bots polling the same token.
type Lock struct {
	Path string
}

// AcquireLock takes the lock at path. A lock left by a dead process is
// replaced.
func AcquireLock(path string) (*Lock, error) {
	if info, err := readLockFile(path); err == nil {
		if info.PID != os.Getpid() && isProcessRunning(info.PID) {
			return nil, fmt.Errorf("%w (PID: %d, since %s)", ErrAlreadyRunning, info.PID, info.StartedAt)
		}
		os.Remove(path)
	}

	if err := writeLockFile(path); err != nil {
		return nil, err
	}
	return &Lock{Path: path}, nil
}

// Release removes the lock file if this process still owns it.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	info, err := readLockFile(l.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.PID != os.Getpid() {
		return nil
	}
	return os.Remove(l.Path)
}

func readLockFile(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func writeLockFile(path string) error {
	info := LockInfo{
		PID:       os.Getpid(),
		StartedAt: time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	// O_EXCL so two starting processes cannot both win
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrAlreadyRunning
		}
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 probes for existence.
	return process.Signal(syscall.Signal(0)) == nil
}
