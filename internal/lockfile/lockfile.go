// Package lockfile guards the state directory so that only one OrderPipe
// process polls a given set of bot tokens.
//
// Telegram rejects concurrent getUpdates calls for the same token, so a second
// instance would fight the first one for updates. The lock is an flock(2) on a
// file in the state directory and is released by the kernel when the process dies.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "orderpipe.lock"

// ErrLocked is wrapped by LockError when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another OrderPipe instance")

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock on stateDir without blocking.
func AcquireLock(stateDir string) (*Lock, error) {
	path := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "path", path)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner := describeOwner(file)
		file.Close()
		slog.Error("lockfile.AcquireLock: already locked", "path", path, "owner", owner, "error", err)
		return nil, &LockError{Path: path, Owner: owner, Cause: err}
	}

	// The previous owner's pid stays readable until the lock is ours.
	if err := file.Truncate(0); err == nil {
		_, err = file.WriteAt([]byte("pid="+strconv.Itoa(os.Getpid())+"\n"), 0)
		if err != nil {
			slog.Warn("lockfile.AcquireLock: failed to record pid", "path", path, "error", err)
		}
	}

	slog.Info("lockfile.AcquireLock: acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	// Unlink before unlocking.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: failed to remove lock file", "path", l.path, "error", err)
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	slog.Info("lockfile.Release: released", "path", l.path)
	return nil
}

// LockError reports a lock held by another process.
type LockError struct {
	Path  string
	Owner string
	Cause error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another OrderPipe instance is already polling with this state directory (lock file %s", e.Path)
	if e.Owner != "" {
		msg += ", owner " + e.Owner
	}
	return msg + "); stop it first or point ORDERPIPE_STATE_DIR elsewhere"
}

func (e *LockError) Is(target error) bool {
	return target == ErrLocked
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func describeOwner(file *os.File) string {
	buf := make([]byte, 64)
	n, _ := file.ReadAt(buf, 0)
	pid := parsePID(string(buf[:n]))
	if pid <= 0 {
		return ""
	}
	if processAlive(pid) {
		return fmt.Sprintf("pid %d (running)", pid)
	}
	return fmt.Sprintf("pid %d (not running)", pid)
}

// parsePID reads the "pid=N" line written by AcquireLock.
func parsePID(content string) int {
	line, _, _ := strings.Cut(content, "\n")
	v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
	if !ok {
		return 0
	}
	pid, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return pid
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
