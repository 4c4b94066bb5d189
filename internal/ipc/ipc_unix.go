//go:build !windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

func socketPath() string {
	// Linux: prefer XDG_RUNTIME_DIR
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipsync.sock")
	}
	// macOS / fallback
	return filepath.Join(os.TempDir(), "clipsync.sock")
}

// lockedListener releases the daemon lock when the socket closes.
type lockedListener struct {
	net.Listener
	lock *flock.Flock
}

// The lock file stays on disk; unlinking it would let a second daemon lock
// a fresh inode while a third still holds the old one.
func (l *lockedListener) Close() error {
	err := l.Listener.Close()
	_ = l.lock.Unlock()
	return err
}

// listenIPC holds <path>.lock for the listener's lifetime so two daemons
// cannot race for the same socket. Only the lock holder removes a stale
// socket file.
func listenIPC(path string) (net.Listener, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked by another clipsync", ErrInUse, lock.Path())
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = lock.Unlock()
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &lockedListener{Listener: ln, lock: lock}, nil
}

func dialIPC(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}
