//go:build !windows

package ipc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPathOverride(t *testing.T) {
	t.Setenv("CLIPSYNC_SOCKET", "/tmp/custom.sock")
	assert.Equal(t, "/tmp/custom.sock", SocketPath())
}

func TestSocketPathRuntimeDir(t *testing.T) {
	t.Setenv("CLIPSYNC_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/clipsync.sock", SocketPath())
}

func TestListenDialAndStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.sock")

	// A leftover file from a crashed run does not block Listen.
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.False(t, IsRunning(path))

	ln, err := Listen(path)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()
	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	_ = c.Close()

	_, err = Listen(path)
	assert.ErrorIs(t, err, ErrInUse)
}

func TestLockBlocksSecondListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.sock")
	ln, err := listenIPC(path)
	require.NoError(t, err)

	// Even with the socket file gone, the lock keeps a second daemon out.
	require.NoError(t, os.Remove(path))
	_, err = listenIPC(path)
	assert.ErrorContains(t, err, "locked")

	require.NoError(t, ln.Close())
	ln2, err := listenIPC(path)
	require.NoError(t, err)
	require.NoError(t, ln2.Close())
}

func TestLosingListenerLeavesLiveSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.sock")
	ln, err := listenIPC(path)
	require.NoError(t, err)
	defer ln.Close()

	// A second daemon that skipped the liveness check still must not
	// unlink the winner's socket.
	_, err = listenIPC(path)
	require.ErrorIs(t, err, ErrInUse)

	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()
	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	_ = c.Close()
}

func TestCloseKeepsLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.sock")
	ln, err := listenIPC(path)
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, err = os.Stat(path + ".lock")
	assert.NoError(t, err)
}
