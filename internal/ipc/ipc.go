// Package ipc provides the local control channel a running clipsync daemon
// serves its status on, and that "clipsync status" dials.
//
// On Unix it is a domain socket; on Windows a named pipe.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// SocketPath returns the platform-appropriate path for the control socket.
//
//   - Linux:   $XDG_RUNTIME_DIR/clipsync.sock, else $TMPDIR/clipsync.sock
//   - macOS:   $TMPDIR/clipsync.sock
//   - Windows: \\.\pipe\clipsync
//
// $CLIPSYNC_SOCKET overrides all of them.
func SocketPath() string {
	if s := os.Getenv("CLIPSYNC_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a daemon appears to be listening on path. It
// does a cheap dial-and-close; no data is exchanged.
func IsRunning(path string) bool {
	c, err := dialIPC(context.Background(), path)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// ErrInUse is returned by Listen when another daemon owns the socket.
var ErrInUse = errors.New("control socket in use")

// Listen listens on path. A live socket is reported as ErrInUse so two
// daemons never share it; a stale one left by a crashed run is replaced
// once the daemon lock is held.
func Listen(path string) (net.Listener, error) {
	if IsRunning(path) {
		return nil, fmt.Errorf("%w: %s", ErrInUse, path)
	}
	return listenIPC(path)
}

// Dial connects to the daemon on path.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	return dialIPC(ctx, path)
}
