// Package clip provides text access to the system clipboard.
//
//	native.go    golang.design/x/clipboard (macOS, Windows, X11)
//	command.go   pbcopy/pbpaste, wl-copy/wl-paste, xclip, xsel, PowerShell
//	memory.go    in-process value (relay mode, tests)
//	headless.go  no-op fallback when nothing else works
package clip

import (
	"fmt"
	"log/slog"
	"strings"
)

// Backend is the clipboard primitive the sync engine needs. Both calls are
// synchronous and expected to return quickly.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard text, "" when empty or non-text.
	Read() (string, error)

	// Write replaces the clipboard text.
	Write(text string) error

	// Close releases any resources held by the backend.
	Close()
}

// ClipboardError reports a failed clipboard read or write. It is
// recoverable: callers log it and retry later.
type ClipboardError struct {
	Op      string // "read" or "write"
	Backend string
	Err     error
}

func (e *ClipboardError) Error() string {
	return fmt.Sprintf("clipboard %s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *ClipboardError) Unwrap() error { return e.Err }

// Kind selects a backend implementation.
type Kind string

const (
	KindAuto    Kind = "auto"
	KindNative  Kind = "native"
	KindCommand Kind = "command"
	KindMemory  Kind = "memory"
)

// ParseKind converts a flag value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindAuto:
		return KindAuto, nil
	case KindNative, KindCommand, KindMemory:
		return k, nil
	default:
		return "", fmt.Errorf("unknown clipboard backend %q (want auto|native|command|memory)", s)
	}
}

// New returns a backend of the requested kind. KindAuto tries the native
// backend, then the command-line tools, and finally falls back to a
// headless no-op backend so the process can still relay.
func New(kind Kind) (Backend, error) {
	switch kind {
	case KindMemory:
		return NewMemory(""), nil
	case KindNative:
		return newNative()
	case KindCommand:
		return NewCommand()
	}

	b, err := newNative()
	if err == nil {
		return b, nil
	}
	slog.Debug("native clipboard unavailable", "err", err)

	cb, cerr := NewCommand()
	if cerr == nil {
		return cb, nil
	}
	slog.Warn("clipboard unavailable, running headless", "native_err", err, "command_err", cerr)
	return headless{}, nil
}
