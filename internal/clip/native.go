//go:build linux || darwin || windows

package clip

import (
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

type nativeBackend struct {
	mu sync.Mutex
}

// newNative initialises golang.design/x/clipboard. Init is deferred to here
// so that sub-commands which never touch the clipboard (status, version)
// don't trip over a missing display.
func newNative() (Backend, error) {
	if err := clipboard.Init(); err != nil {
		return nil, fmt.Errorf("native clipboard: %w", err)
	}
	return &nativeBackend{}, nil
}

func (b *nativeBackend) Name() string { return "native" }

func (b *nativeBackend) Read() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (b *nativeBackend) Write(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

func (b *nativeBackend) Close() {}
