package localpeer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipsync/internal/clip"
	"go.klb.dev/clipsync/internal/syncstate"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type flakyBackend struct {
	*clip.Memory
	fail  atomic.Int32 // number of reads left to fail
	reads atomic.Int32
}

func (b *flakyBackend) Read() (string, error) {
	b.reads.Add(1)
	if b.fail.Load() > 0 {
		b.fail.Add(-1)
		return "", &clip.ClipboardError{Op: "read", Backend: "flaky", Err: errors.New("busy")}
	}
	return b.Memory.Read()
}

type emitted struct {
	mu   sync.Mutex
	vals []string
}

func (e *emitted) add(v string) {
	e.mu.Lock()
	e.vals = append(e.vals, v)
	e.mu.Unlock()
}

func (e *emitted) get() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.vals...)
}

func start(t *testing.T, b clip.Backend, state *syncstate.State) (*Watcher, *emitted, func()) {
	t.Helper()
	w := New(b, state, Config{PollInterval: 5 * time.Millisecond, ClipboardBackoff: 10 * time.Millisecond}, quiet)
	out := &emitted{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, out.add) }()
	return w, out, func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("watcher did not stop")
		}
	}
}

func TestWatcherEmitsChanges(t *testing.T) {
	mem := clip.NewMemory("")
	_, out, stop := start(t, mem, &syncstate.State{})
	defer stop()

	mem.Set("one")
	require.Eventually(t, func() bool { return len(out.get()) == 1 }, time.Second, 5*time.Millisecond)
	mem.Set("two")
	require.Eventually(t, func() bool { return len(out.get()) == 2 }, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, out.get())
}

func TestWatcherNeverEmitsEmpty(t *testing.T) {
	mem := clip.NewMemory("")
	_, out, stop := start(t, mem, &syncstate.State{})
	time.Sleep(40 * time.Millisecond)
	stop()
	assert.Empty(t, out.get())
}

func TestWatcherSurvivesReadErrors(t *testing.T) {
	b := &flakyBackend{Memory: clip.NewMemory("after errors")}
	b.fail.Store(3)
	_, out, stop := start(t, b, &syncstate.State{})
	defer stop()

	require.Eventually(t, func() bool { return len(out.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"after errors"}, out.get())
	assert.GreaterOrEqual(t, b.reads.Load(), int32(4))
}

func TestAppliedValueIsNotEchoed(t *testing.T) {
	mem := clip.NewMemory("")
	w, out, stop := start(t, mem, &syncstate.State{})
	defer stop()

	applied, err := w.Apply("from peer")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "from peer", mem.Get())

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, out.get())

	applied, err = w.Apply("from peer")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, mem.Writes())
}

type readOnly struct{ *clip.Memory }

func (readOnly) Write(string) error {
	return &clip.ClipboardError{Op: "write", Backend: "ro", Err: errors.New("denied")}
}

func TestApplyWriteError(t *testing.T) {
	w := New(readOnly{clip.NewMemory("")}, &syncstate.State{}, Config{}, quiet)

	applied, err := w.Apply("x")
	var ce *clip.ClipboardError
	require.ErrorAs(t, err, &ce)
	assert.False(t, applied)
	assert.Empty(t, w.Last())
}
