package syncstate

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reader(v string) func() (string, error) {
	return func() (string, error) { return v, nil }
}

func TestObserve(t *testing.T) {
	var s State

	_, changed, err := s.Observe(reader(""))
	require.NoError(t, err)
	assert.False(t, changed, "empty value must never propagate")

	v, changed, err := s.Observe(reader("a"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "a", v)

	_, changed, _ = s.Observe(reader("a"))
	assert.False(t, changed, "same value twice")
	assert.Equal(t, "a", s.Last())
}

func TestObserveReadError(t *testing.T) {
	var s State
	boom := errors.New("boom")

	_, changed, err := s.Observe(func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, changed)
	assert.Empty(t, s.Last())
}

func TestApply(t *testing.T) {
	var s State
	var written []string
	write := func(v string) error { written = append(written, v); return nil }

	ok, err := s.Apply("remote", write)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.Apply("remote", write)
	assert.False(t, ok)
	ok, _ = s.Apply("", write)
	assert.False(t, ok)

	assert.Equal(t, []string{"remote"}, written)

	// The watcher must not treat the applied value as a local change.
	_, changed, _ := s.Observe(reader("remote"))
	assert.False(t, changed)
}

func TestApplyWriteErrorKeepsLast(t *testing.T) {
	var s State
	_, _, _ = s.Observe(reader("local"))

	ok, err := s.Apply("remote", func(string) error { return errors.New("no display") })
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, "local", s.Last())
}

// TestConcurrentObserveApply interleaves local changes and remote receives
// for distinct values. Every value must be accepted exactly once and the
// final state must be one of the values actually processed.
func TestConcurrentObserveApply(t *testing.T) {
	var (
		s         State
		clipMu    sync.Mutex
		clipboard string
		wg        sync.WaitGroup
	)
	read := func() (string, error) {
		clipMu.Lock()
		defer clipMu.Unlock()
		return clipboard, nil
	}
	write := func(v string) error {
		clipMu.Lock()
		clipboard = v
		clipMu.Unlock()
		return nil
	}

	const n = 500
	var (
		acceptedMu sync.Mutex
		accepted   = map[string]int{}
	)
	record := func(v string) {
		acceptedMu.Lock()
		accepted[v]++
		acceptedMu.Unlock()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			v := fmt.Sprintf("local-%d", i)
			_ = write(v)
			if got, changed, _ := s.Observe(read); changed {
				record(got)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			v := fmt.Sprintf("remote-%d", i)
			if ok, _ := s.Apply(v, write); ok {
				record(v)
			}
		}
	}()
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, 1, accepted[fmt.Sprintf("remote-%d", i)], "remote-%d", i)
	}
	for v, count := range accepted {
		assert.Equal(t, 1, count, "%s accepted more than once", v)
	}

	last := s.Last()
	assert.Contains(t, accepted, last)
	got, _ := read()
	_, changed, _ := s.Observe(read)
	assert.Equal(t, got != last, changed)
}
