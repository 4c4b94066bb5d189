// Package localpeer owns this host's side of the sync: it polls the local
// clipboard for changes and applies values received from the remote peer.
package localpeer

import (
	"context"
	"log/slog"
	"time"

	"go.klb.dev/clipsync/internal/clip"
	"go.klb.dev/clipsync/internal/syncstate"
)

const (
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultClipboardBackoff = time.Second
)

// Config tunes the polling loop. Zero values take the defaults.
type Config struct {
	PollInterval     time.Duration
	ClipboardBackoff time.Duration
}

// Watcher polls a clip.Backend and applies remote values to it, sharing one
// syncstate.State between both directions.
type Watcher struct {
	backend  clip.Backend
	state    *syncstate.State
	interval time.Duration
	backoff  time.Duration
	log      *slog.Logger
}

// New creates a Watcher but does not start it.
func New(backend clip.Backend, state *syncstate.State, cfg Config, log *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ClipboardBackoff <= 0 {
		cfg.ClipboardBackoff = DefaultClipboardBackoff
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		backend:  backend,
		state:    state,
		interval: cfg.PollInterval,
		backoff:  cfg.ClipboardBackoff,
		log:      log.With("backend", backend.Name()),
	}
}

// Run polls until ctx is cancelled, calling emit for every new non-empty
// local value. emit runs on the polling goroutine.
func (w *Watcher) Run(ctx context.Context, emit func(string)) error {
	w.log.Info("watching local clipboard", "interval", w.interval)

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		text, changed, err := w.state.Observe(w.backend.Read)
		if err != nil {
			w.log.Error("local clipboard read failed", "err", err, "retry_in", w.backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}
		if !changed {
			continue
		}
		w.log.Debug("local clipboard changed", "len", len(text))
		emit(text)
	}
}

// Apply writes a value received from the peer to the local clipboard unless
// it is empty or already the last seen value.
func (w *Watcher) Apply(text string) (bool, error) {
	applied, err := w.state.Apply(text, w.backend.Write)
	if err != nil {
		w.log.Error("local clipboard write failed", "err", err)
		return false, err
	}
	if applied {
		w.log.Debug("local clipboard updated", "len", len(text))
	}
	return applied, nil
}

// Last returns the last value seen in either direction.
func (w *Watcher) Last() string { return w.state.Last() }
