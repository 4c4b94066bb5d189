// Package engine wires the clipboard watcher and the peer link together.
//
// Three duties run concurrently for the life of the process: the
// connection manager, the local watcher forwarding changes to the peer,
// and the receive loop applying the peer's values locally. They share one
// syncstate.State so a value applied from the peer is never echoed back.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipsync/internal/clip"
	"go.klb.dev/clipsync/internal/localpeer"
	"go.klb.dev/clipsync/internal/syncstate"
	"go.klb.dev/clipsync/internal/tcppeer"
	"go.klb.dev/clipsync/internal/wire"
)

// Config bundles the settings of every duty.
type Config struct {
	Peer  tcppeer.Config
	Watch localpeer.Config

	// ResyncOnConnect sends the last known value to every newly connected
	// peer. Off by default: a fresh peer only sees changes made after it
	// connected.
	ResyncOnConnect bool
}

// Stats counts traffic since start.
type Stats struct {
	Sent         uint64    `json:"sent"`
	Received     uint64    `json:"received"`
	Applied      uint64    `json:"applied"`
	Dropped      uint64    `json:"dropped"`
	Malformed    uint64    `json:"malformed"`
	LastSent     time.Time `json:"last_sent,omitzero"`
	LastReceived time.Time `json:"last_received,omitzero"`
}

// Status is the engine snapshot served to local observers.
type Status struct {
	Link      tcppeer.Status `json:"link"`
	Clipboard string         `json:"clipboard"`
	Stats     Stats          `json:"stats"`
}

// Engine runs one side of a clipboard sync.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	backend clip.Backend
	state   *syncstate.State
	watcher *localpeer.Watcher
	mgr     *tcppeer.Manager

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool

	sent, received, applied, dropped, malformed atomic.Uint64
	lastSent, lastReceived                      atomic.Int64
}

// New validates cfg and builds an Engine over backend. log may be nil.
func New(cfg Config, backend clip.Backend, log *slog.Logger) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("engine: nil clipboard backend")
	}
	if err := cfg.Peer.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:     cfg,
		log:     log,
		backend: backend,
		state:   &syncstate.State{},
	}
	e.watcher = localpeer.New(backend, e.state, cfg.Watch, log)
	e.mgr = tcppeer.New(cfg.Peer, log, e.onMalformed)
	return e, nil
}

// Manager exposes the connection manager, mainly for state listeners.
func (e *Engine) Manager() *tcppeer.Manager { return e.mgr }

// Run blocks until ctx is cancelled or Stop is called, returning nil in
// both cases. It returns an error only when a duty fails for good, such as
// the dialer exhausting its attempts.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.cancel = cancel
	e.mu.Unlock()

	e.log.Info("clipsync starting",
		"role", e.cfg.Peer.Role.String(),
		"addr", e.cfg.Peer.Addr(),
		"clipboard", e.backend.Name(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Without a link manager the other duties have nothing to do.
		defer cancel()
		return e.mgr.Run(gctx)
	})
	g.Go(func() error {
		return e.watcher.Run(gctx, e.send)
	})
	g.Go(func() error {
		return e.receive(gctx)
	})
	err := g.Wait()
	e.mgr.Stop()
	e.log.Info("clipsync stopped")
	return err
}

// Stop asks Run to return. It is safe to call from any goroutine, more than
// once, and before Run.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	e.mgr.Stop()
	if cancel != nil {
		cancel()
	}
}

// Status returns a snapshot for observers.
func (e *Engine) Status() Status {
	return Status{
		Link:      e.mgr.Status(),
		Clipboard: e.backend.Name(),
		Stats:     e.Stats(),
	}
}

// Stats returns the traffic counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Sent:         e.sent.Load(),
		Received:     e.received.Load(),
		Applied:      e.applied.Load(),
		Dropped:      e.dropped.Load(),
		Malformed:    e.malformed.Load(),
		LastSent:     unixNano(e.lastSent.Load()),
		LastReceived: unixNano(e.lastReceived.Load()),
	}
}

// send forwards a local change. With no peer connected the change is
// dropped, not queued.
func (e *Engine) send(text string) {
	err := e.mgr.Send(text)
	switch {
	case err == nil:
		e.sent.Add(1)
		e.lastSent.Store(time.Now().UnixNano())
		logText(e.log, "clipboard sent", text)
	case errors.Is(err, tcppeer.ErrNotConnected):
		e.dropped.Add(1)
		e.log.Debug("no peer connected, local change not sent", "len", len(text))
	default:
		e.dropped.Add(1)
		e.log.Warn("send failed", "err", err)
	}
}

// receive reads frames from whichever link is live and applies them to the
// local clipboard.
func (e *Engine) receive(ctx context.Context) error {
	var gen uint64
	for {
		link, err := e.mgr.Wait(ctx)
		if err != nil {
			if errors.Is(err, tcppeer.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if link.Gen() != gen {
			gen = link.Gen()
			e.onConnect(link)
		}

		texts, err := link.ReadTexts(e.mgr.Config().ReadTimeout)
		for _, text := range texts {
			e.deliver(text)
		}
		if err == nil || wire.IsTimeout(err) {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		e.mgr.ReportLoss(link, err)
	}
}

func (e *Engine) deliver(text string) {
	e.received.Add(1)
	e.lastReceived.Store(time.Now().UnixNano())
	applied, err := e.watcher.Apply(text)
	if err != nil {
		// Logged by the watcher; the link stays up.
		return
	}
	if applied {
		e.applied.Add(1)
		logText(e.log, "clipboard received", text)
	}
}

func (e *Engine) onConnect(link tcppeer.Link) {
	if !e.cfg.ResyncOnConnect {
		return
	}
	last := e.watcher.Last()
	if last == "" {
		return
	}
	e.log.Debug("resyncing new peer", "peer", link.Peer())
	e.send(last)
}

func (e *Engine) onMalformed(err *wire.FrameDecodeError) {
	e.malformed.Add(1)
	e.log.Warn("discarding malformed frame", "err", err)
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
