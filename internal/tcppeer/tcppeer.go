// Package tcppeer owns the single TCP link to the remote peer.
//
// A Manager runs in one of two roles. A listener binds once and accepts
// one peer at a time; a dialer connects and retries until it succeeds.
// Either way the live connection is published to the send and receive
// duties through Wait and Send, probed for liveness while it lasts, and
// torn down and replaced when any party reports it lost.
package tcppeer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipsync/internal/wire"
)

var (
	// ErrClosed is returned once the Manager has been stopped.
	ErrClosed = errors.New("connection manager closed")
	// ErrNotConnected is returned by Send when no link is live.
	ErrNotConnected = errors.New("not connected")
	// ErrGaveUp is returned by Run when MaxAttempts consecutive attempts failed.
	ErrGaveUp = errors.New("gave up connecting")

	errIdle = errors.New("peer silent past idle timeout")
)

// State is a step in the link lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateDialing   State = "dialing"
	StateConnected State = "connected"
	StateLost      State = "lost"
	StateClosing   State = "closing"
)

// StateListener is notified of every state transition, in order, from the
// goroutine running the Manager. It must not block.
type StateListener interface {
	OnStateChange(state State, peer string)
}

// session is one accepted or dialed connection.
type session struct {
	conn *wire.Conn
	gen  uint64

	once sync.Once
	done chan struct{}
	err  error
}

func (s *session) lost() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Link is a borrowed reference to the live connection. Holders must not
// keep it after reporting it lost.
type Link struct {
	s *session
}

// Gen identifies the connection; it increases with every new link.
func (l Link) Gen() uint64 { return l.s.gen }

// Peer returns the remote address.
func (l Link) Peer() string { return l.s.conn.RemoteAddr() }

// ReadTexts reads once from the link. See wire.Conn.ReadTexts.
func (l Link) ReadTexts(timeout time.Duration) ([]string, error) {
	return l.s.conn.ReadTexts(timeout)
}

// Lost is closed once the link has been reported lost or dropped.
func (l Link) Lost() <-chan struct{} { return l.s.done }

// Status is a snapshot for observers.
type Status struct {
	Role        string    `json:"role"`
	Addr        string    `json:"addr"`
	State       State     `json:"state"`
	Peer        string    `json:"peer,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	Connections uint64    `json:"connections"`
	LastError   string    `json:"last_error,omitempty"`
}

// Manager owns the connection lifecycle for one role.
type Manager struct {
	cfg         Config
	log         *slog.Logger
	onMalformed func(*wire.FrameDecodeError)

	// writeMu serialises frames and probes on the live connection.
	writeMu sync.Mutex

	mu          sync.Mutex
	cur         *session
	gen         uint64
	state       State
	peer        string
	connectedAt time.Time
	lastErr     string
	changed     chan struct{} // closed and replaced on every handle change
	ln          net.Listener
	cancel      context.CancelFunc
	running     bool
	closed      bool
	listener    StateListener

	connections atomic.Uint64
}

// New returns a Manager for cfg. onMalformed, if non-nil, receives every
// frame the decoder discards. log may be nil.
func New(cfg Config, log *slog.Logger, onMalformed func(*wire.FrameDecodeError)) *Manager {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:         cfg,
		log:         log.With("role", cfg.Role.String()),
		onMalformed: onMalformed,
		state:       StateIdle,
		changed:     make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// SetStateListener registers l for state transitions. Only one listener is
// supported; calling again replaces it.
func (m *Manager) SetStateListener(l StateListener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

// ListenAddr returns the bound address of a listener, or nil before bind.
func (m *Manager) ListenAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// Status returns a snapshot of the link.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Role:        m.cfg.Role.String(),
		Addr:        m.cfg.Addr(),
		State:       m.state,
		Peer:        m.peer,
		ConnectedAt: m.connectedAt,
		Connections: m.connections.Load(),
		LastError:   m.lastErr,
	}
}

// Run drives the connect/accept loop until ctx is cancelled or Stop is
// called, and returns nil in both cases. It returns ErrGaveUp when
// MaxAttempts is exhausted.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if m.running {
		m.mu.Unlock()
		return errors.New("connection manager already running")
	}
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	defer m.shutdown()

	var err error
	switch m.cfg.Role {
	case RoleListener:
		err = m.runListener(ctx)
	case RoleDialer:
		err = m.runDialer(ctx)
	default:
		err = fmt.Errorf("unknown role %v", m.cfg.Role)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop closes the live connection and the listener, wakes every Wait, and
// makes Run return. It is safe to call more than once and from any goroutine.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel, ln, cur := m.cancel, m.ln, m.cur
	m.broadcastLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
	if cur != nil {
		cur.fail(ErrClosed)
		_ = cur.conn.Close()
	}
}

// Wait blocks until a link is live and returns it. A link already reported
// lost is skipped until its replacement is published. It returns ErrClosed
// after Stop, or ctx.Err() if ctx ends first.
func (m *Manager) Wait(ctx context.Context) (Link, error) {
	for {
		m.mu.Lock()
		if m.cur != nil && !m.cur.lost() {
			l := Link{s: m.cur}
			m.mu.Unlock()
			return l, nil
		}
		if m.closed {
			m.mu.Unlock()
			return Link{}, ErrClosed
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Link{}, ctx.Err()
		}
	}
}

// Current returns the live link, if any, without blocking.
func (m *Manager) Current() (Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || m.cur.lost() {
		return Link{}, false
	}
	return Link{s: m.cur}, true
}

// Send writes one clipboard frame to the live link. With no link it
// returns ErrNotConnected and nothing is queued. A failed write marks the
// link lost and returns the *wire.ConnectionError.
func (m *Manager) Send(text string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s == nil || s.lost() {
		return ErrNotConnected
	}
	if err := s.conn.WriteText(text, m.cfg.WriteTimeout); err != nil {
		m.ReportLoss(Link{s: s}, err)
		return err
	}
	return nil
}

// ReportLoss marks l lost. Reports about a link that has already been
// replaced are ignored, so a stale failure never drops a newer connection.
func (m *Manager) ReportLoss(l Link, err error) {
	if l.s == nil || l.s.lost() {
		return
	}
	m.mu.Lock()
	current := m.cur == l.s
	m.mu.Unlock()
	if current {
		m.log.Warn("connection lost", "peer", l.Peer(), "err", err)
	}
	l.s.fail(err)
}

func (m *Manager) runListener(ctx context.Context) error {
	for {
		ln, err := m.listen(ctx)
		if err != nil {
			return err
		}
		err = m.acceptLoop(ctx, ln)
		_ = ln.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("listener closed unexpectedly, rebinding", "addr", m.cfg.Addr(), "err", err)
	}
}

// listen binds the listening socket, retrying after RetryDelay. Go sets
// SO_REUSEADDR on listening sockets, so a quick restart can rebind.
func (m *Manager) listen(ctx context.Context) (net.Listener, error) {
	addr := m.cfg.Addr()
	for failures := 0; ; {
		m.setState(StateListening, "")
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				_ = ln.Close()
				return nil, ErrClosed
			}
			m.ln = ln
			m.mu.Unlock()
			m.log.Info("listening", "addr", ln.Addr())
			return ln, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cerr := &wire.ConnectionError{Op: "listen", Addr: addr, Err: err}
		failures++
		if err := m.giveUp(failures, cerr); err != nil {
			return nil, err
		}
		m.log.Warn("bind failed", "err", cerr, "retry_in", m.cfg.RetryDelay)
		if !sleep(ctx, m.cfg.RetryDelay) {
			return nil, ctx.Err()
		}
	}
}

// acceptLoop accepts one peer at a time. It returns nil when ctx ends and
// the accept error if the listener itself is gone.
func (m *Manager) acceptLoop(ctx context.Context, ln net.Listener) error {
	type deadliner interface{ SetDeadline(time.Time) error }

	for ctx.Err() == nil {
		m.setState(StateListening, "")
		if d, ok := ln.(deadliner); ok {
			_ = d.SetDeadline(time.Now().Add(m.cfg.AcceptTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if wire.IsTimeout(err) {
				continue
			}
			cerr := &wire.ConnectionError{Op: "accept", Addr: m.cfg.Addr(), Err: err}
			m.recordErr(cerr)
			if errors.Is(err, net.ErrClosed) {
				return cerr
			}
			m.log.Warn("accept failed", "err", cerr, "retry_in", m.cfg.RetryDelay)
			if !sleep(ctx, m.cfg.RetryDelay) {
				return nil
			}
			continue
		}
		m.serve(ctx, conn)
	}
	return nil
}

func (m *Manager) runDialer(ctx context.Context) error {
	addr := m.cfg.Addr()
	dialer := net.Dialer{Timeout: m.cfg.DialTimeout}

	for failures := 0; ctx.Err() == nil; {
		m.setState(StateDialing, addr)
		m.log.Info("connecting", "addr", addr)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cerr := &wire.ConnectionError{Op: "dial", Addr: addr, Err: err}
			m.recordErr(cerr)
			failures++
			if err := m.giveUp(failures, cerr); err != nil {
				return err
			}
			m.log.Warn("connection failed", "err", cerr, "retry_in", m.cfg.RetryDelay)
			if !sleep(ctx, m.cfg.RetryDelay) {
				return nil
			}
			continue
		}
		failures = 0

		started := time.Now()
		m.serve(ctx, conn)
		// A peer that accepts and hangs up at once would otherwise spin us.
		if lived := time.Since(started); lived < m.cfg.RetryDelay {
			if !sleep(ctx, m.cfg.RetryDelay-lived) {
				return nil
			}
		}
	}
	return nil
}

func (m *Manager) giveUp(failures int, err error) error {
	if m.cfg.MaxAttempts > 0 && failures >= m.cfg.MaxAttempts {
		m.log.Error("giving up", "attempts", failures, "err", err)
		return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, failures, err)
	}
	return nil
}

// serve publishes conn, supervises it until it is lost or ctx ends, and
// then drops it.
func (m *Manager) serve(ctx context.Context, conn net.Conn) {
	s, ok := m.publish(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	peer := s.conn.RemoteAddr()
	m.log.Info("connected", "peer", peer)
	m.setState(StateConnected, peer)

	err := m.supervise(ctx, s)
	m.drop(s, err)
}

func (m *Manager) publish(conn net.Conn) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false
	}
	m.gen++
	s := &session{
		conn: wire.New(conn, m.onMalformed),
		gen:  m.gen,
		done: make(chan struct{}),
	}
	m.cur = s
	m.connectedAt = time.Now()
	m.connections.Add(1)
	m.broadcastLocked()
	return s, true
}

// supervise probes the link every ProbeInterval and returns the reason it
// ended.
func (m *Manager) supervise(ctx context.Context, s *session) error {
	t := time.NewTicker(m.cfg.ProbeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ErrClosed
		case <-s.done:
			return s.err
		case <-t.C:
			if err := m.probe(s); err != nil {
				return err
			}
			if m.cfg.IdleTimeout > 0 {
				if silent := time.Since(s.conn.LastRead()); silent > m.cfg.IdleTimeout {
					m.log.Warn("peer silent too long, closing", "peer", s.conn.RemoteAddr(), "silent_for", silent.Round(time.Millisecond))
					return errIdle
				}
			}
		}
	}
}

func (m *Manager) probe(s *session) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := s.conn.WriteProbe(m.cfg.WriteTimeout); err != nil {
		m.log.Warn("liveness probe failed", "peer", s.conn.RemoteAddr(), "err", err)
		return err
	}
	return nil
}

func (m *Manager) drop(s *session, reason error) {
	s.fail(reason)
	_ = s.conn.Close()

	m.mu.Lock()
	if m.cur == s {
		m.cur = nil
		m.connectedAt = time.Time{}
		m.broadcastLocked()
	}
	closed := m.closed
	m.mu.Unlock()

	if closed || errors.Is(reason, ErrClosed) {
		return
	}
	m.recordErr(reason)
	m.log.Info("disconnected, reconnecting", "peer", s.conn.RemoteAddr(), "err", reason)
	m.setState(StateLost, s.conn.RemoteAddr())
	m.setState(StateIdle, "")
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	m.closed = true
	cur, ln := m.cur, m.ln
	m.cur, m.ln = nil, nil
	m.broadcastLocked()
	m.mu.Unlock()

	m.setState(StateClosing, "")
	if cur != nil {
		cur.fail(ErrClosed)
		_ = cur.conn.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	m.setState(StateIdle, "")
	m.log.Info("connection manager stopped")
}

func (m *Manager) setState(st State, peer string) {
	m.mu.Lock()
	if m.state == st && m.peer == peer {
		m.mu.Unlock()
		return
	}
	m.state = st
	m.peer = peer
	l := m.listener
	m.mu.Unlock()

	m.log.Debug("link state", "state", st, "peer", peer)
	if l != nil {
		l.OnStateChange(st, peer)
	}
}

func (m *Manager) recordErr(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

// broadcastLocked wakes every Wait. Must be called with m.mu held.
func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// sleep waits for d or until ctx ends; it reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
