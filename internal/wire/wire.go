// Package wire reads and writes newline-delimited JSON envelopes over a
// net.Conn.
//
// Wire format:
//
//	<json>\n
//
// There is no length prefix. Readers reassemble lines across partial reads
// and skip lines that do not decode, so a garbled line never tears down
// the connection.
package wire

import (
	"net"
	"sync/atomic"
	"time"

	"go.klb.dev/clipsync/internal/message"
)

const (
	// MaxFrameSize is the largest line we will buffer (16 MiB).
	MaxFrameSize = 16 * 1024 * 1024

	readBufferSize = 4096
)

// WriteFrame encodes {"text": text}, appends a newline and writes the whole
// buffer to conn under a write deadline of timeout (0 = none).
func WriteFrame(conn net.Conn, text string, timeout time.Duration) error {
	return writeEnvelope(conn, message.Text(text), timeout)
}

func writeEnvelope(conn net.Conn, env message.Envelope, timeout time.Duration) error {
	if conn == nil {
		return &ConnectionError{Op: "write", Err: ErrNoConnection}
	}
	raw, err := env.Encode()
	if err != nil {
		return &ConnectionError{Op: "encode", Err: err}
	}
	line := append(raw, '\n')

	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		defer conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}
	if _, err := conn.Write(line); err != nil {
		return &ConnectionError{Op: "write", Addr: remoteAddr(conn), Err: err}
	}
	return nil
}

// Conn wraps a net.Conn with a frame decoder owned by this connection.
// Partial frames die with the Conn. ReadTexts must only be called from
// one goroutine; writes may come from any goroutine but must be serialised
// by the caller.
type Conn struct {
	conn     net.Conn
	dec      Decoder
	rbuf     []byte
	lastRead atomic.Int64 // UnixNano
}

// New wraps conn. onMalformed may be nil.
func New(conn net.Conn, onMalformed func(*FrameDecodeError)) *Conn {
	c := &Conn{
		conn: conn,
		rbuf: make([]byte, readBufferSize),
	}
	c.dec.OnMalformed = onMalformed
	c.lastRead.Store(time.Now().UnixNano())
	return c
}

// Underlying returns the wrapped net.Conn.
func (c *Conn) Underlying() net.Conn { return c.conn }

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string { return remoteAddr(c.conn) }

// Close closes the underlying connection. Blocked reads and writes return.
func (c *Conn) Close() error { return c.conn.Close() }

// LastRead reports when bytes were last received (or when the Conn was created).
func (c *Conn) LastRead() time.Time { return time.Unix(0, c.lastRead.Load()) }

// WriteText sends one clipboard frame.
func (c *Conn) WriteText(text string, timeout time.Duration) error {
	return WriteFrame(c.conn, text, timeout)
}

// WriteProbe sends one liveness probe frame.
func (c *Conn) WriteProbe(timeout time.Duration) error {
	return writeEnvelope(c.conn, message.Ping(), timeout)
}

// ReadTexts performs a single read bounded by timeout (0 = none) and returns
// every text completed by it. Texts are returned even when err is non-nil.
// A timeout error (see IsTimeout) means the peer was merely quiet.
func (c *Conn) ReadTexts(timeout time.Duration) ([]string, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	n, err := c.conn.Read(c.rbuf)
	var texts []string
	if n > 0 {
		c.lastRead.Store(time.Now().UnixNano())
		texts = c.dec.Feed(c.rbuf[:n])
	}
	if err != nil {
		if IsTimeout(err) {
			return texts, err
		}
		return texts, &ConnectionError{Op: "read", Addr: c.RemoteAddr(), Err: err}
	}
	return texts, nil
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
