package wire

import (
	"errors"
	"fmt"
	"os"
)

// ConnectionError reports a failed bind, accept, dial, read or write.
// It is always recoverable: the connection manager drops the link and
// reconnects.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FrameDecodeError reports a line that could not be decoded. The line is
// discarded and decoding continues with the next one.
type FrameDecodeError struct {
	Line []byte
	Err  error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("discarding malformed frame (%d bytes): %v", len(e.Line), e.Err)
}

func (e *FrameDecodeError) Unwrap() error { return e.Err }

// ErrNoConnection is wrapped in a ConnectionError when writing to an absent connection.
var ErrNoConnection = errors.New("no connection")

// ErrFrameTooLarge is wrapped in a FrameDecodeError when a line exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// IsTimeout reports whether err came from an expired read or write deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
