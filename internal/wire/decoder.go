package wire

import (
	"bytes"

	"go.klb.dev/clipsync/internal/message"
)

// Decoder reassembles newline-delimited envelopes from arbitrary chunks.
// The zero value is ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	// OnMalformed, if set, is called for every discarded line.
	OnMalformed func(*FrameDecodeError)

	buf        []byte
	discarding bool // inside an oversized line, skip to the next newline
}

// Feed appends p to the accumulator and returns the text of every complete
// frame, in order. Empty lines, probes and empty texts produce nothing.
func (d *Decoder) Feed(p []byte) []string {
	var out []string
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			d.accumulate(p)
			break
		}
		if d.discarding {
			d.discarding = false
			p = p[i+1:]
			continue
		}
		var line []byte
		if len(d.buf) == 0 {
			line = p[:i]
		} else {
			d.buf = append(d.buf, p[:i]...)
			line = d.buf
		}
		if text, ok := d.decodeLine(line); ok {
			out = append(out, text)
		}
		d.buf = d.buf[:0]
		p = p[i+1:]
	}
	return out
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.discarding = false
}

func (d *Decoder) accumulate(p []byte) {
	if d.discarding {
		return
	}
	if len(d.buf)+len(p) > MaxFrameSize {
		head := d.buf
		if len(head) == 0 {
			head = p
		}
		d.malformed(head[:min(len(head), 64)], ErrFrameTooLarge)
		d.buf = d.buf[:0]
		d.discarding = true
		return
	}
	d.buf = append(d.buf, p...)
}

func (d *Decoder) decodeLine(line []byte) (string, bool) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return "", false
	}
	if len(line) > MaxFrameSize {
		d.malformed(line[:64], ErrFrameTooLarge)
		return "", false
	}
	env, err := message.Decode(line)
	if err != nil {
		d.malformed(line, err)
		return "", false
	}
	if env.Text == "" {
		return "", false
	}
	return env.Text, true
}

func (d *Decoder) malformed(line []byte, err error) {
	if d.OnMalformed == nil {
		return
	}
	d.OnMalformed(&FrameDecodeError{Line: bytes.Clone(line), Err: err})
}
