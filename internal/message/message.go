// Package message defines the clipsync wire envelope.
//
// Every message is a single JSON object terminated by a newline:
//
//	{"text":"..."}\n
//
// The only key a receiver acts on is "text". Liveness probes are sent as
// {"type":"ping"}; they carry no text and every receiver, including peers
// that know nothing about probes, drops them as empty values.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// TypePing marks a liveness probe envelope.
const TypePing = "ping"

// ErrNotObject is returned by Decode for lines that are valid JSON but not an object.
var ErrNotObject = errors.New("envelope is not a JSON object")

// Envelope is the top-level wire message.
type Envelope struct {
	Text string `json:"text,omitempty"`
	Type string `json:"type,omitempty"`
}

// Text returns an envelope carrying a clipboard value.
func Text(s string) Envelope { return Envelope{Text: s} }

// Ping returns a liveness probe envelope.
func Ping() Envelope { return Envelope{Type: TypePing} }

// IsPing reports whether e is a liveness probe.
func (e Envelope) IsPing() bool { return e.Type == TypePing }

// Encode serialises the envelope to JSON without a trailing newline.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses one line (without its newline) into an Envelope.
// A "text" key holding anything other than a string is an error.
func Decode(b []byte) (Envelope, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return Envelope{}, ErrNotObject
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("message decode: %w", err)
	}
	return e, nil
}

// Preview shortens s for log output.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
