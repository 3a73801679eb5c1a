// Package envelope defines the single-line JSON form used when event headers
// travel alongside the body:
//
//	{"headers":{"timestamp":"1468026061001"},"body":"amigo-www\t128\tnmlgodataplat03"}
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalid marks a line that could not be decoded as an envelope.
var ErrInvalid = errors.New("invalid envelope")

// Envelope carries one event.
type Envelope struct {
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// Decode parses a single envelope line.
func Decode(line []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &env, nil
}

// Encode renders body and headers as one line without a trailing newline.
func Encode(body []byte, headers map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Envelope{Headers: headers, Body: string(body)}); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
