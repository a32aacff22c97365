// Package stream decodes the line-framed event stream returned for text chat.
package stream

import (
	"bytes"
	"log/slog"
	"strings"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// Delta is one piece of assistant text.
type Delta struct {
	Text    string
	Payload Payload
}

// Decoder turns arbitrarily split chunks into deltas. Only text followed by
// a newline is resolved; the tail is kept for the next Feed. After the
// [DONE] sentinel everything is ignored.
type Decoder struct {
	fields []string
	buf    []byte
	done   bool
	lines  int
}

// NewDecoder creates a decoder probing fields in order, or DefaultFields.
func NewDecoder(fields ...string) *Decoder {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	return &Decoder{fields: fields}
}

// Feed appends chunk and returns the deltas of every completed line.
func (d *Decoder) Feed(chunk []byte) []Delta {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var out []Delta
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]
		if delta, ok := d.line(line); ok {
			out = append(out, delta)
		}
	}
	if d.done {
		d.buf = nil
	} else if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Finish resolves a final unterminated line at end of body.
func (d *Decoder) Finish() []Delta {
	if d.done || len(d.buf) == 0 {
		d.done = true
		d.buf = nil
		return nil
	}
	line := string(d.buf)
	d.buf = nil

	delta, ok := d.line(line)
	d.done = true
	if !ok {
		return nil
	}
	return []Delta{delta}
}

// Done reports whether the stream has terminated.
func (d *Decoder) Done() bool { return d.done }

// Pending returns the number of unresolved tail bytes.
func (d *Decoder) Pending() int { return len(d.buf) }

func (d *Decoder) line(line string) (Delta, bool) {
	d.lines++
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return Delta{}, false
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneMarker {
		d.done = true
		return Delta{}, false
	}
	if payload == "" {
		return Delta{}, false
	}

	p := Parse(payload, d.fields)
	if _, raw := p.(RawText); raw && strings.HasPrefix(payload, "{") {
		slog.Debug("malformed stream payload, using raw text", "line", d.lines)
	}
	if p.Text() == "" {
		return Delta{}, false
	}
	return Delta{Text: p.Text(), Payload: p}, true
}
