// Package sse decodes the line-oriented event stream returned by the agent
// endpoint. A LineDecoder turns raw byte chunks into complete lines, the
// record parser classifies each line and decodes its JSON payload into a
// typed Event, and Stream drives both against an open response body.
package sse

import "bytes"

// LineDecoder splits an incoming byte stream into complete lines. Chunks may
// end anywhere, including in the middle of a multi-byte UTF-8 codepoint; the
// decoder buffers bytes and only cuts at '\n', so a split codepoint is
// reassembled before any line is materialized as text.
type LineDecoder struct {
	buf []byte
}

// Write appends chunk to the rolling buffer and returns every complete line
// now available, in order, without their terminators. Bytes after the last
// terminator stay buffered for the next call.
func (d *LineDecoder) Write(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(d.buf[:i]))
		d.buf = d.buf[i+1:]
	}
	return lines
}

// Rest drains the trailing unterminated fragment, if any. Callers that want
// end-of-stream flush semantics call this once after the final Write.
func (d *LineDecoder) Rest() (string, bool) {
	if len(d.buf) == 0 {
		return "", false
	}
	line := string(d.buf)
	d.buf = nil
	return line, true
}
