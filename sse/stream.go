package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const defaultReadSize = 4096

// Handler receives parsed events in wire order. Returning an error stops the
// stream and propagates to the Stream caller.
type Handler func(Event) error

// Options configure stream decoding.
type Options struct {
	// FlushTrailing parses a final unterminated line at stream end instead
	// of discarding it. Off by default: the server terminates every record
	// with a newline. Enable when the server may omit the last terminator,
	// or a terminal event arriving without one would be lost.
	FlushTrailing bool

	// ReadSize is the per-read chunk buffer size. Zero means a default.
	ReadSize int
}

// Stream reads body to completion, decoding records and dispatching each
// parsed event to handle. There is a single suspend point per read; every
// line decoded from a chunk is processed before the next read is issued.
// Cancellation is observed between reads, never mid-batch.
//
// Per-record parse failures go to onErr when it is non-nil and the stream
// continues; with a nil onErr the first parse failure aborts the stream and
// propagates. A consumer must pick one of the two behaviors explicitly.
func Stream(ctx context.Context, body io.Reader, opts Options, handle Handler, onErr func(error)) error {
	if body == nil {
		return ErrNoBody
	}

	size := opts.ReadSize
	if size <= 0 {
		size = defaultReadSize
	}

	var dec LineDecoder
	buf := make([]byte, size)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := body.Read(buf)
		if n > 0 {
			if derr := dispatch(dec.Write(buf[:n]), handle, onErr); derr != nil {
				return derr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// A cancelled context surfaces as a read error on most
			// transports; report the cancellation, not the read failure.
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("%w: %v", ErrRead, err)
		}
	}

	if opts.FlushTrailing {
		if line, ok := dec.Rest(); ok {
			return dispatch([]string{line}, handle, onErr)
		}
	}
	return nil
}

func dispatch(lines []string, handle Handler, onErr func(error)) error {
	for _, line := range lines {
		ev, ok, err := ParseRecord(line)
		if err != nil {
			if onErr == nil {
				return err
			}
			onErr(err)
			continue
		}
		if !ok {
			continue
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
	return nil
}
