package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const maxLineBytes = 4 << 20

// NDJSONReader decodes a newline-delimited capture of runtime messages.
// It has the same Recv/Close shape as an eino stream reader so recorded
// sessions can be replayed through the interpreter.
type NDJSONReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	pending []Event
	line    int
}

func NewNDJSONReader(r io.Reader) *NDJSONReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	out := &NDJSONReader{scanner: sc}
	if c, ok := r.(io.Closer); ok {
		out.closer = c
	}
	return out
}

// Recv returns the next event, or io.EOF once the input is exhausted.
// Blank lines are skipped.
func (r *NDJSONReader) Recv() (Event, error) {
	for len(r.pending) == 0 {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		r.line++
		raw := bytes.TrimSpace(r.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		events, err := Decode(append([]byte(nil), raw...))
		if err != nil {
			return nil, &LineError{Line: r.line, Err: err}
		}
		r.pending = events
	}
	ev := r.pending[0]
	r.pending = r.pending[1:]
	return ev, nil
}

func (r *NDJSONReader) Close() {
	if r.closer != nil {
		_ = r.closer.Close()
	}
}

// LineError locates a decode failure inside an NDJSON capture.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }
