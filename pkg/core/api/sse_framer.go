// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"errors"
)

// DefaultMaxRecordBuffer bounds how many bytes the framer will hold while
// waiting for a line terminator.
const DefaultMaxRecordBuffer = 1 << 20 // 1 MiB

// ErrRecordBufferExceeded is returned when the upstream sends an unterminated
// line larger than the framer's buffer bound.
var ErrRecordBufferExceeded = errors.New("sse framer: buffered record exceeds limit")

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// SSEFramer splits an upstream byte stream into the value portions of
// complete "data:" lines, independent of how the bytes are chunked. Lines
// that are not data lines (comments, "event:", "id:", blank separators) are
// discarded. The "[DONE]" sentinel closes the framer; input after that is
// ignored.
type SSEFramer struct {
	buf    []byte
	closed bool
	max    int
}

// NewSSEFramer creates a framer with the default buffer bound.
func NewSSEFramer() *SSEFramer {
	return &SSEFramer{max: DefaultMaxRecordBuffer}
}

// NewSSEFramerSize creates a framer with an explicit buffer bound.
func NewSSEFramerSize(maxBuffer int) *SSEFramer {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxRecordBuffer
	}
	return &SSEFramer{max: maxBuffer}
}

// Closed reports whether the terminal sentinel has been seen.
func (f *SSEFramer) Closed() bool {
	return f.closed
}

// Feed appends a chunk and returns every complete record it unlocked.
// Returned slices are copies and remain valid after subsequent calls.
func (f *SSEFramer) Feed(chunk []byte) ([][]byte, error) {
	if f.closed {
		return nil, nil
	}

	f.buf = append(f.buf, chunk...)

	var records [][]byte
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := f.buf[:i]
		f.buf = f.buf[i+1:]

		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		value := line[len(dataPrefix):]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		if bytes.Equal(value, doneSentinel) {
			f.closed = true
			f.buf = nil
			return records, nil
		}
		records = append(records, append([]byte(nil), value...))
	}

	if len(f.buf) > f.max {
		return records, ErrRecordBufferExceeded
	}
	return records, nil
}
