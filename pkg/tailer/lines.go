package tailer

import "bytes"

// lineBuffer reassembles complete lines from arbitrarily split reads.
// It works on bytes so a multi-byte rune cut in half by a read boundary is
// joined back together before decoding.
type lineBuffer struct {
	partial []byte
}

// Feed appends chunk to the carried partial line and returns every line
// terminated by '\n', without the terminator or a trailing '\r'.
func (b *lineBuffer) Feed(chunk []byte) []string {
	data := chunk
	if len(b.partial) > 0 {
		data = append(b.partial, chunk...)
	}

	var lines []string
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(data[:i], []byte{'\r'})))
		data = data[i+1:]
	}

	// Copy so the carried tail never aliases the caller's read buffer.
	b.partial = append(b.partial[:0:0], data...)
	return lines
}

// Reset drops any carried partial line.
func (b *lineBuffer) Reset() {
	b.partial = nil
}

// Len returns the number of buffered bytes awaiting a newline.
func (b *lineBuffer) Len() int {
	return len(b.partial)
}
