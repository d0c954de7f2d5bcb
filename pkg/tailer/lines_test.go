package tailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBufferSplits(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    []string
		partial int
	}{
		{"single line", []string{"a\n"}, []string{"a"}, 0},
		{"two lines one read", []string{"a\nb\n"}, []string{"a", "b"}, 0},
		{"split mid line", []string{"hel", "lo\n"}, []string{"hello"}, 0},
		{"trailing partial", []string{"a\nbc"}, []string{"a"}, 2},
		{"crlf", []string{"a\r\n", "b\r", "\n"}, []string{"a", "b"}, 0},
		{"empty line", []string{"\n"}, []string{""}, 0},
		{"split rune", []string{"caf\xc3", "\xa9\n"}, []string{"café"}, 0},
		{"byte at a time", []string{"x", "y", "\n", "z"}, []string{"xy"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b lineBuffer
			var got []string
			for _, c := range tt.chunks {
				got = append(got, b.Feed([]byte(c))...)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.partial, b.Len())
		})
	}
}

func TestLineBufferDoesNotAliasInput(t *testing.T) {
	var b lineBuffer
	chunk := []byte("abc")
	b.Feed(chunk)
	copy(chunk, "xyz")
	assert.Equal(t, []string{"abcd"}, b.Feed([]byte("d\n")))
}

func TestLineBufferReset(t *testing.T) {
	var b lineBuffer
	b.Feed([]byte("stale"))
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []string{"fresh"}, b.Feed([]byte("fresh\n")))
}
