package osc

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
)

func TestParsePaddedString(t *testing.T) {
	for _, tt := range []struct {
		buf   []byte // buffer
		want  int    // bytes needed
		want1 string // resulting string
		err   error
	}{
		{[]byte{'t', 'e', 's', 't', 's', 't', 'r', 'i', 'n', 'g', 0, 0}, 12, "teststring", nil},
		{[]byte{'t', 'e', 's', 't', 'e', 'r', 's', 0}, 8, "testers", nil},
		{[]byte{'t', 'e', 's', 't', 's', 0, 0, 0}, 8, "tests", nil},
		{[]byte{'t', 'e', 's', 0, 0, 0, 0, 0}, 4, "tes", nil}, // OSC uses null terminated strings
		{[]byte{'t', 'e', 's', 't'}, 0, "", io.EOF},           // if there is no null byte at the end, it doesn't work.
		{[]byte{'t', 'e', 's', 't', 's', 0}, 0, "", io.ErrUnexpectedEOF},
	} {
		got, got1, err := parsePaddedString(tt.buf)
		if errors.Cause(err) != tt.err {
			t.Errorf("%s: Error reading padded string: %s", tt.want1, err)
		}
		if got1 != tt.want {
			t.Errorf("%s: Bytes needed don't match; got = %d, want = %d", tt.want1, got1, tt.want)
		}
		if got != tt.want1 {
			t.Errorf("%s: Strings don't match; got = %b, want = %b", tt.want1, []byte(got), []byte(tt.want1))
		}
	}
}

func TestAppendPaddedString(t *testing.T) {
	for _, tt := range []struct {
		str  string
		want []byte
	}{
		{"testString", []byte("testString\x00\x00")},
		{"abc", []byte("abc\x00")},
		{"abcd", []byte("abcd\x00\x00\x00\x00")},
		{"", []byte{0, 0, 0, 0}},
	} {
		if got := appendPaddedString(nil, tt.str); !bytes.Equal(got, tt.want) {
			t.Errorf("appendPaddedString(%q) = %v, want %v", tt.str, got, tt.want)
		}
	}
}

func TestBlob(t *testing.T) {
	for _, data := range [][]byte{{}, {1}, {1, 2, 3, 4}, {1, 2, 3, 4, 5}} {
		b := appendBlob(nil, data)
		if len(b)%4 != 0 {
			t.Errorf("appendBlob(%v) is not padded: %d bytes", data, len(b))
		}
		got, n, err := parseBlob(b)
		if err != nil {
			t.Errorf("parseBlob(%v): %v", b, err)
			continue
		}
		if n != len(b) {
			t.Errorf("parseBlob(%v) consumed %d bytes, want %d", b, n, len(b))
		}
		if !bytes.Equal(got, data) {
			t.Errorf("parseBlob() = %v, want %v", got, data)
		}
	}

	if _, _, err := parseBlob([]byte{0, 0, 0, 9, 1, 2, 3, 4}); err == nil {
		t.Error("parseBlob() accepted a blob longer than its data")
	}
}

func TestPadBytesNeeded(t *testing.T) {
	for _, tt := range []struct {
		in, want int
	}{
		{4, 0}, {3, 1}, {1, 3}, {0, 0}, {32, 0}, {63, 1}, {10, 2},
	} {
		if n := padBytesNeeded(tt.in); n != tt.want {
			t.Errorf("padBytesNeeded(%d) = %d, want %d", tt.in, n, tt.want)
		}
	}
}
