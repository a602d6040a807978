package osc

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	bit32Size = 4
	bit64Size = 8
)

////
// De/Encoding functions
////

// parseBlob parses an OSC blob from data. It returns the blob and the number
// of bytes consumed, padding included.
func parseBlob(data []byte) ([]byte, int, error) {
	if len(data) < bit32Size {
		return nil, 0, errors.Wrap(io.ErrUnexpectedEOF, "parseBlob")
	}

	// First, get the length
	blobLen := int(binary.BigEndian.Uint32(data[:bit32Size]))
	data = data[bit32Size:]
	if blobLen < 0 || blobLen > len(data) {
		return nil, 0, errors.Errorf("parseBlob: invalid blob length %d", blobLen)
	}

	n := bit32Size + blobLen
	n += padBytesNeeded(n)
	if n > bit32Size+len(data) {
		return nil, 0, errors.Wrap(io.ErrUnexpectedEOF, "parseBlob: missing padding")
	}

	blob := make([]byte, blobLen)
	copy(blob, data[:blobLen])
	return blob, n, nil
}

// appendBlob appends data to b as an OSC blob. If the length of data isn't
// 32-bit aligned, padding bytes are added.
func appendBlob(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	b = append(b, data...)
	return append(b, make([]byte, padBytesNeeded(len(data)))...)
}

// parsePaddedString reads a padded string from the given slice and returns the
// string and the number of bytes read.
func parsePaddedString(data []byte) (string, int, error) {
	pos := bytes.IndexByte(data, 0)
	if pos == -1 {
		return "", 0, errors.Wrap(io.EOF, "parsePaddedString")
	}

	n := pos + 1
	n += padBytesNeeded(n)
	if n > len(data) {
		return "", 0, errors.Wrap(io.ErrUnexpectedEOF, "parsePaddedString: missing padding")
	}

	return string(data[:pos]), n, nil
}

// appendPaddedString appends str to b, null terminated and padded to the next
// 4 byte boundary.
func appendPaddedString(b []byte, str string) []byte {
	b = append(b, str...)
	b = append(b, 0)
	return append(b, make([]byte, padBytesNeeded(len(str)+1))...)
}

// padBytesNeeded determines how many bytes are needed to fill up to the next 4
// byte length.
func padBytesNeeded(elementLen int) int {
	return (4 - (elementLen % 4)) % 4
}
