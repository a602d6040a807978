package osc

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Message represents a single OSC message. An OSC message consists of an OSC
// address pattern and zero or more arguments.
type Message struct {
	Address   string
	Arguments []any
}

// Verify that Messages implements the Packet interface.
var _ Packet = (*Message)(nil)

// NewMessage returns a new Message. The address parameter is the OSC address.
func NewMessage(addr string, args ...any) *Message {
	return &Message{Address: addr, Arguments: args}
}

// Append appends the given arguments to the arguments list.
func (m *Message) Append(args ...any) error {
	for _, a := range args {
		if ToTypeTag(a) == TypeInvalid {
			return errors.Errorf("Append: unsupported type: %T", a)
		}
	}
	m.Arguments = append(m.Arguments, args...)
	return nil
}

// Equals returns true if the given OSC Message is equal to the current one.
func (m *Message) Equals(b *Message) bool {
	return reflect.DeepEqual(m, b)
}

// Match returns true, if the OSC address pattern of the OSC Message matches the given
// address. The match is case sensitive!
func (m *Message) Match(addr string) bool {
	re, err := getRegEx(m.Address)
	if err != nil {
		return false
	}
	return re.MatchString(addr)
}

// TypeTags returns the type tag string.
func (m *Message) TypeTags() (string, error) {
	if m == nil {
		return "", errors.New("TypeTags: message is nil")
	}
	return TypeTags(m.Arguments)
}

// String implements the fmt.Stringer interface.
func (m *Message) String() string {
	if m == nil {
		return ""
	}

	tags, err := m.TypeTags()
	if err != nil || len(m.Arguments) == 0 {
		return m.Address
	}

	var sb strings.Builder
	sb.WriteString(m.Address)
	sb.WriteByte(' ')
	sb.WriteString(tags)

	for _, arg := range m.Arguments {
		switch arg := arg.(type) {
		case bool, int32, int64, float32, float64, string:
			fmt.Fprintf(&sb, " %v", arg)
		case nil:
			sb.WriteString(" Nil")
		case []byte:
			sb.WriteString(" blob")
		case Timetag:
			fmt.Fprintf(&sb, " %d", uint64(arg))
		}
	}

	return sb.String()
}

// MarshalBinary serializes the OSC message. The result has the following format:
// 1. OSC Address Pattern
// 2. OSC Type Tag String
// 3. OSC Arguments
func (m *Message) MarshalBinary() ([]byte, error) {
	tags, err := m.TypeTags()
	if err != nil {
		return nil, errors.Wrap(err, "MarshalBinary")
	}

	b := make([]byte, 0, len(m.Address)+len(tags)+8*len(m.Arguments)+8)
	b = appendPaddedString(b, m.Address)
	b = appendPaddedString(b, tags)

	for _, arg := range m.Arguments {
		switch t := arg.(type) {
		case bool, nil:
			// Encoded in the type tag alone.
		case int32:
			b = binary.BigEndian.AppendUint32(b, uint32(t))
		case float32:
			b = binary.BigEndian.AppendUint32(b, math.Float32bits(t))
		case int64:
			b = binary.BigEndian.AppendUint64(b, uint64(t))
		case float64:
			b = binary.BigEndian.AppendUint64(b, math.Float64bits(t))
		case string:
			b = appendPaddedString(b, t)
		case []byte:
			b = appendBlob(b, t)
		case Timetag:
			b = binary.BigEndian.AppendUint64(b, uint64(t))
		}
	}

	if len(b) > MaxPacketSize {
		return nil, errors.Errorf("MarshalBinary: packet too large: %d", len(b))
	}

	return b, nil
}

// NewMessageFromData returns a new OSC message parsed from data.
func NewMessageFromData(data []byte) (*Message, error) {
	m := &Message{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return m, nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) == 0 || data[0] != '/' {
		return errors.New("UnmarshalBinary: data not a valid OSC message")
	}

	if (len(data) % bit32Size) != 0 {
		return errors.New("UnmarshalBinary: data isn't padded properly")
	}

	// First, read the OSC address
	addr, n, err := parsePaddedString(data)
	if err != nil {
		return errors.Wrap(err, "UnmarshalBinary")
	}

	m.Address = addr
	m.Arguments = nil
	if err := m.parseArguments(data[n:]); err != nil {
		return errors.Wrap(err, "UnmarshalBinary")
	}

	return nil
}

// parseArguments reads the type tag string and the arguments it announces.
func (m *Message) parseArguments(data []byte) error {
	// A message without a type tag string carries no arguments.
	if len(data) == 0 {
		return nil
	}

	typetags, n, err := parsePaddedString(data)
	if err != nil {
		return errors.Wrap(err, "parseArguments")
	}
	data = data[n:]

	if len(typetags) == 0 || typetags[0] != ',' {
		return errors.Errorf("unsupported typetag string: %q", typetags)
	}

	if len(typetags) > 1 {
		m.Arguments = make([]any, 0, len(typetags)-1)
	}

	need := func(size int) error {
		if len(data) < size {
			return errors.New("parseArguments: not enough bytes to read")
		}
		return nil
	}

	for _, c := range []byte(typetags[1:]) {
		switch TypeTag(c) {
		default:
			return errors.Errorf("unsupported typetag: %c", c)

		case TypeInt32:
			if err := need(bit32Size); err != nil {
				return err
			}
			m.Arguments = append(m.Arguments, int32(binary.BigEndian.Uint32(data)))
			data = data[bit32Size:]

		case TypeFloat32:
			if err := need(bit32Size); err != nil {
				return err
			}
			m.Arguments = append(m.Arguments, math.Float32frombits(binary.BigEndian.Uint32(data)))
			data = data[bit32Size:]

		case TypeInt64:
			if err := need(bit64Size); err != nil {
				return err
			}
			m.Arguments = append(m.Arguments, int64(binary.BigEndian.Uint64(data)))
			data = data[bit64Size:]

		case TypeFloat64:
			if err := need(bit64Size); err != nil {
				return err
			}
			m.Arguments = append(m.Arguments, math.Float64frombits(binary.BigEndian.Uint64(data)))
			data = data[bit64Size:]

		case TypeTimetag:
			if err := need(bit64Size); err != nil {
				return err
			}
			m.Arguments = append(m.Arguments, Timetag(binary.BigEndian.Uint64(data)))
			data = data[bit64Size:]

		case TypeString:
			str, n, err := parsePaddedString(data)
			if err != nil {
				return errors.Wrap(err, "parseArguments")
			}
			m.Arguments = append(m.Arguments, str)
			data = data[n:]

		case TypeBlob:
			blob, n, err := parseBlob(data)
			if err != nil {
				return errors.Wrap(err, "parseArguments")
			}
			m.Arguments = append(m.Arguments, blob)
			data = data[n:]

		case TypeNil:
			m.Arguments = append(m.Arguments, nil)

		case TypeTrue:
			m.Arguments = append(m.Arguments, true)

		case TypeFalse:
			m.Arguments = append(m.Arguments, false)
		}
	}

	return nil
}
