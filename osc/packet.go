package osc

import (
	"encoding"

	"github.com/pkg/errors"
)

// MaxPacketSize is the largest packet the package encodes or accepts. It is
// the maximum payload of a single UDP datagram over IPv4.
const MaxPacketSize = 65507

// Packet is the interface for Message and Bundle.
type Packet interface {
	encoding.BinaryMarshaler
}

// ParsePacket parses the given data into an OSC Message or Bundle.
func ParsePacket(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, errors.New("ParsePacket: empty packet")
	}

	switch data[0] {
	case '/':
		return NewMessageFromData(data)
	case '#':
		return NewBundleFromData(data)
	default:
		return nil, errors.Errorf("ParsePacket: invalid packet start byte %q", data[0])
	}
}

// Messages flattens the packet into its messages in order of appearance,
// descending into nested bundles.
func Messages(p Packet) []*Message {
	switch t := p.(type) {
	case *Message:
		return []*Message{t}
	case *Bundle:
		var msgs []*Message
		for _, e := range t.Elements {
			msgs = append(msgs, Messages(e)...)
		}
		return msgs
	default:
		return nil
	}
}
