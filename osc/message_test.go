package osc

import (
	"reflect"
	"testing"
)

type testCase struct {
	name    string
	obj     Packet
	raw     []byte
	wantErr bool
}

var messageTestCases = []testCase{
	{
		"no_arguments",
		&Message{Address: "/status"},
		[]byte("/status\x00,\x00\x00\x00"),
		false,
	},
	{
		"int32",
		NewMessage("/test", int32(1)),
		[]byte("/test\x00\x00\x00,i\x00\x00\x00\x00\x00\x01"),
		false,
	},
	{
		"float32_string",
		NewMessage("/a", float32(1), "hi"),
		[]byte("/a\x00\x00,fs\x00\x3f\x80\x00\x00hi\x00\x00"),
		false,
	},
	{
		"blob_true_nil",
		NewMessage("/b", []byte{1, 2, 3}, true, nil),
		[]byte("/b\x00\x00,bTN\x00\x00\x00\x00\x00\x00\x00\x03\x01\x02\x03\x00"),
		false,
	},
	{
		"int64_float64",
		NewMessage("/h", int64(-1), float64(0.5)),
		[]byte("/h\x00\x00,hd\x00\xff\xff\xff\xff\xff\xff\xff\xff\x3f\xe0\x00\x00\x00\x00\x00\x00"),
		false,
	},
	{
		"false_timetag",
		NewMessage("/t", false, Timetag(1)),
		[]byte("/t\x00\x00,Ft\x00\x00\x00\x00\x00\x00\x00\x00\x01"),
		false,
	},
}

func TestMessage_Append(t *testing.T) {
	message := NewMessage("/address")

	if err := message.Append("string argument", int32(123456789), true); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(message.Arguments) != 3 {
		t.Errorf("Number of arguments should be %d and is %d", 3, len(message.Arguments))
	}

	if err := message.Append(42); err == nil {
		t.Error("Append() accepted an int argument")
	}
	if len(message.Arguments) != 3 {
		t.Errorf("Rejected argument was appended")
	}
}

func TestMessage_Match(t *testing.T) {
	tc := []struct {
		desc        string
		addr        string
		addrPattern string
		want        bool
	}{
		{"match everything in a part", "/*", "/status", true},
		{"star doesn't cross parts", "/*", "/a/b", false},
		{"don't match", "/a/b", "/a", false},
		{"don't match prefix", "/n_set", "/n_setn", false},
		{"match alternatives", "/a/{foo,bar}", "/a/foo", true},
		{"don't match if address is not part of the alternatives", "/a/{foo,bar}", "/a/bob", false},
		{"single char", "/b_?etn", "/b_setn", true},
		{"dots are literal", "/status.reply", "/statusXreply", false},
	}

	for _, tt := range tc {
		msg := NewMessage(tt.addr)

		got := msg.Match(tt.addrPattern)
		if got != tt.want {
			t.Errorf("%s: msg.Match('%s') = '%t', want = '%t'", tt.desc, tt.addrPattern, got, tt.want)
		}
	}
}

func TestMessage_String(t *testing.T) {
	msg := NewMessage("/n_set", int32(1000), "freq", float32(440))
	if got, want := msg.String(), "/n_set ,isf 1000 freq 440"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMessage_MarshalBinary(t *testing.T) {
	for _, tt := range messageTestCases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.obj.MarshalBinary()
			if (err != nil) != tt.wantErr {
				t.Errorf("MarshalBinary() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !reflect.DeepEqual(got, tt.raw) {
				t.Errorf("MarshalBinary() got = %q, want %q", got, tt.raw)
			}
		})
	}
}

func TestMessage_MarshalBinaryUnsupported(t *testing.T) {
	if _, err := NewMessage("/bad", 1).MarshalBinary(); err == nil {
		t.Error("MarshalBinary() accepted an int argument")
	}
}

func TestMessage_UnmarshalBinary(t *testing.T) {
	for _, tt := range messageTestCases {
		t.Run(tt.name, func(t *testing.T) {
			m := new(Message)
			if err := m.UnmarshalBinary(tt.raw); (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalBinary() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(m, tt.obj) {
				t.Errorf("UnmarshalBinary() got = %v, want %v", m, tt.obj)
			}
		})
	}
}

func TestMessage_UnmarshalBinaryTruncated(t *testing.T) {
	for _, raw := range [][]byte{
		[]byte("/test\x00\x00\x00,i\x00\x00"),
		[]byte("/test\x00\x00\x00,s\x00\x00abcd"),
		[]byte("/test\x00\x00\x00,x\x00\x00"),
		[]byte("test\x00\x00\x00\x00"),
	} {
		if err := new(Message).UnmarshalBinary(raw); err == nil {
			t.Errorf("UnmarshalBinary(%q) succeeded", raw)
		}
	}
}

var result any

func BenchmarkMessageMarshalBinary(b *testing.B) {
	temp := NewMessage("/b_setn", int32(0), int32(0), int32(4), float32(0.1), float32(0.2), float32(0.3), float32(0.4))
	var buf []byte
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		buf, _ = temp.MarshalBinary()
	}
	result = buf
}
