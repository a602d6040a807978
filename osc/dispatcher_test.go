package osc

import (
	"net"
	"testing"
	"time"
)

func TestDispatcher_AddMethodFunc(t *testing.T) {
	type args struct {
		addr   string
		method MethodFunc
	}
	tests := []struct {
		name    string
		methods map[string]Method
		args    args
		wantErr bool
	}{
		{"valid", nil, args{"/address/test", func(*Message, net.Addr) {}}, false},
		{"invalid", nil, args{"/address*/test", func(*Message, net.Addr) {}}, true},
		{"already_exists", map[string]Method{"/address/test": MethodFunc(func(*Message, net.Addr) {})}, args{"/address/test", func(*Message, net.Addr) {}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Dispatcher{
				methods: tt.methods,
			}
			if err := d.AddMethodFunc(tt.args.addr, tt.args.method); (err != nil) != tt.wantErr {
				t.Errorf("AddMethodFunc() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func newTestDispatcher(counter *int) *Dispatcher {
	add := func(n int) MethodFunc {
		return func(*Message, net.Addr) {
			*counter += n
		}
	}
	return &Dispatcher{
		methods: map[string]Method{
			"/osc":     add(1),
			"/os":      add(2),
			"/osv":     add(4),
			"/osabc":   add(8),
			"/osc123":  add(16),
			"/osc1b3":  add(32),
			"/oscz":    add(64),
			"/osc/z":   add(128),
			"/osc/23f": add(256),
		},
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		expect int
	}{
		{"single", NewMessage("/osc"), 1},
		{"c_or_not", NewMessage("/os{c,}"), 3},
		{"single_any", NewMessage("/os?"), 5},
		{"single_must", NewMessage("/os{c,v}"), 5},
		{"star_in_part", NewMessage("/osc*"), 1 + 16 + 32 + 64},
		{"match_multiple_parts", NewMessage("/osc/?"), 128},
		{"bundle_immediate", NewBundle(NewMessage("/osc"), NewMessage("/os")), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got int
			if err := newTestDispatcher(&got).Dispatch(tt.packet, nil); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if got != tt.expect {
				t.Errorf("Dispatch() got = %v, expect %v", got, tt.expect)
			}
		})
	}
}

func TestDispatcher_DispatchScheduledBundle(t *testing.T) {
	called := make(chan struct{}, 1)
	d := &Dispatcher{}
	if err := d.AddMethodFunc("/later", func(*Message, net.Addr) { called <- struct{}{} }); err != nil {
		t.Fatal(err)
	}

	b := NewBundleWithTime(time.Now().Add(50 * time.Millisecond))
	if err := b.Append(NewMessage("/later")); err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(b, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case <-called:
		t.Fatal("scheduled bundle dispatched early")
	default:
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("scheduled bundle never dispatched")
	}
}

func TestDispatcher_RemoveMethod(t *testing.T) {
	var got int
	d := newTestDispatcher(&got)
	d.RemoveMethod("/osc")
	if err := d.Dispatch(NewMessage("/osc"), nil); err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("removed method was called")
	}
}
