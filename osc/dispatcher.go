package osc

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Method is an interface for OSC Methods.
type Method interface {
	HandleMessage(msg *Message, from net.Addr)
}

// MethodFunc implements the Method interface. Type definition for an OSC Method function.
type MethodFunc func(msg *Message, from net.Addr)

// HandleMessage calls itself with the given OSC Message. Implements the Method interface.
func (f MethodFunc) HandleMessage(msg *Message, from net.Addr) {
	f(msg, from)
}

// Dispatcher handles the dispatching of received OSC Packets to Methods for
// their given Address. The zero value is ready to use.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// AddMethod adds a new OSC Method for the given OSC Address.
func (d *Dispatcher) AddMethod(addr string, method Method) error {
	if strings.ContainsAny(addr, "*?,[]{}# ") {
		return errors.Errorf("AddMethod: OSC address %q may not contain any characters in \"*?,[]{}# \"", addr)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.methods == nil {
		d.methods = make(map[string]Method)
	}

	if _, ok := d.methods[addr]; ok {
		return errors.Errorf("AddMethod: OSC method %q exists already", addr)
	}

	d.methods[addr] = method
	return nil
}

// AddMethodFunc allows you to just pass a MethodFunc.
func (d *Dispatcher) AddMethodFunc(addr string, method MethodFunc) error {
	return d.AddMethod(addr, method)
}

// RemoveMethod removes the method registered for addr, if any.
func (d *Dispatcher) RemoveMethod(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.methods, addr)
}

// Dispatch dispatches an OSC Packet. Messages are handled synchronously;
// bundles are handled synchronously when due and scheduled otherwise.
func (d *Dispatcher) Dispatch(packet Packet, from net.Addr) error {
	switch p := packet.(type) {
	default:
		return errors.Errorf("Dispatch: invalid packet %T", p)

	case *Message:
		re, err := getRegEx(p.Address)
		if err != nil {
			return errors.Wrapf(err, "Dispatch: invalid address pattern %q", p.Address)
		}

		for _, method := range d.matching(func(addr string) bool { return re.MatchString(addr) }) {
			method.HandleMessage(p, from)
		}

	case *Bundle:
		if wait := p.Timetag.ExpiresIn(); wait > 0 {
			time.AfterFunc(wait, func() {
				_ = d.dispatchElements(p, from)
			})
			return nil
		}
		return d.dispatchElements(p, from)
	}

	return nil
}

func (d *Dispatcher) dispatchElements(b *Bundle, from net.Addr) error {
	for _, elem := range b.Elements {
		if err := d.Dispatch(elem, from); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) matching(match func(addr string) bool) []Method {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var methods []Method
	for addr, method := range d.methods {
		if match(addr) {
			methods = append(methods, method)
		}
	}
	return methods
}
