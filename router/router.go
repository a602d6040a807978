// Package router correlates inbound OSC replies with the requests that caused
// them.
//
// A request registers a one-shot waiter for a reply address and a match key,
// sends its triggering message, and completes when a reply whose leading
// arguments equal the key arrives, or when the timeout elapses. Durable
// subscriptions receive every matching reply until they are cancelled.
//
// Requests for an equal address and key are queued: each one sends only
// after the previous one has completed, so two identical queries can never
// steal each other's reply.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chabad360/go-supercollider/osc"
)

var (
	// ErrTimeout is returned when no matching reply arrived in time.
	ErrTimeout = errors.New("timed out waiting for reply")
	// ErrClosed is returned to waiters released by Reset or Close.
	ErrClosed = errors.New("router closed")
	// ErrCommandFailed is returned when the engine answered with /fail.
	ErrCommandFailed = errors.New("command failed")
)

// FailAddress is the address the engine reports failed commands on.
const FailAddress = "/fail"

// FailError carries the contents of a /fail reply.
type FailError struct {
	Command string
	Message string
}

func (e *FailError) Error() string {
	return e.Command + ": " + e.Message
}

// Is makes errors.Is(err, ErrCommandFailed) hold for every *FailError.
func (e *FailError) Is(target error) bool {
	return target == ErrCommandFailed
}

// FailFor accepts /fail replies for command. When ids are given the reply
// must also name them after its message, as buffer commands do
// (/fail command message bufnum).
func FailFor(command string, ids ...any) func(Args) bool {
	return func(a Args) bool {
		if !(Key{command}).Matches(a) {
			return false
		}
		if len(ids) == 0 {
			return true
		}
		return len(a) > 2 && Key(ids).Matches(a[2:])
	}
}

// Request describes one round trip.
type Request[T any] struct {
	// Address is the address of the expected reply.
	Address string
	// Key must equal the leading arguments of the reply.
	Key Key
	// Fail, when set, lets a /fail reply it accepts complete the request
	// with a *FailError.
	Fail func(Args) bool
	// Send transmits the triggering message. It runs after the waiter is
	// registered.
	Send func() error
	// Decode converts the reply arguments to the result.
	Decode func(Args) (T, error)
	// Timeout overrides the router default when positive.
	Timeout time.Duration
}

type outcome struct {
	args Args
	err  error
}

type waiter struct {
	address string
	key     Key
	fail    func(Args) bool
	// seq orders waiters by registration across addresses.
	seq uint64

	// active is set once every earlier waiter with the same key is gone.
	active bool
	result chan outcome
	// finished is closed once the waiter has left the table.
	finished chan struct{}
}

type subscriber struct {
	address string
	key     Key
	fn      func(Args)
}

// Router holds pending waiters and subscriptions. The zero value is not
// usable, create one with New.
type Router struct {
	log     *zap.Logger
	timeout time.Duration

	mu          sync.Mutex
	closed      bool
	seq         uint64
	waiters     map[string][]*waiter
	subscribers map[string][]*subscriber
}

// New returns a router whose requests time out after timeout unless they set
// their own.
func New(log *zap.Logger, timeout time.Duration) *Router {
	return &Router{
		log:         log,
		timeout:     timeout,
		waiters:     map[string][]*waiter{},
		subscribers: map[string][]*subscriber{},
	}
}

// Timeout returns the default request timeout.
func (r *Router) Timeout() time.Duration {
	return r.timeout
}

// Call sends the request and blocks until it completes or ctx is done. The
// waiter is removed before Call returns.
func Call[T any](ctx context.Context, r *Router, req Request[T]) (T, error) {
	f, err := start(ctx, r, req)
	if err != nil {
		var zero T
		return zero, err
	}
	<-f.done
	return f.value, f.err
}

// Start sends the request without blocking and returns its future. The
// request ends on its own when the reply arrives or the timeout elapses.
func Start[T any](r *Router, req Request[T]) (*Future[T], error) {
	return start(context.Background(), r, req)
}

func start[T any](ctx context.Context, r *Router, req Request[T]) (*Future[T], error) {
	if req.Decode == nil {
		return nil, errors.Errorf("request for %s has no decoder", req.Address)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}

	w := &waiter{
		address:  req.Address,
		key:      req.Key,
		fail:     req.Fail,
		result:   make(chan outcome, 1),
		finished: make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.WithStack(ErrClosed)
	}
	r.seq++
	w.seq = r.seq
	queued := r.predecessorLocked(w) != nil
	w.active = !queued
	r.waiters[req.Address] = append(r.waiters[req.Address], w)
	r.mu.Unlock()

	f := &Future[T]{done: make(chan struct{})}
	go func() {
		args, err := r.run(ctx, w, queued, req.Send, timeout)
		if err == nil {
			f.value, err = req.Decode(args)
			if err != nil && !errors.Is(err, ErrDecode) {
				err = errors.Wrapf(ErrDecode, "%s: %v", req.Address, err)
			}
		}
		f.err = err
		close(f.done)
	}()
	return f, nil
}

// run drives one waiter from the queue to completion.
func (r *Router) run(ctx context.Context, w *waiter, queued bool, send func() error, timeout time.Duration) (Args, error) {
	defer close(w.finished)

	for queued {
		prev, ok := r.activate(w)
		if !ok {
			// Released by Reset while queued.
			return nil, (<-w.result).err
		}
		if prev == nil {
			break
		}
		select {
		case <-prev.finished:
		case o := <-w.result:
			return nil, o.err
		case <-ctx.Done():
			r.remove(w)
			return nil, errors.WithStack(ctx.Err())
		}
	}

	if send != nil {
		if err := send(); err != nil {
			r.remove(w)
			return nil, err
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-w.result:
		return o.args, o.err
	case <-timer.C:
	case <-ctx.Done():
	}

	r.remove(w)
	// A reply may have landed between the timer firing and the removal.
	select {
	case o := <-w.result:
		return o.args, o.err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return nil, errors.Wrapf(ErrTimeout, "no %s reply within %s", w.address, timeout)
}

// activate marks a queued waiter as eligible for matching once no earlier
// waiter with an equal key remains. Otherwise it returns that waiter. It
// reports false when w is no longer registered.
func (r *Router) activate(w *waiter) (*waiter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for _, x := range r.waiters[w.address] {
		if x == w {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}
	if prev := r.predecessorLocked(w); prev != nil {
		return prev, true
	}
	w.active = true
	return nil, true
}

// predecessorLocked returns the latest waiter registered before w for the
// same address and an equal key.
func (r *Router) predecessorLocked(w *waiter) *waiter {
	var prev *waiter
	for _, x := range r.waiters[w.address] {
		if x == w {
			break
		}
		if x.key.Equal(w.key) {
			prev = x
		}
	}
	return prev
}

func (r *Router) remove(w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(w)
}

func (r *Router) removeLocked(w *waiter) {
	ws := r.waiters[w.address]
	for i, x := range ws {
		if x == w {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(r.waiters, w.address)
		return
	}
	r.waiters[w.address] = ws
}

// Subscription is a durable callback registration.
type Subscription struct {
	r *Router
	s *subscriber
}

// Subscribe calls fn for every dispatched message on address whose leading
// arguments equal key, until the subscription is cancelled. Callbacks run on
// the dispatching goroutine, in reception order.
func (r *Router) Subscribe(address string, key Key, fn func(Args)) *Subscription {
	s := &subscriber{address: address, key: key, fn: fn}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers[address] = append(r.subscribers[address], s)
	return &Subscription{r: r, s: s}
}

// Cancel removes the subscription. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	subs := s.r.subscribers[s.s.address]
	for i, x := range subs {
		if x == s.s {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(s.r.subscribers, s.s.address)
		return
	}
	s.r.subscribers[s.s.address] = subs
}

// Dispatch routes one inbound message. It reports whether anything consumed
// the message.
func (r *Router) Dispatch(msg *osc.Message) bool {
	args := Args(msg.Arguments)

	r.mu.Lock()
	var released int
	ws := r.waiters[msg.Address]
	for i := 0; i < len(ws); i++ {
		w := ws[i]
		if !w.active || !w.key.Matches(args) {
			continue
		}
		w.result <- outcome{args: args}
		ws = append(ws[:i], ws[i+1:]...)
		i--
		released++
	}
	if len(ws) == 0 {
		delete(r.waiters, msg.Address)
	} else {
		r.waiters[msg.Address] = ws
	}

	if msg.Address == FailAddress {
		if r.failLocked(args) {
			released++
		}
	}

	var fns []func(Args)
	for _, s := range r.subscribers[msg.Address] {
		if s.key.Matches(args) {
			fns = append(fns, s.fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(args)
	}

	if released == 0 && len(fns) == 0 {
		r.log.Debug("Dropping unrouted message", zap.Stringer("message", msg))
		return false
	}
	return true
}

// failLocked completes the earliest registered active waiter, over all
// addresses, that accepts the failure.
func (r *Router) failLocked(args Args) bool {
	var oldest *waiter
	for _, ws := range r.waiters {
		for _, w := range ws {
			if !w.active || w.fail == nil || !w.fail(args) {
				continue
			}
			if oldest == nil || w.seq < oldest.seq {
				oldest = w
			}
		}
	}
	if oldest == nil {
		return false
	}

	fe := &FailError{}
	fe.Command, _ = args.String(0)
	fe.Message, _ = args.String(1)
	oldest.result <- outcome{err: fe}
	r.removeLocked(oldest)
	return true
}

// Reset releases every pending waiter with ErrClosed and drops every
// subscription. The router stays usable.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()
}

// Close resets the router and rejects further requests.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.resetLocked()
}

func (r *Router) resetLocked() {
	for _, ws := range r.waiters {
		for _, w := range ws {
			w.result <- outcome{err: errors.WithStack(ErrClosed)}
		}
	}
	r.waiters = map[string][]*waiter{}
	r.subscribers = map[string][]*subscriber{}
}

// Pending returns the number of registered waiters and subscriptions.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for _, ws := range r.waiters {
		n += len(ws)
	}
	for _, subs := range r.subscribers {
		n += len(subs)
	}
	return n
}
