// Package alloc hands out identifiers for engine resources.
//
// Node and buffer identifiers come from a Counter and are never reused within
// the lifetime of the Counter. Bus indices come from a Range, a bounded window
// of channels from which contiguous blocks are reserved and returned.
package alloc

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ID identifies a node, buffer or bus on the engine.
type ID = int32

// ErrExhausted is returned when a Range has no contiguous block large enough
// for the request.
var ErrExhausted = errors.New("resources exhausted")

// Counter issues strictly increasing identifiers.
type Counter struct {
	next atomic.Int32
}

// NewCounter returns a counter whose first identifier is start.
func NewCounter(start ID) *Counter {
	c := &Counter{}
	c.next.Store(start)
	return c
}

// Next returns the next identifier.
func (c *Counter) Next() ID {
	return c.next.Add(1) - 1
}

// Peek returns the identifier Next would return, without consuming it.
func (c *Counter) Peek() ID {
	return c.next.Load()
}

type block struct {
	start, count int32
}

// Range reserves contiguous blocks from the window [start, start+capacity).
// Freed blocks are returned to the pool and merged with free neighbours.
type Range struct {
	name     string
	start    int32
	capacity int32

	mu       sync.Mutex
	free     []block // sorted by start, non-overlapping, never adjacent
	reserved map[int32]int32
}

// NewRange returns an allocator over capacity channels starting at start.
// The name appears in allocation errors.
func NewRange(name string, start, capacity int32) *Range {
	r := &Range{
		name:     name,
		start:    start,
		capacity: capacity,
		reserved: map[int32]int32{},
	}
	if capacity > 0 {
		r.free = []block{{start: start, count: capacity}}
	}
	return r
}

// Allocate reserves count contiguous channels and returns the first index.
// The lowest fitting block is used.
func (r *Range) Allocate(count int32) (int32, error) {
	if count <= 0 {
		return 0, errors.Errorf("invalid %s channel count %d", r.name, count)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, b := range r.free {
		if b.count < count {
			continue
		}

		idx := b.start
		if b.count == count {
			r.free = append(r.free[:i], r.free[i+1:]...)
		} else {
			r.free[i] = block{start: b.start + count, count: b.count - count}
		}
		r.reserved[idx] = count
		return idx, nil
	}

	return 0, errors.Wrapf(ErrExhausted, "no %d contiguous %s channels available (%d of %d reserved)",
		count, r.name, r.reservedLocked(), r.capacity)
}

// Free returns the block starting at start to the pool.
func (r *Range) Free(start int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	count, ok := r.reserved[start]
	if !ok {
		return errors.Errorf("%s channel %d is not the start of a reserved block", r.name, start)
	}
	delete(r.reserved, start)

	i := sort.Search(len(r.free), func(i int) bool { return r.free[i].start > start })
	r.free = append(r.free, block{})
	copy(r.free[i+1:], r.free[i:])
	r.free[i] = block{start: start, count: count}

	// Merge with the following block, then with the preceding one.
	if i+1 < len(r.free) && r.free[i].start+r.free[i].count == r.free[i+1].start {
		r.free[i].count += r.free[i+1].count
		r.free = append(r.free[:i+1], r.free[i+2:]...)
	}
	if i > 0 && r.free[i-1].start+r.free[i-1].count == r.free[i].start {
		r.free[i-1].count += r.free[i].count
		r.free = append(r.free[:i], r.free[i+1:]...)
	}

	return nil
}

// Reserved returns the number of channels currently reserved.
func (r *Range) Reserved() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.reservedLocked()
}

// Capacity returns the size of the window.
func (r *Range) Capacity() int32 {
	return r.capacity
}

func (r *Range) reservedLocked() int32 {
	var n int32
	for _, c := range r.reserved {
		n += c
	}
	return n
}
