package transport

import (
	"fmt"

	lock "github.com/viney-shih/go-lock"
)

// Pool is the index-addressed connection table spec.md §9 calls for in
// place of the original's pointer-linked connection list: slots are
// identified by a stable int32 index, reused via an explicit freelist, so
// nothing outside the pool ever holds a raw *Conn across a tick boundary —
// only the (stable) index.
type Pool struct {
	slots    []*Conn
	freelist []int32

	bufferSize  int
	maxChannels int

	// statsMu guards the freelist and the opened/closed counters. Acquire
	// and Release take it around their freelist mutation so Stats() can
	// be called safely from outside the event-loop goroutine (an HTTP
	// debug handler, a signal handler dumping state), mirroring how the
	// teacher guards its own introspection-only counters.
	statsMu lock.RWMutex
	opened  uint64
	closed  uint64
}

// NewPool preallocates a slot table of the given capacity.
func NewPool(capacity, bufferSize, maxChannels int) *Pool {
	return &Pool{
		slots:       make([]*Conn, capacity),
		freelist:    freelistOf(capacity),
		bufferSize:  bufferSize,
		maxChannels: maxChannels,
		statsMu:     lock.NewCASMutex(),
	}
}

func freelistOf(capacity int) []int32 {
	fl := make([]int32, capacity)
	for i := range fl {
		// Highest index first so Acquire hands out low indices first,
		// keeping the live set compact — cosmetic, but makes Stats() output
		// and test traces easier to read.
		fl[i] = int32(capacity - 1 - i)
	}
	return fl
}

// Acquire claims a free slot for fd and returns its new Conn, or an error if
// the pool is at capacity (spec.md's MAX_CONNECTIONS).
func (p *Pool) Acquire(fd int) (*Conn, error) {
	p.statsMu.Lock()
	if len(p.freelist) == 0 {
		p.statsMu.Unlock()
		return nil, fmt.Errorf("transport: connection pool exhausted (capacity %d)", len(p.slots))
	}
	idx := p.freelist[len(p.freelist)-1]
	p.freelist = p.freelist[:len(p.freelist)-1]
	p.opened++
	p.statsMu.Unlock()

	c := newConn(idx, fd, p.bufferSize, p.maxChannels)
	c.Channels.Bind(idx)
	p.slots[idx] = c
	return c, nil
}

// Get returns the connection at idx, or nil if that slot is empty.
func (p *Pool) Get(idx int32) *Conn {
	if idx < 0 || int(idx) >= len(p.slots) {
		return nil
	}
	return p.slots[idx]
}

// Release returns idx to the freelist. The caller is responsible for having
// closed the fd and torn down the channel table first.
func (p *Pool) Release(idx int32) {
	if idx < 0 || int(idx) >= len(p.slots) || p.slots[idx] == nil {
		return
	}
	p.slots[idx] = nil

	p.statsMu.Lock()
	p.freelist = append(p.freelist, idx)
	p.closed++
	p.statsMu.Unlock()
}

// Each calls fn for every currently occupied slot, in index order. Used by
// the event loop's end-of-tick sweep and by shutdown.
func (p *Pool) Each(fn func(*Conn)) {
	for _, c := range p.slots {
		if c != nil {
			fn(c)
		}
	}
}

// Stats is a point-in-time snapshot safe to call from any goroutine.
type Stats struct {
	Capacity int
	InUse    int
	Opened   uint64
	Closed   uint64
}

func (p *Pool) Stats() Stats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return Stats{
		Capacity: len(p.slots),
		InUse:    len(p.slots) - len(p.freelist),
		Opened:   p.opened,
		Closed:   p.closed,
	}
}
