// Package transport is the framed, non-blocking TCP server described in
// spec.md §4.1: it accepts many connections, multiplexes logical channels
// over each one, and delivers whole messages to the dispatcher. It owns
// per-connection input/output buffers and the readiness loop.
package transport

import "fmt"

// Event reports readiness for one file descriptor, translated from whatever
// the underlying Poller implementation speaks (epoll_event or pollfd) into
// one shape the event loop understands.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Err      bool
}

// Poller is the multiplexer abstraction spec.md §4.1 calls for: "a single
// readiness-notification mechanism (edge-level epoll or equivalent;
// portable fallback via ready-set polling acceptable)". dtmd ships both: an
// edge-triggered epoll implementation and a poll(2) fallback, selected by
// --poller.
type Poller interface {
	// Add registers fd for read readiness (and, implicitly, hangup/error).
	Add(fd int) error
	// EnableWrite additionally arms write readiness for fd; called when an
	// outbound buffer has bytes that didn't fit in one write(2).
	EnableWrite(fd int) error
	// DisableWrite disarms write readiness once a connection's outbound
	// buffer has fully drained, so epoll doesn't keep waking the loop with
	// "you can write" when there's nothing queued.
	DisableWrite(fd int) error
	// Remove unregisters fd; called once per connection, at teardown.
	Remove(fd int) error
	// Wait blocks up to timeoutMs (or indefinitely if negative) and returns
	// the ready events for this tick.
	Wait(timeoutMs int) ([]Event, error)
	Close() error
}

// NewPoller builds the Poller named by kind: "epoll" or "poll".
func NewPoller(kind string) (Poller, error) {
	switch kind {
	case "epoll":
		return newEpollPoller()
	case "poll":
		return newPollPoller(), nil
	default:
		return nil, fmt.Errorf("transport: unknown poller kind %q", kind)
	}
}
