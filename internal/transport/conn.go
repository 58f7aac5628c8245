package transport

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dtmd/dtmd/internal/registry"
	"github.com/dtmd/dtmd/internal/wire"
)

// Frame is one fully-received (code, channel, payload) triple, ready for
// the registry/dispatcher to act on.
type Frame struct {
	Code    uint8
	Channel uint32
	Payload []byte
}

// Conn is one accepted socket: its own input/output buffers, its own
// channel table, and a good flag — exactly the ownership spec.md §3
// assigns to the Connection entity. It is addressed by Idx, a slot in
// Pool's slice, not by pointer, per spec.md §9's redesign note.
type Conn struct {
	Idx  int32
	Fd   int
	Good bool

	in    []byte // fixed capacity = configured buffer size
	inLen int

	out []byte // queued outbound bytes; capacity = configured buffer size

	Channels *registry.Table
}

func newConn(idx int32, fd int, bufferSize int, maxChannels int) *Conn {
	return &Conn{
		Idx:      idx,
		Fd:       fd,
		Good:     true,
		in:       make([]byte, bufferSize),
		out:      make([]byte, 0, bufferSize),
		Channels: registry.NewTable(maxChannels),
	}
}

// FillFromSocket reads opportunistically into the input buffer until the
// socket would block, the peer closes, or a real error occurs. It never
// parses frames itself — that's DrainFrames' job — so a caller can always
// fill, then drain, in a loop (the shape edge-triggered epoll requires).
func (c *Conn) FillFromSocket() (eof bool, err error) {
	for {
		if c.inLen == len(c.in) {
			return false, fmt.Errorf("transport: input buffer full without a complete frame (payload bigger than buffer)")
		}
		n, rerr := unix.Read(c.Fd, c.in[c.inLen:])
		switch {
		case rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK:
			return false, nil
		case rerr != nil:
			return false, rerr
		case n == 0:
			return true, nil
		default:
			c.inLen += n
		}
	}
}

// DrainFrames peels off every complete frame currently buffered and
// compacts the remaining partial tail to the front of the buffer, per
// spec.md §4.1's read-path contract.
func (c *Conn) DrainFrames() ([]Frame, error) {
	var frames []Frame
	off := 0
	for {
		remaining := c.inLen - off
		if remaining < wire.HeaderSize {
			break
		}
		hdr, err := wire.ParseHeader(c.in[off : off+wire.HeaderSize])
		if err != nil {
			break
		}
		if int(hdr.Size) > len(c.in)-wire.HeaderSize {
			return frames, fmt.Errorf("transport: declared frame size %d exceeds buffer capacity", hdr.Size)
		}
		total := wire.HeaderSize + int(hdr.Size)
		if remaining < total {
			break
		}
		payload := append([]byte(nil), c.in[off+wire.HeaderSize:off+total]...)
		frames = append(frames, Frame{Code: hdr.Code, Channel: hdr.Channel, Payload: payload})
		off += total
	}
	if off > 0 {
		c.inLen -= off
		copy(c.in, c.in[off:off+c.inLen])
	}
	return frames, nil
}

// FrameBuilder implements the start/append/finish producer contract of
// spec.md §4.1: "a single logical reply may itself be multi-part... the
// transport commits the frame at finish."
type FrameBuilder struct {
	conn    *Conn
	code    uint8
	channel uint32
	payload []byte
}

// StartFrame begins building a reply on this connection's given channel.
func (c *Conn) StartFrame(code uint8, channel uint32) *FrameBuilder {
	return &FrameBuilder{conn: c, code: code, channel: channel}
}

// Append adds more payload bytes to the in-progress frame.
func (b *FrameBuilder) Append(p []byte) *FrameBuilder {
	b.payload = append(b.payload, p...)
	return b
}

// Finish commits the accumulated frame to the connection's output buffer.
// A frame that cannot fit in the buffer's fixed capacity is a fatal
// protocol violation (spec.md §4.1); the connection is marked bad and the
// caller should stop using it.
func (b *FrameBuilder) Finish() error {
	c := b.conn
	frameLen := wire.HeaderSize + len(b.payload)
	if frameLen > cap(c.out) {
		c.Good = false
		return fmt.Errorf("transport: frame of %d bytes exceeds output buffer capacity %d", frameLen, cap(c.out))
	}
	if len(c.out)+frameLen > cap(c.out) {
		c.Good = false
		return fmt.Errorf("transport: output buffer saturated, cannot queue %d more bytes", frameLen)
	}
	c.out = wire.AppendFrame(c.out, b.code, b.channel, b.payload)
	return nil
}

// SendFrame is a convenience for the common case where the whole payload is
// already assembled; equivalent to StartFrame(...).Append(payload).Finish().
func (c *Conn) SendFrame(code uint8, channel uint32, payload []byte) error {
	return c.StartFrame(code, channel).Append(payload).Finish()
}

// Flush writes queued bytes until the output buffer drains or the socket
// would block. It never blocks the event loop: a partial flush leaves the
// remainder queued and the caller re-arms write-readiness (see
// server.Server.flushOrArm).
func (c *Conn) Flush() (drained bool, err error) {
	for len(c.out) > 0 {
		n, werr := unix.Write(c.Fd, c.out)
		switch {
		case werr == unix.EAGAIN || werr == unix.EWOULDBLOCK:
			return false, nil
		case werr != nil:
			return false, werr
		case n == 0:
			return false, fmt.Errorf("transport: zero-length write")
		default:
			// Compact in place rather than reslicing from n: reslicing would
			// walk c.out's base pointer forward by n on every partial write,
			// shrinking cap(c.out) for the remainder of the connection's
			// life until Finish's fixed-capacity check starts rejecting a
			// perfectly healthy connection. copy() tolerates the overlap.
			remaining := copy(c.out, c.out[n:])
			c.out = c.out[:remaining]
		}
	}
	return true, nil
}

func (c *Conn) HasPendingWrites() bool { return len(c.out) > 0 }

// PeekOutbound returns a copy of the currently queued outbound bytes,
// without draining them, so a reply frame can be inspected without
// round-tripping through a real socket.
func (c *Conn) PeekOutbound() []byte { return append([]byte(nil), c.out...) }

// TakeOutbound returns the queued outbound bytes and clears the buffer, as
// if they had been flushed. Lets tests (and a loopback test harness) drain
// replies without a real fd.
func (c *Conn) TakeOutbound() []byte {
	out := append([]byte(nil), c.out...)
	c.out = c.out[:0]
	return out
}

func (c *Conn) Close() {
	_ = unix.Close(c.Fd)
}
