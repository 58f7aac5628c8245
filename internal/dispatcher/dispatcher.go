// Package dispatcher is spec.md §4.4's Command Dispatcher: it decodes each
// wire frame into a typed coordinator call, and turns a coordinator.Notifier
// callback back into a framed reply. It is the only package that imports
// both wire and coordinator, keeping each free of the other.
package dispatcher

import (
	"errors"

	"github.com/dtmd/dtmd/internal/coordinator"
	"github.com/dtmd/dtmd/internal/logx"
	"github.com/dtmd/dtmd/internal/registry"
	"github.com/dtmd/dtmd/internal/transport"
	"github.com/dtmd/dtmd/internal/wire"
)

// Dispatcher implements registry.Handler (frames arriving from the
// transport layer) and coordinator.Notifier (terminal decisions flowing
// back out), gluing the daemon's three independent layers together.
type Dispatcher struct {
	coord *coordinator.Coordinator
	pool  *transport.Pool
	log   *logx.Logger
}

func New(coord *coordinator.Coordinator, pool *transport.Pool, log *logx.Logger) *Dispatcher {
	return &Dispatcher{coord: coord, pool: pool, log: log}
}

// SetCoordinator binds the coordinator after construction, for the one
// wiring order where the coordinator's constructor needs a Notifier (the
// Dispatcher itself) before the Dispatcher can be given its Coordinator —
// see server.New.
func (d *Dispatcher) SetCoordinator(coord *coordinator.Coordinator) {
	d.coord = coord
}

// Connected is a no-op: spec.md §4.2's per-channel state is the registry
// slot itself, and the coordinator has nothing to allocate until a request
// actually arrives on the channel.
func (d *Dispatcher) Connected(ch *registry.Channel) {}

// Disconnected releases any parked waiter slot this channel held, without
// touching vote tallies — spec.md §4.3's disconnect-safety tie-break.
func (d *Dispatcher) Disconnected(ch *registry.Channel) {
	d.coord.Disconnect(coordinator.WaiterToken{ConnIdx: ch.ConnIdx, ChannelID: ch.ID})
}

// Message decodes one request frame and drives the coordinator. Replies
// that can be produced synchronously are sent immediately on the same
// channel; SetStatus instead parks the channel and relies on NotifyTerminal.
func (d *Dispatcher) Message(ch *registry.Channel, code uint8, payload []byte) error {
	conn := d.pool.Get(ch.ConnIdx)
	if conn == nil {
		return nil // connection already torn down this tick; nothing to reply to
	}

	switch code {
	case wire.CodeReqStart:
		return d.handleStart(conn, ch, payload)
	case wire.CodeReqSnapshot:
		return d.handleSnapshot(conn, ch, payload)
	case wire.CodeReqSetStatus:
		return d.handleSetStatus(conn, ch, payload)
	case wire.CodeReqGetStatus:
		return d.handleGetStatus(conn, ch, payload)
	default:
		return d.replyError(conn, ch.ID, wire.ErrMalformedRequest)
	}
}

func (d *Dispatcher) handleStart(conn *transport.Conn, ch *registry.Channel, payload []byte) error {
	parts, err := wire.DecodeStartRequest(payload)
	if err != nil {
		return d.replyError(conn, ch.ID, wire.ErrMalformedRequest)
	}
	cparts := make([]coordinator.Participant, len(parts))
	for i, p := range parts {
		cparts[i] = coordinator.Participant{NodeID: p.NodeID, LocalXid: p.LocalXid}
	}

	gxid, err := d.coord.StartTransaction(cparts)
	if err != nil {
		return d.replyCoordError(conn, ch.ID, err)
	}
	return conn.SendFrame(wire.CodeReqStart, ch.ID, wire.EncodeStartReply(gxid))
}

func (d *Dispatcher) handleSnapshot(conn *transport.Conn, ch *registry.Channel, payload []byte) error {
	gxid, err := wire.DecodeSnapshotRequest(payload)
	if err != nil {
		return d.replyError(conn, ch.ID, wire.ErrMalformedRequest)
	}
	xmin, xmax, xip, err := d.coord.GetSnapshot(gxid)
	if err != nil {
		return d.replyCoordError(conn, ch.ID, err)
	}
	return conn.SendFrame(wire.CodeReqSnapshot, ch.ID, wire.EncodeSnapshotReply(xmin, xmax, xip))
}

func (d *Dispatcher) handleGetStatus(conn *transport.Conn, ch *registry.Channel, payload []byte) error {
	gxid, err := wire.DecodeGetStatusRequest(payload)
	if err != nil {
		return d.replyError(conn, ch.ID, wire.ErrMalformedRequest)
	}
	status, err := d.coord.GetStatus(gxid)
	if err != nil {
		return d.replyCoordError(conn, ch.ID, err)
	}
	return conn.SendFrame(wire.CodeReqGetStatus, ch.ID, wire.EncodeGetStatusReply(statusToWire(status)))
}

func (d *Dispatcher) handleSetStatus(conn *transport.Conn, ch *registry.Channel, payload []byte) error {
	gxid, nodeID, voteByte, err := wire.DecodeSetStatusRequest(payload)
	if err != nil {
		return d.replyError(conn, ch.ID, wire.ErrMalformedRequest)
	}
	vote, err := voteFromWire(voteByte)
	if err != nil {
		return d.replyError(conn, ch.ID, wire.ErrMalformedRequest)
	}

	token := coordinator.WaiterToken{ConnIdx: ch.ConnIdx, ChannelID: ch.ID}
	if err := d.coord.SetStatus(gxid, nodeID, vote, token); err != nil {
		return d.replyCoordError(conn, ch.ID, err)
	}
	// No reply here: SetStatus withholds its response until terminal,
	// delivered later through NotifyTerminal (spec.md §4.3).
	return nil
}

// NotifyTerminal implements coordinator.Notifier: a parked SetStatus call
// finally has an answer, so encode and queue its reply.
func (d *Dispatcher) NotifyTerminal(token coordinator.WaiterToken, gxid uint64, status coordinator.Status) {
	conn := d.pool.Get(token.ConnIdx)
	if conn == nil {
		return // the connection disconnected; Coordinator.Disconnect already cleared its parks
	}
	payload := wire.EncodeSetStatusReply(statusToWire(status))
	if err := conn.SendFrame(wire.CodeReqSetStatus, token.ChannelID, payload); err != nil {
		d.log.Warnf("conn %d: dropping terminal reply for gxid %d: %v", token.ConnIdx, gxid, err)
	}
}

func (d *Dispatcher) replyError(conn *transport.Conn, channel uint32, kind wire.ErrorKind) error {
	return conn.SendFrame(wire.CodeError, channel, wire.EncodeError(kind))
}

func (d *Dispatcher) replyCoordError(conn *transport.Conn, channel uint32, err error) error {
	return d.replyError(conn, channel, errorKindToWire(err))
}

func errorKindToWire(err error) wire.ErrorKind {
	cerr, ok := err.(*coordinator.Error)
	if !ok {
		return wire.ErrInternalError
	}
	switch cerr.Kind {
	case coordinator.MalformedRequest:
		return wire.ErrMalformedRequest
	case coordinator.UnknownXid:
		return wire.ErrUnknownXid
	case coordinator.DuplicateVote:
		return wire.ErrDuplicateVote
	case coordinator.CapacityExhausted:
		return wire.ErrCapacityExhausted
	default:
		return wire.ErrInternalError
	}
}

func statusToWire(s coordinator.Status) uint8 {
	switch s {
	case coordinator.Committed:
		return wire.StatusCommitted
	case coordinator.Aborted:
		return wire.StatusAborted
	default:
		return wire.StatusInProgress
	}
}

func voteFromWire(b uint8) (coordinator.Vote, error) {
	switch b {
	case wire.VoteCommit:
		return coordinator.VoteCommit, nil
	case wire.VoteAbort:
		return coordinator.VoteAbort, nil
	default:
		return 0, errBadVote
	}
}

var errBadVote = errors.New("dispatcher: unrecognized vote byte")
