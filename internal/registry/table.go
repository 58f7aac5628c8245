// Package registry implements the per-connection logical-channel table
// spec.md §3 and §4.2 describe: many independent request/reply streams
// multiplexed over one TCP connection, each identified by a small integer
// channel id. A Table is owned exclusively by its Connection (spec.md §3 —
// "Connection owns its buffers and channel maps exclusively"); the server's
// event loop reaches it only through the owning Conn's Channels field.
package registry

import (
	"fmt"
	"sort"
)

// Channel is one live logical stream on a connection. ConnIdx lets a
// Handler address the owning connection without the table needing to hold
// a back-pointer to it.
type Channel struct {
	ConnIdx int32
	ID      uint32
}

// Handler is the capability-set interface spec.md §9 asks for in place of
// the original's function-pointer callbacks: Connected/Disconnected/Message
// replace a struct of three raw function pointers passed around by void*.
type Handler interface {
	Connected(ch *Channel)
	Disconnected(ch *Channel)
	Message(ch *Channel, code uint8, payload []byte) error
}

// Table holds every channel currently open on one connection, addressed by
// channel id within a fixed, configured ceiling (spec.md §3's MAX_CHANNELS).
type Table struct {
	connIdx  int32
	maxChans int
	slots    map[uint32]*Channel
}

// NewTable builds an empty table bounded to maxChans live channels.
func NewTable(maxChans int) *Table {
	return &Table{
		maxChans: maxChans,
		slots:    make(map[uint32]*Channel),
	}
}

// Bind associates this table with its owning connection's pool index, so
// Channel values it hands out carry a valid ConnIdx. Called once, from
// Pool.Acquire.
func (t *Table) Bind(connIdx int32) {
	t.connIdx = connIdx
}

// HandleFrame routes one decoded frame to h, creating the channel record on
// first sight and tearing it down on wire.CodeMsgDisconnect. It is the
// single place that knows about the disconnect-message special case,
// keeping that knowledge out of both transport and dispatcher.
func (t *Table) HandleFrame(channelID uint32, code uint8, payload []byte, h Handler) error {
	ch, ok := t.slots[channelID]
	if !ok {
		if len(t.slots) >= t.maxChans {
			return fmt.Errorf("registry: channel table full (max %d)", t.maxChans)
		}
		ch = &Channel{ConnIdx: t.connIdx, ID: channelID}
		t.slots[channelID] = ch
		h.Connected(ch)
	}

	if code == disconnectCode {
		delete(t.slots, channelID)
		h.Disconnected(ch)
		return nil
	}

	return h.Message(ch, code, payload)
}

// CloseAll tears down every channel still open on this table, in channel-id
// order, used when the owning connection itself is torn down. Iteration
// order doesn't need to be deterministic for correctness, but a stable
// order keeps log output and tests readable.
func (t *Table) CloseAll(h Handler) {
	ids := make([]uint32, 0, len(t.slots))
	for id := range t.slots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ch := t.slots[id]
		delete(t.slots, id)
		h.Disconnected(ch)
	}
}

// Len reports how many channels are currently open.
func (t *Table) Len() int { return len(t.slots) }

// disconnectCode mirrors wire.CodeMsgDisconnect. Registry intentionally
// does not import the wire package (it stays codec-agnostic); this constant
// is checked against wire's by TestDisconnectCodeMatchesWire in table_test.go.
const disconnectCode = 5
