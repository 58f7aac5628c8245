// Package coordinator implements the daemon's hard part: the global-XID
// table, the snapshot/timestamp generator, the per-XID vote tally, and the
// queue of clients parked awaiting a commit decision (spec.md §4.3).
//
// Every exported method here is meant to be called from a single goroutine
// — the event loop (spec.md §5). That is what lets GlobalXid assignment,
// snapshot emission, and vote tallying all be "trivially" linearizable
// without a lock: the call sequence the event loop makes IS the critical
// section. A mutex would just be protecting a resource nothing else can
// reach concurrently; SPEC_FULL.md §4.3 reserves locking for the
// introspection path one layer down, in transport.Pool.
package coordinator

import (
	"sort"

	set "github.com/deckarep/golang-set"

	"github.com/dtmd/dtmd/internal/logx"
)

// Coordinator owns the entire global-transaction table. It is constructed
// once at startup (spec.md §9: no globals) and driven exclusively by the
// event loop thread.
type Coordinator struct {
	log      *logx.Logger
	notifier Notifier

	maxTxns  int
	nextGxid uint64

	table map[uint64]*globalXid
	// order records StartTransaction arrival order, oldest first, so the
	// bounded-retention pruner (see maybeEvict) has a deterministic
	// candidate list instead of ranging over the map in random order.
	order []uint64

	// waiterXids is the reverse side of the parked-waiter relation: for
	// every WaiterToken currently parked, the set of gxids it is waiting
	// on. spec.md §9 calls for exactly this bidirectional relation so a
	// disconnect can be reconciled from either side.
	waiterXids map[WaiterToken]map[uint64]struct{}
}

// New builds a Coordinator with a fixed transaction-table capacity. notifier
// receives exactly one NotifyTerminal call per parked WaiterToken, once its
// transaction reaches a terminal status.
func New(maxTxns int, notifier Notifier, log *logx.Logger) *Coordinator {
	return &Coordinator{
		log:        log,
		notifier:   notifier,
		maxTxns:    maxTxns,
		nextGxid:   1, // spec.md §8 S1: the first gxid handed out is 1, not 0
		table:      make(map[uint64]*globalXid),
		waiterXids: make(map[WaiterToken]map[uint64]struct{}),
	}
}

// StartTransaction assigns a fresh monotonic gxid and registers a new
// InProgress GlobalXid for the given participants. Fails with
// MalformedRequest for an empty or NodeId-duplicating participant list, and
// CapacityExhausted if the table is full and nothing can be pruned.
func (c *Coordinator) StartTransaction(participants []Participant) (uint64, error) {
	if len(participants) == 0 {
		return 0, newError(MalformedRequest, "empty participant list")
	}
	seen := set.NewThreadUnsafeSet()
	for _, p := range participants {
		if seen.Contains(p.NodeID) {
			return 0, newError(MalformedRequest, "duplicate NodeId in participant list")
		}
		seen.Add(p.NodeID)
	}

	if len(c.table) >= c.maxTxns {
		c.maybeEvict()
		if len(c.table) >= c.maxTxns {
			return 0, newError(CapacityExhausted, "transaction table full")
		}
	}

	// Assigning the gxid and inserting the entry happen in the same call,
	// with no suspension point in between, so no GetSnapshot call can ever
	// observe a gap between "gxid handed out" and "gxid visible in the
	// live set" — spec.md §4.3's ordering requirement.
	gxid := c.nextGxid
	c.nextGxid++

	gx := newGlobalXid(gxid, append([]Participant(nil), participants...))
	c.table[gxid] = gx
	c.order = append(c.order, gxid)

	c.log.TxnDebugf(gxid, "started with %d participants", len(participants))
	return gxid, nil
}

// GetSnapshot emits a (xmin, xmax, xip) triple derived from the coordinator's
// live set at the instant of the call. Because this runs entirely within one
// event-loop tick with no suspension point, all emitted snapshots are
// totally ordered and agree with each other, per spec.md §4.3.
func (c *Coordinator) GetSnapshot(requester uint64) (xmin uint64, xmax uint64, xip []uint64, err error) {
	if _, ok := c.table[requester]; !ok {
		return 0, 0, nil, newError(UnknownXid, "")
	}
	xmax = c.nextGxid
	xip = make([]uint64, 0, len(c.table))
	for gxid, gx := range c.table {
		if gxid == requester {
			continue
		}
		if gx.status == InProgress {
			xip = append(xip, gxid)
		}
	}
	sort.Slice(xip, func(i, j int) bool { return xip[i] < xip[j] })

	// xmin is the lowest gxid still relevant to the requester's view: the
	// requester's own transaction counts (spec.md §8 S4's second snapshot
	// requires xmin=2 when gxid 2 is the sole surviving transaction), in
	// addition to every gxid still InProgress.
	xmin = xmax
	if requester < xmin {
		xmin = requester
	}
	for _, g := range xip {
		if g < xmin {
			xmin = g
		}
	}
	return xmin, xmax, xip, nil
}

// GetStatus returns the current status of gxid without parking the caller.
func (c *Coordinator) GetStatus(gxid uint64) (Status, error) {
	gx, ok := c.table[gxid]
	if !ok {
		return 0, newError(UnknownXid, "")
	}
	return gx.status, nil
}

// SetStatus casts one participant's vote and parks token until the
// transaction is terminal. The reply is always delivered through
// Notifier.NotifyTerminal — including for the very call that makes the
// decision final — so the "exactly once, only after terminal" guarantee
// has a single code path instead of a special case for the deciding vote.
func (c *Coordinator) SetStatus(gxid uint64, nodeID uint32, vote Vote, token WaiterToken) error {
	gx, ok := c.table[gxid]
	if !ok {
		return newError(UnknownXid, "")
	}
	if !gx.isParticipant(nodeID) {
		return newError(MalformedRequest, "NodeId is not a participant of this transaction")
	}
	if gx.voted[nodeID] {
		return newError(DuplicateVote, "")
	}
	gx.voted[nodeID] = true

	if gx.status != InProgress {
		// Late vote on an already-decided transaction (e.g. spec.md §8
		// scenario S3): the caller still gets exactly one terminal reply,
		// it just doesn't affect the tally.
		c.notifier.NotifyTerminal(token, gxid, gx.status)
		return nil
	}

	c.park(token, gxid)
	if gx.applyVote(vote) {
		c.release(gx)
	}
	return nil
}

// park records token as awaiting gxid's decision, on both sides of the
// waiter relation (spec.md §9).
func (c *Coordinator) park(token WaiterToken, gxid uint64) {
	gx := c.table[gxid]
	gx.waiters = append(gx.waiters, token)

	set, ok := c.waiterXids[token]
	if !ok {
		set = make(map[uint64]struct{}, 1)
		c.waiterXids[token] = set
	}
	set[gxid] = struct{}{}
}

// release notifies every parked waiter on gx exactly once and clears the
// waiter relation on both sides.
func (c *Coordinator) release(gx *globalXid) {
	c.log.TxnDebugf(gx.id, "terminal: %s, releasing %d waiter(s)", gx.status, len(gx.waiters))
	for _, token := range gx.waiters {
		if set, ok := c.waiterXids[token]; ok {
			delete(set, gx.id)
			if len(set) == 0 {
				delete(c.waiterXids, token)
			}
		}
		c.notifier.NotifyTerminal(token, gx.id, gx.status)
	}
	gx.waiters = nil
}

// Disconnect removes token's park slot from every transaction it was
// waiting on, without altering any vote tally — spec.md §3/§8's
// disconnect-safety invariant. Called by the dispatcher when a channel
// dies, whether by MSG_DISCONNECT or connection teardown.
func (c *Coordinator) Disconnect(token WaiterToken) {
	gxids, ok := c.waiterXids[token]
	if !ok {
		return
	}
	for gxid := range gxids {
		gx, ok := c.table[gxid]
		if !ok {
			continue
		}
		for i, w := range gx.waiters {
			if w == token {
				gx.waiters = append(gx.waiters[:i], gx.waiters[i+1:]...)
				break
			}
		}
	}
	delete(c.waiterXids, token)
}

// maybeEvict prunes every terminal, waiterless transaction, scanning the
// arrival-order queue oldest first, to make room for new ones, implementing
// the "bounded retention policy" spec.md §3 allows. It never evicts an
// InProgress transaction or one with outstanding waiters.
func (c *Coordinator) maybeEvict() {
	kept := c.order[:0:0]
	for _, gxid := range c.order {
		gx, ok := c.table[gxid]
		if !ok {
			continue
		}
		if gx.status != InProgress && len(gx.waiters) == 0 {
			delete(c.table, gxid)
			continue
		}
		kept = append(kept, gxid)
	}
	c.order = kept
}

// Len reports how many transactions the coordinator currently tracks.
func (c *Coordinator) Len() int {
	return len(c.table)
}
