package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtmd/dtmd/internal/logx"
)

type recordedNotification struct {
	token  WaiterToken
	gxid   uint64
	status Status
}

type fakeNotifier struct {
	calls []recordedNotification
}

func (f *fakeNotifier) NotifyTerminal(token WaiterToken, gxid uint64, status Status) {
	f.calls = append(f.calls, recordedNotification{token, gxid, status})
}

func newTestCoordinator(capacity int) (*Coordinator, *fakeNotifier) {
	n := &fakeNotifier{}
	return New(capacity, n, logx.New(nil, logx.LevelError)), n
}

func tok(ch uint32) WaiterToken { return WaiterToken{ConnIdx: 1, ChannelID: ch} }

// S1 — single-node commit.
func TestScenarioS1SingleNodeCommit(t *testing.T) {
	c, n := newTestCoordinator(16)
	gxid, err := c.StartTransaction([]Participant{{NodeID: 0, LocalXid: 100}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gxid)

	require.NoError(t, c.SetStatus(gxid, 0, VoteCommit, tok(1)))
	require.Len(t, n.calls, 1)
	assert.Equal(t, Committed, n.calls[0].status)

	status, err := c.GetStatus(gxid)
	require.NoError(t, err)
	assert.Equal(t, Committed, status)
}

// S2 — two-node commit: neither reply arrives until both have voted.
func TestScenarioS2TwoNodeCommit(t *testing.T) {
	c, n := newTestCoordinator(16)
	gxid, err := c.StartTransaction([]Participant{{NodeID: 0, LocalXid: 100}, {NodeID: 1, LocalXid: 200}})
	require.NoError(t, err)

	require.NoError(t, c.SetStatus(gxid, 0, VoteCommit, tok(1)))
	assert.Empty(t, n.calls, "no reply before all participants have voted")

	require.NoError(t, c.SetStatus(gxid, 1, VoteCommit, tok(2)))
	require.Len(t, n.calls, 2)
	assert.Equal(t, Committed, n.calls[0].status)
	assert.Equal(t, Committed, n.calls[1].status)
}

// S3 — abort short-circuits: the aborting voter gets an immediate reply,
// and the late commit voter also sees Aborted.
func TestScenarioS3AbortShortCircuits(t *testing.T) {
	c, n := newTestCoordinator(16)
	gxid, err := c.StartTransaction([]Participant{{NodeID: 0, LocalXid: 100}, {NodeID: 1, LocalXid: 200}})
	require.NoError(t, err)

	require.NoError(t, c.SetStatus(gxid, 0, VoteAbort, tok(1)))
	require.Len(t, n.calls, 1)
	assert.Equal(t, Aborted, n.calls[0].status)

	require.NoError(t, c.SetStatus(gxid, 1, VoteCommit, tok(2)))
	require.Len(t, n.calls, 2)
	assert.Equal(t, Aborted, n.calls[1].status)
}

// S4 — snapshot exclusion.
func TestScenarioS4SnapshotExclusion(t *testing.T) {
	c, _ := newTestCoordinator(16)
	t1, err := c.StartTransaction([]Participant{{NodeID: 0, LocalXid: 1}, {NodeID: 1, LocalXid: 2}})
	require.NoError(t, err)
	t2, err := c.StartTransaction([]Participant{{NodeID: 2, LocalXid: 3}})
	require.NoError(t, err)

	xmin, xmax, xip, err := c.GetSnapshot(t2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{t1}, xip)
	assert.Equal(t, uint64(3), xmax)
	assert.Equal(t, uint64(1), xmin)

	tokA, tokB := tok(10), tok(11)
	require.NoError(t, c.SetStatus(t1, 0, VoteCommit, tokA))
	require.NoError(t, c.SetStatus(t1, 1, VoteCommit, tokB))

	xmin, xmax, xip, err = c.GetSnapshot(t2)
	require.NoError(t, err)
	assert.Empty(t, xip)
	assert.Equal(t, uint64(3), xmax)
	assert.Equal(t, uint64(2), xmin)
}

// S5 — unknown xid.
func TestScenarioS5UnknownXid(t *testing.T) {
	c, _ := newTestCoordinator(16)
	_, err := c.GetStatus(99999)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, UnknownXid, cerr.Kind)
}

// S6 — duplicate vote.
func TestScenarioS6DuplicateVote(t *testing.T) {
	c, n := newTestCoordinator(16)
	gxid, err := c.StartTransaction([]Participant{{NodeID: 0, LocalXid: 100}, {NodeID: 1, LocalXid: 200}})
	require.NoError(t, err)

	require.NoError(t, c.SetStatus(gxid, 0, VoteCommit, tok(1)))
	assert.Empty(t, n.calls)

	err = c.SetStatus(gxid, 0, VoteCommit, tok(1))
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, DuplicateVote, cerr.Kind)

	status, err := c.GetStatus(gxid)
	require.NoError(t, err)
	assert.Equal(t, InProgress, status, "the duplicate must not mutate the tally")
}

func TestStartTransactionRejectsEmptyParticipants(t *testing.T) {
	c, _ := newTestCoordinator(16)
	_, err := c.StartTransaction(nil)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, MalformedRequest, cerr.Kind)
}

func TestStartTransactionRejectsDuplicateNodeID(t *testing.T) {
	c, _ := newTestCoordinator(16)
	_, err := c.StartTransaction([]Participant{{NodeID: 0, LocalXid: 1}, {NodeID: 0, LocalXid: 2}})
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, MalformedRequest, cerr.Kind)
}

func TestGxidMonotonic(t *testing.T) {
	c, _ := newTestCoordinator(16)
	var prev uint64
	for i := 0; i < 10; i++ {
		g, err := c.StartTransaction([]Participant{{NodeID: uint32(i), LocalXid: 1}})
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, g, prev)
		}
		prev = g
	}
}

// Disconnect safety: removing a parked waiter must not touch the tally, and
// must not affect other waiters on the same transaction.
func TestDisconnectSafety(t *testing.T) {
	c, n := newTestCoordinator(16)
	gxid, err := c.StartTransaction([]Participant{{NodeID: 0, LocalXid: 1}, {NodeID: 1, LocalXid: 2}})
	require.NoError(t, err)

	require.NoError(t, c.SetStatus(gxid, 0, VoteCommit, tok(1)))
	c.Disconnect(tok(1))
	assert.Empty(t, n.calls)

	require.NoError(t, c.SetStatus(gxid, 1, VoteCommit, tok(2)))
	// tok(1) already disconnected and must not be notified; tok(2) must be.
	require.Len(t, n.calls, 1)
	assert.Equal(t, tok(2), n.calls[0].token)
	assert.Equal(t, Committed, n.calls[0].status)
}

func TestCapacityExhausted(t *testing.T) {
	c, _ := newTestCoordinator(1)
	_, err := c.StartTransaction([]Participant{{NodeID: 0, LocalXid: 1}})
	require.NoError(t, err)

	_, err = c.StartTransaction([]Participant{{NodeID: 1, LocalXid: 2}})
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CapacityExhausted, cerr.Kind)
}

func TestCapacityReclaimedAfterTerminalAndReleased(t *testing.T) {
	c, _ := newTestCoordinator(1)
	g1, err := c.StartTransaction([]Participant{{NodeID: 0, LocalXid: 1}})
	require.NoError(t, err)
	require.NoError(t, c.SetStatus(g1, 0, VoteCommit, tok(1)))

	g2, err := c.StartTransaction([]Participant{{NodeID: 1, LocalXid: 2}})
	require.NoError(t, err, "a terminal, waiterless transaction should be prunable to make room")
	assert.NotEqual(t, g1, g2)
}
