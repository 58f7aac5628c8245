package coordinator

// globalXid is the coordinator's record of one global transaction, per
// spec.md §3. It is only ever touched from the event loop goroutine (§5),
// so it carries no lock of its own — see Coordinator's doc comment.
type globalXid struct {
	id           uint64
	participants []Participant
	status       Status

	votesNeeded   int
	votesReceived int
	voted         map[uint32]bool // NodeID -> has voted, for DuplicateVote detection

	waiters []WaiterToken // parked channels awaiting this transaction's decision
}

func newGlobalXid(id uint64, participants []Participant) *globalXid {
	voted := make(map[uint32]bool, len(participants))
	return &globalXid{
		id:           id,
		participants: participants,
		status:       InProgress,
		votesNeeded:  len(participants),
		voted:        voted,
	}
}

func (g *globalXid) isParticipant(nodeID uint32) bool {
	for _, p := range g.participants {
		if p.NodeID == nodeID {
			return true
		}
	}
	return false
}

// applyVote tallies a single participant's vote and returns whether this
// call just made the transaction terminal. It must only be called while
// g.status == InProgress.
func (g *globalXid) applyVote(vote Vote) (becameTerminal bool) {
	g.votesReceived++
	if vote == VoteAbort {
		g.status = Aborted
		return true
	}
	if g.votesReceived == g.votesNeeded {
		g.status = Committed
		return true
	}
	return false
}
