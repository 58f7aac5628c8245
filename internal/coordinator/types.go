package coordinator

import "fmt"

// Status is the terminal/non-terminal state of a GlobalXid, per spec.md §3.
type Status uint8

const (
	InProgress Status = iota
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "InProgress"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Vote is a participant's ballot in REQ_SETSTATUS.
type Vote uint8

const (
	VoteCommit Vote = 1
	VoteAbort  Vote = 2
)

// Participant is one (NodeId, LocalXid) pair bound into a GlobalXid at
// StartTransaction time.
type Participant struct {
	NodeID   uint32
	LocalXid uint64
}

// WaiterToken identifies the channel a blocking SetStatus call came in on,
// well enough for the coordinator to hand it back to the transport layer
// without importing the transport or registry packages. It is the
// (connection index, channel id) pair named in spec.md §9's redesign note.
type WaiterToken struct {
	ConnIdx   int32
	ChannelID uint32
}

// Notifier is how the coordinator hands a terminal decision back to the
// layer that owns the sockets. Exactly one call per WaiterToken per
// transaction, per spec.md §3's "awakened exactly once" invariant.
type Notifier interface {
	NotifyTerminal(token WaiterToken, gxid uint64, status Status)
}

// ErrorKind enumerates the coordinator-level failures named in spec.md §7.
// It is a distinct type from wire.ErrorKind so that this package has no
// dependency on the wire encoding; the dispatcher maps one to the other.
type ErrorKind int

const (
	MalformedRequest ErrorKind = iota + 1
	UnknownXid
	DuplicateVote
	CapacityExhausted
	InternalError
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedRequest:
		return "MalformedRequest"
	case UnknownXid:
		return "UnknownXid"
	case DuplicateVote:
		return "DuplicateVote"
	case CapacityExhausted:
		return "CapacityExhausted"
	case InternalError:
		return "InternalError"
	default:
		return "UnknownErrorKind"
	}
}

// Error wraps an ErrorKind as a regular Go error, so callers can use
// errors.As/errors.Is if they need the structured kind back.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}
