package wire

import "fmt"

// Participant is one (NodeId, LocalXid) pair carried in a REQ_START payload.
type Participant struct {
	NodeID   uint32
	LocalXid uint64
}

// DecodeStartRequest parses a REQ_START payload: u32 n, n x {u32 NodeId, u64 LocalXid}.
func DecodeStartRequest(payload []byte) ([]Participant, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("wire: start request too short")
	}
	n := GetUint32(payload[0:4])
	want := 4 + int(n)*12
	if want < 0 || len(payload) != want {
		return nil, fmt.Errorf("wire: start request size mismatch")
	}
	out := make([]Participant, n)
	off := 4
	for i := range out {
		out[i] = Participant{
			NodeID:   GetUint32(payload[off : off+4]),
			LocalXid: GetUint64(payload[off+4 : off+12]),
		}
		off += 12
	}
	return out, nil
}

// EncodeStartReply encodes the REQ_START success reply: u64 gxid.
func EncodeStartReply(gxid uint64) []byte {
	buf := make([]byte, 8)
	PutUint64(buf, gxid)
	return buf
}

// DecodeSnapshotRequest parses a REQ_SNAPSHOT payload: u64 gxid.
func DecodeSnapshotRequest(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, fmt.Errorf("wire: snapshot request size mismatch")
	}
	return GetUint64(payload), nil
}

// EncodeSnapshotReply encodes u64 xmin, u64 xmax, u32 n, n x u64 xip.
func EncodeSnapshotReply(xmin, xmax uint64, xip []uint64) []byte {
	buf := make([]byte, 8+8+4+8*len(xip))
	PutUint64(buf[0:8], xmin)
	PutUint64(buf[8:16], xmax)
	PutUint32(buf[16:20], uint32(len(xip)))
	off := 20
	for _, g := range xip {
		PutUint64(buf[off:off+8], g)
		off += 8
	}
	return buf
}

// DecodeSetStatusRequest parses a REQ_SETSTATUS payload: u64 gxid, u32
// NodeId, u8 vote. NodeId is carried explicitly so the coordinator can
// distinguish votes per spec.md §4.3's tie-break note ("participants are
// distinguished by NodeId carried in the vote message") — see SPEC_FULL.md
// §6 for why this is wider than the request's originally documented layout.
func DecodeSetStatusRequest(payload []byte) (gxid uint64, nodeID uint32, vote uint8, err error) {
	if len(payload) != 13 {
		return 0, 0, 0, fmt.Errorf("wire: set-status request size mismatch")
	}
	return GetUint64(payload[0:8]), GetUint32(payload[8:12]), payload[12], nil
}

// EncodeSetStatusReply / EncodeGetStatusReply both encode a single u8 status byte.
func EncodeSetStatusReply(status uint8) []byte { return []byte{status} }
func EncodeGetStatusReply(status uint8) []byte { return []byte{status} }

// DecodeGetStatusRequest parses a REQ_GETSTATUS payload: u64 gxid.
func DecodeGetStatusRequest(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, fmt.Errorf("wire: get-status request size mismatch")
	}
	return GetUint64(payload), nil
}

// EncodeError encodes the error envelope payload: u8 errorKind.
func EncodeError(kind ErrorKind) []byte {
	return []byte{byte(kind)}
}
