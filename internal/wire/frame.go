// Package wire defines the byte-exact frame layout dtmd speaks with its
// clients: a fixed header followed by a payload, little-endian throughout.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the number of bytes in a frame header: size(4) + code(1) + chan(4).
const HeaderSize = 4 + 1 + 4

// Reserved request/response codes. Exact values are a local choice, fixed
// here and never renegotiated with a client.
const (
	CodeReqStart      uint8 = 1
	CodeReqSnapshot   uint8 = 2
	CodeReqSetStatus  uint8 = 3
	CodeReqGetStatus  uint8 = 4
	CodeMsgDisconnect uint8 = 5
	CodeError         uint8 = 0xFF
)

// Vote values carried in a REQ_SETSTATUS payload.
const (
	VoteCommit uint8 = 1
	VoteAbort  uint8 = 2
)

// Status values carried in replies.
const (
	StatusInProgress uint8 = 0
	StatusCommitted  uint8 = 1
	StatusAborted    uint8 = 2
)

// ErrorKind enumerates the error envelope payload (code = CodeError).
type ErrorKind uint8

const (
	ErrMalformedRequest ErrorKind = 1
	ErrUnknownXid       ErrorKind = 2
	ErrDuplicateVote     ErrorKind = 3
	ErrCapacityExhausted ErrorKind = 4
	ErrInternalError     ErrorKind = 5
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMalformedRequest:
		return "MalformedRequest"
	case ErrUnknownXid:
		return "UnknownXid"
	case ErrDuplicateVote:
		return "DuplicateVote"
	case ErrCapacityExhausted:
		return "CapacityExhausted"
	case ErrInternalError:
		return "InternalError"
	default:
		return "UnknownErrorKind"
	}
}

// ErrHeaderTooShort is returned by ParseHeader when fewer than HeaderSize
// bytes are available; callers should treat this as "need more bytes", not
// as a framing violation.
var ErrHeaderTooShort = errors.New("wire: short header")

// Header is the fixed 9-byte prefix of every frame.
type Header struct {
	Size    uint32 // payload bytes only, not counting the header
	Code    uint8
	Channel uint32
}

// PutHeader encodes h into the first HeaderSize bytes of dst.
func PutHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Size)
	dst[4] = h.Code
	binary.LittleEndian.PutUint32(dst[5:9], h.Channel)
}

// ParseHeader decodes a Header from the front of buf. It returns
// ErrHeaderTooShort when buf is shorter than HeaderSize; this is not a
// protocol violation, just a signal to wait for more bytes.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooShort
	}
	return Header{
		Size:    binary.LittleEndian.Uint32(buf[0:4]),
		Code:    buf[4],
		Channel: binary.LittleEndian.Uint32(buf[5:9]),
	}, nil
}

// AppendFrame appends a complete frame (header + payload) to dst and returns
// the grown slice.
func AppendFrame(dst []byte, code uint8, channel uint32, payload []byte) []byte {
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], Header{Size: uint32(len(payload)), Code: code, Channel: channel})
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	return dst
}

// PutUint32 / PutUint64 and their Get counterparts are small
// payload-encoding helpers shared by the coordinator request/reply bodies;
// all multi-byte fields on the wire are little-endian per §6.

func PutUint32(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func PutUint64(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }
func GetUint32(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }
func GetUint64(src []byte) uint64    { return binary.LittleEndian.Uint64(src) }
