package udpserver

import (
	"encoding/binary"
	"errors"
)

// MaxPayloadBytes is the design commitment from spec.md §4.4: requests
// larger than this are rejected at parse time, ICMP-style, with no
// fragmentation or reassembly.
const MaxPayloadBytes = 1400

// Status codes carried in a Reply.
type Status uint8

const (
	StatusOK Status = iota
	StatusParseError
	StatusNotFound
)

// Request is the minimal external wire schema: a request id the client
// uses to match replies, and the model session to route for.
type Request struct {
	RequestID      uint64
	ModelSessionID string
}

// Reply carries the request id back, the selected backend endpoint (empty
// on error/not-found), and a status.
type Reply struct {
	RequestID       uint64
	BackendEndpoint string
	Status          Status
}

var errOversize = errors.New("udpserver: payload exceeds 1400 bytes")
var errTruncated = errors.New("udpserver: truncated request")

// ParseRequest decodes a wire payload into a Request. Payloads over
// MaxPayloadBytes are rejected before any parsing is attempted — the
// caller is expected to have already capped the read buffer at that size,
// this is the defense-in-depth check for payloads assembled in memory.
//
// Wire layout: 8 bytes request id (big-endian) | 2 bytes session id length
// (big-endian) | session id bytes.
func ParseRequest(buf []byte) (Request, error) {
	if len(buf) > MaxPayloadBytes {
		return Request{}, errOversize
	}
	if len(buf) < 10 {
		return Request{}, errTruncated
	}
	id := binary.BigEndian.Uint64(buf[0:8])
	n := int(binary.BigEndian.Uint16(buf[8:10]))
	if len(buf) < 10+n {
		return Request{}, errTruncated
	}
	return Request{RequestID: id, ModelSessionID: string(buf[10 : 10+n])}, nil
}

// EncodeReply serializes r for transmission. Wire layout: 8 bytes request
// id | 1 byte status | 2 bytes endpoint length | endpoint bytes.
func EncodeReply(r Reply) []byte {
	ep := []byte(r.BackendEndpoint)
	buf := make([]byte, 8+1+2+len(ep))
	binary.BigEndian.PutUint64(buf[0:8], r.RequestID)
	buf[8] = byte(r.Status)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(ep)))
	copy(buf[11:], ep)
	return buf
}
