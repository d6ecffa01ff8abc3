// Package protocol holds the wire-level constants and the reply codec shared
// by the responder and the client.
//
// Requests are opaque: the whole datagram is the payload and nothing in it is
// interpreted. Replies carry exactly one value, the shared counter snapshot,
// encoded as a 4-byte unsigned integer in network byte order.
package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	// Port is the default UDP port the responder binds on every interface.
	Port = 12345

	// BufferSize is the default receive capacity in bytes. Datagrams longer
	// than this are truncated by the kernel.
	BufferSize = 1024

	// MaxBufferSize is the largest UDP payload an IPv4 datagram can carry.
	MaxBufferSize = 65535

	// ReplySize is the length of every reply datagram.
	ReplySize = 4

	// CounterModulus bounds the shared counter to [0, CounterModulus).
	CounterModulus = 10

	// UpdateInterval is the default period of the background counter updater.
	UpdateInterval = time.Second

	// ClientMessage is the default payload sent by the client utility.
	ClientMessage = "Hello from UDP client"

	// ClientServer is the default address the client utility targets.
	ClientServer = "127.0.0.1:12345"
)

// BroadcastIPv4 is the link-local limited broadcast address (all ones).
var BroadcastIPv4 = net.IPv4bcast

// EncodeCounter returns the reply body for a counter snapshot.
func EncodeCounter(v uint32) []byte {
	b := make([]byte, ReplySize)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// DecodeCounter parses a reply body produced by EncodeCounter.
//
// Returns an error if b is not exactly ReplySize bytes long.
func DecodeCounter(b []byte) (uint32, error) {
	if len(b) != ReplySize {
		return 0, fmt.Errorf("reply is %d bytes, want %d", len(b), ReplySize)
	}
	return binary.BigEndian.Uint32(b), nil
}
