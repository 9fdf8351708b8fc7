package p2p

import (
	"fmt"
	"time"
)

/*
 * message structure, big endian
 * |-------------------------------- head ---------------------------------|
 * +-----------+-----------+--------------+---------------+----------------+-------------------+
 * |  Length   |  Version  |  ProtocolID  |  PacketType   |      Seq       |      Payload      |
 * |  4 bytes  |  2 bytes  |   4 bytes    |    2 bytes    |    4 bytes     |  Length-16 bytes  |
 * +-----------+-----------+--------------+---------------+----------------+-------------------+
 *
 * Version structure
 * +----------+------------------------+
 * | Compress |        Version         |
 * |  1 bit   |        15 bits         |
 * +----------+------------------------+
 * ProtocolID: negative means a response to the request with -ProtocolID and the same Seq
 */

const HeaderLength = 16

// VersionCompressFlag is set in the Version field when Payload is snappy compressed
const VersionCompressFlag uint16 = 0x8000

// MsgVersion is the protocol version this node speaks
const MsgVersion uint16 = 1

// Msg is a decoded wire message
type Msg struct {
	Version    uint16
	ProtocolID int32
	PacketType uint16
	Seq        uint32
	Payload    []byte
	ReceivedAt time.Time
}

// NewMsg build a request message
func NewMsg(protocolID int32, packetType uint16, payload []byte) *Msg {
	return &Msg{
		Version:    MsgVersion,
		ProtocolID: protocolID,
		PacketType: packetType,
		Payload:    payload,
	}
}

// IsResponse return true if msg answers a former request
func (msg *Msg) IsResponse() bool {
	return msg.ProtocolID < 0
}

// Compressed return true if the compress flag is set
func (msg *Msg) Compressed() bool {
	return msg.Version&VersionCompressFlag != 0
}

// Length is the encoded size without compression
func (msg *Msg) Length() int {
	return HeaderLength + len(msg.Payload)
}

// Response build the answer to req, carrying -req.ProtocolID and req.Seq
func (msg *Msg) Response(payload []byte) *Msg {
	pid := msg.ProtocolID
	if pid > 0 {
		pid = -pid
	}

	return &Msg{
		Version:    MsgVersion,
		ProtocolID: pid,
		PacketType: msg.PacketType,
		Seq:        msg.Seq,
		Payload:    payload,
	}
}

// Copy return a shallow copy, Payload is shared
func (msg *Msg) Copy() *Msg {
	m := *msg
	return &m
}

func (msg *Msg) String() string {
	return fmt.Sprintf("<protocol=%d packet=%d seq=%d len=%d>", msg.ProtocolID, msg.PacketType, msg.Seq, len(msg.Payload))
}
