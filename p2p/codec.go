/*
 * Copyright 2018 The go-vite Authors
 * This file is part of the go-vite library.
 *
 * The go-vite library is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * The go-vite library is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Lesser General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public License
 * along with the go-vite library. If not, see <http://www.gnu.org/licenses/>.
 */

package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

const DefaultMaxMsgLength = 1 << 20 // 1MB on the wire
const DefaultMinCompressLength = 1024
const decodedLengthFactor = 32 // a compressed payload may expand to at most maxLength*32

// ErrIncomplete means the buffer does not hold a whole message yet, read more and retry
var ErrIncomplete = errors.New("incomplete message")

var errMsgTooLarge = errors.New("message is too large")
var errMsgTooShort = errors.New("declared length is shorter than header")

// BadMsgError is a hard decode failure, the stream can not be resynchronized
type BadMsgError struct {
	Err error
}

func (e *BadMsgError) Error() string {
	return "bad message: " + e.Err.Error()
}

func (e *BadMsgError) Unwrap() error {
	return e.Err
}

// Codec turns Msg into bytes and back, it is stateless and safe for concurrent use
type Codec struct {
	compress          bool
	minCompressLength int // will not compress message payload if small than minCompressLength bytes
	maxLength         int
}

// NewCodec create a codec, maxLength <= 0 means DefaultMaxMsgLength
func NewCodec(compress bool, minCompressLength, maxLength int) *Codec {
	if maxLength <= 0 {
		maxLength = DefaultMaxMsgLength
	}
	if minCompressLength <= 0 {
		minCompressLength = DefaultMinCompressLength
	}

	return &Codec{
		compress:          compress,
		minCompressLength: minCompressLength,
		maxLength:         maxLength,
	}
}

// MaxLength is the largest encoded message accepted by Encode and Decode
func (c *Codec) MaxLength() int {
	return c.maxLength
}

// Encode msg, msg itself is not modified
func (c *Codec) Encode(msg *Msg) ([]byte, error) {
	version := msg.Version
	payload := msg.Payload

	// payload carrying the flag is already compressed
	if c.compress && version&VersionCompressFlag == 0 && len(payload) > c.minCompressLength {
		compressed := snappy.Encode(nil, payload)
		if len(compressed) < len(payload) {
			payload = compressed
			version |= VersionCompressFlag
		}
	}

	length := HeaderLength + len(payload)
	if length > c.maxLength {
		return nil, fmt.Errorf("%w: %d bytes, max %d", errMsgTooLarge, length, c.maxLength)
	}

	buf := make([]byte, length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	binary.BigEndian.PutUint16(buf[4:6], version)
	binary.BigEndian.PutUint32(buf[6:10], uint32(msg.ProtocolID))
	binary.BigEndian.PutUint16(buf[10:12], msg.PacketType)
	binary.BigEndian.PutUint32(buf[12:16], msg.Seq)
	copy(buf[HeaderLength:], payload)

	return buf, nil
}

// Decode the first message in buf.
// It returns ErrIncomplete if buf is a prefix of a message, a *BadMsgError if the header is malformed,
// otherwise the message and the count of bytes consumed from buf.
// The returned Payload never aliases buf.
func (c *Codec) Decode(buf []byte) (*Msg, int, error) {
	if len(buf) < HeaderLength {
		return nil, 0, ErrIncomplete
	}

	length := int(binary.BigEndian.Uint32(buf[0:4]))
	if length < HeaderLength {
		return nil, 0, &BadMsgError{fmt.Errorf("%w: %d", errMsgTooShort, length)}
	}
	if length > c.maxLength {
		return nil, 0, &BadMsgError{fmt.Errorf("%w: %d bytes, max %d", errMsgTooLarge, length, c.maxLength)}
	}
	if len(buf) < length {
		return nil, 0, ErrIncomplete
	}

	msg := &Msg{
		Version:    binary.BigEndian.Uint16(buf[4:6]),
		ProtocolID: int32(binary.BigEndian.Uint32(buf[6:10])),
		PacketType: binary.BigEndian.Uint16(buf[10:12]),
		Seq:        binary.BigEndian.Uint32(buf[12:16]),
	}

	payload := buf[HeaderLength:length]
	if msg.Version&VersionCompressFlag != 0 {
		n, err := snappy.DecodedLen(payload)
		if err != nil {
			return nil, 0, &BadMsgError{err}
		}
		if n > c.maxLength*decodedLengthFactor {
			return nil, 0, &BadMsgError{fmt.Errorf("%w: decoded %d bytes", errMsgTooLarge, n)}
		}

		msg.Payload, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, 0, &BadMsgError{err}
		}
		msg.Version &^= VersionCompressFlag
	} else if len(payload) > 0 {
		msg.Payload = make([]byte, len(payload))
		copy(msg.Payload, payload)
	}

	return msg, length, nil
}
