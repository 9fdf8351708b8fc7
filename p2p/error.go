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
	"errors"
	"fmt"
)

// ErrorCode is the stable code carried by every error handed to a callback
type ErrorCode int

const (
	Success ErrorCode = iota
	ProtocolError
	NetworkTimeout
	Disconnect
	DuplicateSession
	SessionInactive
	NodeInactive
	TopicNotFound
	NotInWhitelist
	InBlacklist
	CertRejected
	ConnectError
	BandwidthExceeded
	WriteQueueFull
	DuplicateSeq
	EmptyResponse
)

var errorCodeStr = map[ErrorCode]string{
	Success:           "success",
	ProtocolError:     "protocol error",
	NetworkTimeout:    "network timeout",
	Disconnect:        "disconnected",
	DuplicateSession:  "duplicate session",
	SessionInactive:   "session inactive",
	NodeInactive:      "node inactive",
	TopicNotFound:     "topic not found",
	NotInWhitelist:    "not in whitelist",
	InBlacklist:       "in blacklist",
	CertRejected:      "certificate rejected",
	ConnectError:      "connect error",
	BandwidthExceeded: "rejected for bandwidth",
	WriteQueueFull:    "write queue full",
	DuplicateSeq:      "duplicate sequence",
	EmptyResponse:     "empty response",
}

func (c ErrorCode) String() string {
	if str, ok := errorCodeStr[c]; ok {
		return str
	}

	return fmt.Sprintf("unknown error code %d", int(c))
}

// NetworkError is the error object every send callback receives
type NetworkError struct {
	Code ErrorCode
	Msg  string
}

func (e *NetworkError) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}

	return e.Code.String() + ": " + e.Msg
}

func newNetworkError(code ErrorCode, format string, args ...interface{}) *NetworkError {
	return &NetworkError{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// ErrorCodeOf return the code of the NetworkError in err's chain, Success for nil,
// ProtocolError for any other error
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}

	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Code
	}

	return ProtocolError
}

// DiscReason is why a session was dropped
type DiscReason uint

const (
	DiscRequested DiscReason = iota
	DiscTCPError
	DiscBadProtocol
	DiscUselessPeer
	DiscTooManyPeers
	DiscDuplicatePeer
	DiscIncompatibleProtocol
	DiscNullIdentity
	DiscClientQuit
	DiscUnexpectedIdentity
	DiscLocalIdentity
	DiscPingTimeout
	DiscIdleTimeout
	DiscUserReason = 0x10
)

var discReasonToString = [...]string{
	DiscRequested:            "disconnect requested",
	DiscTCPError:             "network error",
	DiscBadProtocol:          "breach of protocol",
	DiscUselessPeer:          "useless peer",
	DiscTooManyPeers:         "too many peers",
	DiscDuplicatePeer:        "duplicate peer",
	DiscIncompatibleProtocol: "incompatible p2p protocol version",
	DiscNullIdentity:         "null node identity",
	DiscClientQuit:           "client quitting",
	DiscUnexpectedIdentity:   "unexpected identity",
	DiscLocalIdentity:        "connected to self",
	DiscPingTimeout:          "ping timeout",
	DiscIdleTimeout:          "idle timeout",
	DiscUserReason:           "user reason",
}

func (d DiscReason) String() string {
	if int(d) < len(discReasonToString) && discReasonToString[d] != "" {
		return discReasonToString[d]
	}

	return fmt.Sprintf("unknown disconnect reason %d", uint(d))
}

func (d DiscReason) Error() string {
	return d.String()
}

// Code map the reason to the error code pending requests are failed with
func (d DiscReason) Code() ErrorCode {
	switch d {
	case DiscDuplicatePeer:
		return DuplicateSession
	case DiscBadProtocol:
		return ProtocolError
	default:
		return Disconnect
	}
}

// DisconnectError is delivered to pending callbacks and to the message handler when a session drops
type DisconnectError struct {
	NetworkError
	Reason DiscReason
}

func newDisconnectError(reason DiscReason) *DisconnectError {
	return &DisconnectError{
		NetworkError: NetworkError{
			Code: reason.Code(),
			Msg:  reason.String(),
		},
		Reason: reason,
	}
}

// Unwrap expose the embedded NetworkError to errors.As
func (e *DisconnectError) Unwrap() error {
	return &e.NetworkError
}

// DiscReasonOf return the drop reason carried by err, false if err is not a DisconnectError
func DiscReasonOf(err error) (DiscReason, bool) {
	var de *DisconnectError
	if errors.As(err, &de) {
		return de.Reason, true
	}

	return 0, false
}
