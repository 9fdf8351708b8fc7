/*
 * Copyright 2019 The go-vite Authors
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

package vnode

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
)

const IDBits = 64 * 8

var errUnmatchedLength = errors.New("needs 128 hex chars")
var errMissHost = errors.New("missing Host")

// ZERO is the zero-value of NodeID type
var ZERO NodeID

// NodeID is the uncompressed EC public key of a node certificate without the 0x04 prefix
type NodeID [IDBits / 8]byte

// String return a hex coded string of NodeID
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Brief return the first 8 hex chars, for logs
func (id NodeID) Brief() string {
	return id.String()[:8]
}

func (id NodeID) Bytes() []byte {
	return id[:]
}

// IsZero validate whether a NodeID is zero-value
func (id NodeID) IsZero() bool {
	return id == ZERO
}

// Less compare two NodeID byte by byte
func (id NodeID) Less(o NodeID) bool {
	return bytes.Compare(id[:], o[:]) < 0
}

func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *NodeID) UnmarshalText(text []byte) (err error) {
	*id, err = Hex2NodeID(string(text))
	return
}

// Hex2NodeID parse a hex coded string to NodeID, case insensitive
func Hex2NodeID(str string) (id NodeID, err error) {
	buf, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(str), "0x"))
	if err != nil {
		return
	}

	return Bytes2NodeID(buf)
}

// Bytes2NodeID turn a slice to NodeID
func Bytes2NodeID(buf []byte) (id NodeID, err error) {
	if len(buf) != len(id) {
		return id, errUnmatchedLength
	}

	copy(id[:], buf)
	return
}

// Node is a static peer, ID is zero if it is not known yet
type Node struct {
	ID NodeID
	EndPoint
}

// String marshal node to string, looks like:
// <hex_node_id>@host:port
// host:port
func (n Node) String() (str string) {
	if !n.ID.IsZero() {
		str = n.ID.String() + "@"
	}

	return str + n.EndPoint.String()
}

func (n Node) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Node) UnmarshalText(text []byte) (err error) {
	*n, err = ParseNode(string(text))
	return
}

// ParseNode parse a string to Node
// Return error if missing Hostname/IP
func ParseNode(u string) (n Node, err error) {
	index := strings.IndexRune(u, '@')
	if index == len(u)-1 {
		err = errMissHost
		return
	}

	if index > 0 {
		n.ID, err = Hex2NodeID(u[:index])
		if err != nil {
			return
		}
	}

	n.EndPoint, err = ParseEndPoint(u[index+1:])
	return
}
