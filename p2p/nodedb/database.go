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

// Package nodedb remembers which NodeID answered at which static endpoint,
// so a restarted node knows its peers before the first handshake.
package nodedb

import (
	"bytes"
	"encoding/binary"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

// key -> value
// version -> version
// peer:id:<endpoint> -> NodeID
// peer:active:<endpoint> -> int64	// last handshake time
var (
	versionKey       = []byte("version")
	peerIDPrefix     = []byte("peer:id:")
	peerActivePrefix = []byte("peer:active:")
)

// DB is a leveldb backed peer store, safe for concurrent use.
type DB struct {
	ldb *leveldb.DB
}

// Open a file database at path, or a memory database if path is empty.
// A database written with another version is dropped and recreated.
func Open(path string, version int) (*DB, error) {
	if path == "" {
		return newMemDB()
	}

	return newFileDB(path, version)
}

func newMemDB() (*DB, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}

	return &DB{ldb: ldb}, nil
}

func newFileDB(path string, version int) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if _, ok := err.(*lerrors.ErrCorrupted); ok {
		ldb, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open peer store %s", path)
	}

	vBytes := encodeVarint(int64(version))
	oldVBytes, err := ldb.Get(versionKey, nil)
	if err == leveldb.ErrNotFound {
		if err = ldb.Put(versionKey, vBytes, nil); err != nil {
			_ = ldb.Close()
			return nil, err
		}
		return &DB{ldb: ldb}, nil
	} else if err != nil {
		_ = ldb.Close()
		return nil, err
	}

	if bytes.Equal(oldVBytes, vBytes) {
		return &DB{ldb: ldb}, nil
	}

	_ = ldb.Close()
	if err = os.RemoveAll(path); err != nil {
		return nil, err
	}

	return newFileDB(path, version)
}

func decodeVarint(varint []byte) int64 {
	i, n := binary.Varint(varint)
	if n <= 0 {
		return 0
	}

	return i
}

func encodeVarint(i int64) []byte {
	data := make([]byte, binary.MaxVarintLen64)
	n := binary.PutVarint(data, i)
	return data[:n]
}

func makeKey(prefix []byte, e vnode.EndPoint) []byte {
	s := e.String()
	key := make([]byte, len(prefix)+len(s))
	copy(key, prefix)
	copy(key[len(prefix):], s)
	return key
}

// Store the NodeID observed at endpoint e
func (db *DB) Store(e vnode.EndPoint, id vnode.NodeID, activeAt time.Time) error {
	batch := new(leveldb.Batch)
	batch.Put(makeKey(peerIDPrefix, e), id.Bytes())
	batch.Put(makeKey(peerActivePrefix, e), encodeVarint(activeAt.Unix()))

	return db.ldb.Write(batch, nil)
}

// Retrieve the NodeID stored for endpoint e and when it was seen
func (db *DB) Retrieve(e vnode.EndPoint) (id vnode.NodeID, activeAt time.Time, err error) {
	data, err := db.ldb.Get(makeKey(peerIDPrefix, e), nil)
	if err != nil {
		return
	}

	id, err = vnode.Bytes2NodeID(data)
	if err != nil {
		return
	}

	activeAt = time.Unix(db.retrieveInt64(makeKey(peerActivePrefix, e)), 0)
	return
}

// Remove data about the specific endpoint
func (db *DB) Remove(e vnode.EndPoint) {
	_ = db.ldb.Delete(makeKey(peerIDPrefix, e), nil)
	_ = db.ldb.Delete(makeKey(peerActivePrefix, e), nil)
}

// ReadNodes return nodes seen within expiration, stale or broken entries are removed
func (db *DB) ReadNodes(expiration time.Duration) []vnode.Node {
	itr := db.ldb.NewIterator(util.BytesPrefix(peerActivePrefix), nil)
	defer itr.Release()

	var nodes []vnode.Node
	now := time.Now()
	prefixLen := len(peerActivePrefix)

	for itr.Next() {
		e, err := vnode.ParseEndPoint(string(itr.Key()[prefixLen:]))
		if err != nil {
			_ = db.ldb.Delete(itr.Key(), nil)
			continue
		}

		if now.Sub(time.Unix(decodeVarint(itr.Value()), 0)) > expiration {
			db.Remove(e)
			continue
		}

		id, _, err := db.Retrieve(e)
		if err != nil {
			db.Remove(e)
			continue
		}

		nodes = append(nodes, vnode.Node{ID: id, EndPoint: e})
	}

	return nodes
}

// Clean entries not seen within expiration
func (db *DB) Clean(expiration time.Duration) {
	_ = db.ReadNodes(expiration)
}

func (db *DB) retrieveInt64(key []byte) int64 {
	buf, err := db.ldb.Get(key, nil)
	if err != nil {
		return 0
	}

	return decodeVarint(buf)
}

func (db *DB) Close() error {
	return db.ldb.Close()
}
