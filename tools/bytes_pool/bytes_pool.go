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

package bytes_pool

import "sync"

// size classes for socket read buffers
var classes = [...]int{512, 4096, 16384, 65536}

var pools [len(classes)]sync.Pool

func init() {
	for i := range pools {
		size := classes[i]
		pools[i].New = func() interface{} {
			buf := make([]byte, size)
			return &buf
		}
	}
}

// Get return a buffer with length n. Buffers larger than the biggest class
// are allocated directly and never pooled.
func Get(n int) []byte {
	for i, size := range classes {
		if n <= size {
			buf := *(pools[i].Get().(*[]byte))
			return buf[:n]
		}
	}

	return make([]byte, n)
}

// Put give buf back to the class it fits exactly, other buffers are dropped.
func Put(buf []byte) {
	c := cap(buf)
	for i, size := range classes {
		if c == size {
			buf = buf[:c]
			pools[i].Put(&buf)
			return
		}
	}
}
