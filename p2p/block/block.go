// Package block tracks repeated failures of a key and tells whether the key should be left alone for a while.
package block

import (
	"sync"
	"time"
)

type Record struct {
	T time.Time
	C int
}

// Policy return true if a key failed count times, the last one at t, is still blocked
type Policy func(t time.Time, count int) bool

// Backoff block a key for base after the first failure, doubling with every further failure up to max
func Backoff(base, max time.Duration) Policy {
	return func(t time.Time, count int) bool {
		d := base
		for i := 1; i < count && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return time.Since(t) < d
	}
}

type Block struct {
	mu      sync.Mutex
	records map[string]*Record
	policy  Policy
}

func New(policy Policy) *Block {
	return &Block{
		records: make(map[string]*Record),
		policy:  policy,
	}
}

// Block record a failure of id
func (b *Block) Block(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.records[id]; ok {
		r.T = time.Now()
		r.C++
	} else {
		b.records[id] = &Record{
			T: time.Now(),
			C: 1,
		}
	}
}

// UnBlock forget the failures of id
func (b *Block) UnBlock(id string) {
	b.mu.Lock()
	delete(b.records, id)
	b.mu.Unlock()
}

func (b *Block) Blocked(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.records[id]; ok {
		return b.policy(r.T, r.C)
	}

	return false
}

// Failures return how many times id failed since the last UnBlock
func (b *Block) Failures(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.records[id]; ok {
		return r.C
	}
	return 0
}
