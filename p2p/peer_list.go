package p2p

import (
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

// PeerList is a NodeID allow or deny list which can be switched on and off, safe for concurrent use
type PeerList struct {
	mu     sync.RWMutex
	enable bool
	ids    mapset.Set
}

// NewPeerList create a list, a disabled list contains nothing
func NewPeerList(enable bool, ids ...vnode.NodeID) *PeerList {
	l := &PeerList{}
	l.Update(enable, ids)
	return l
}

// Update replace the whole list at once
func (l *PeerList) Update(enable bool, ids []vnode.NodeID) {
	set := mapset.NewThreadUnsafeSet()
	for _, id := range ids {
		set.Add(id)
	}

	l.mu.Lock()
	l.enable = enable
	l.ids = set
	l.mu.Unlock()
}

func (l *PeerList) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.enable
}

// Has return true if the list is enabled and contains id
func (l *PeerList) Has(id vnode.NodeID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.enable && l.ids.Contains(id)
}

func (l *PeerList) Add(id vnode.NodeID) {
	l.mu.Lock()
	l.ids.Add(id)
	l.mu.Unlock()
}

func (l *PeerList) Remove(id vnode.NodeID) {
	l.mu.Lock()
	l.ids.Remove(id)
	l.mu.Unlock()
}

// List return the NodeIDs in the list, enabled or not
func (l *PeerList) List() []vnode.NodeID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]vnode.NodeID, 0, l.ids.Cardinality())
	l.ids.Each(func(v interface{}) bool {
		ids = append(ids, v.(vnode.NodeID))
		return false
	})

	return ids
}

// AccessControl decides whether a peer is allowed, blacklist takes precedence over whitelist
type AccessControl struct {
	Blacklist *PeerList
	Whitelist *PeerList
}

func NewAccessControl() *AccessControl {
	return &AccessControl{
		Blacklist: NewPeerList(false),
		Whitelist: NewPeerList(false),
	}
}

// Check return nil if id may connect, otherwise a NetworkError with InBlacklist or NotInWhitelist
func (a *AccessControl) Check(id vnode.NodeID) error {
	if a.Blacklist.Has(id) {
		return newNetworkError(InBlacklist, "%s", id.Brief())
	}

	if a.Whitelist.Enabled() && !a.Whitelist.Has(id) {
		return newNetworkError(NotInWhitelist, "%s", id.Brief())
	}

	return nil
}
