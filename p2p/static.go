package p2p

import (
	"sort"
	"sync"

	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

// staticNodes is the table of configured peer endpoints and the NodeID last seen at each of them.
// A zero NodeID means the peer behind the endpoint is not known yet.
type staticNodes struct {
	mu    sync.RWMutex
	nodes map[vnode.EndPoint]vnode.NodeID
}

func newStaticNodes(nodes []vnode.Node) *staticNodes {
	s := &staticNodes{}
	s.Set(nodes)
	return s
}

// Set replace the table, NodeIDs already learned for kept endpoints survive if nodes does not carry one
func (s *staticNodes) Set(nodes []vnode.Node) {
	table := make(map[vnode.EndPoint]vnode.NodeID, len(nodes))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nodes {
		id := n.ID
		if id.IsZero() {
			id = s.nodes[n.EndPoint]
		}
		table[n.EndPoint] = id
	}

	s.nodes = table
}

// Update record id for e, endpoints not in the table are ignored
func (s *staticNodes) Update(e vnode.EndPoint, id vnode.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[e]; !ok {
		return false
	}

	s.nodes[e] = id
	return true
}

// ClearNodeID forget the NodeID of e
func (s *staticNodes) ClearNodeID(e vnode.EndPoint) {
	s.Update(e, vnode.ZERO)
}

func (s *staticNodes) Get(e vnode.EndPoint) (id vnode.NodeID, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok = s.nodes[e]
	return
}

// List return the table sorted by endpoint
func (s *staticNodes) List() []vnode.Node {
	s.mu.RLock()
	nodes := make([]vnode.Node, 0, len(s.nodes))
	for e, id := range s.nodes {
		nodes = append(nodes, vnode.Node{ID: id, EndPoint: e})
	}
	s.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].EndPoint.String() < nodes[j].EndPoint.String()
	})

	return nodes
}

func (s *staticNodes) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes)
}
