package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

const waitFor = 5 * time.Second
const tick = 10 * time.Millisecond

func newTestConfig() *Config {
	cfg := NewConfig()
	cfg.ListenIP = "127.0.0.1"
	cfg.ListenPort = 0
	cfg.Workers = 4
	cfg.MinReconnectInterval = time.Millisecond
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.HandshakeTimeout = 3 * time.Second
	return cfg
}

func newTestHost(t *testing.T, chain *testChain, name string, mod func(cfg *Config)) *Host {
	t.Helper()

	cfg := newTestConfig()
	if mod != nil {
		mod(cfg)
	}

	h, err := NewHost(cfg, chain.credentials(t, chain.node(t, name)), nil)
	require.NoError(t, err)
	t.Cleanup(h.Stop)

	return h
}

func startTestHost(t *testing.T, chain *testChain, name string, mod func(cfg *Config)) *Host {
	t.Helper()

	h := newTestHost(t, chain, name, mod)
	require.NoError(t, h.Start())
	return h
}

type connectResult struct {
	err error
	s   *Session
}

func connect(h *Host, e vnode.EndPoint) connectResult {
	ch := make(chan connectResult, 1)
	h.Connect(e, func(err error, s *Session) {
		ch <- connectResult{err, s}
	})

	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		return connectResult{err: newNetworkError(NetworkTimeout, "connect %s", e)}
	}
}

func connectedTo(h *Host, ids ...vnode.NodeID) func() bool {
	return func() bool {
		sessions := h.Sessions()
		if len(sessions) != len(ids) {
			return false
		}
		for _, id := range ids {
			if !h.IsConnected(id) {
				return false
			}
		}
		return true
	}
}

func closedEndpoint(t *testing.T) vnode.EndPoint {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	e := vnode.FromAddr(ln.Addr())
	require.NoError(t, ln.Close())
	return e
}

func TestHost_Connect(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := startTestHost(t, chain, "x", nil)
	y := startTestHost(t, chain, "y", nil)

	r := connect(y, x.ListenEndpoint())
	require.NoError(t, r.err)
	assert.Equal(t, x.NodeID(), r.s.Identity().NodeID)
	assert.Equal(t, "agency-a", r.s.Identity().AgencyName)
	assert.Equal(t, "x", r.s.Identity().NodeName)
	assert.Equal(t, x.ListenEndpoint(), r.s.Socket().NodeIPEndpoint())

	require.Eventually(t, connectedTo(x, y.NodeID()), waitFor, tick)
	require.Eventually(t, connectedTo(y, x.NodeID()), waitFor, tick)
	require.Eventually(t, func() bool {
		return y.PendingCount() == 0
	}, waitFor, tick)
}

func TestHost_ConnectHandler(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := newTestHost(t, chain, "x", nil)
	y := startTestHost(t, chain, "y", nil)

	connected := make(chan Identity, 1)
	x.SetConnectHandler(func(err error, s *Session) {
		assert.NoError(t, err)
		connected <- s.Identity()
	})
	require.NoError(t, x.Start())

	require.NoError(t, connect(y, x.ListenEndpoint()).err)

	select {
	case id := <-connected:
		assert.Equal(t, y.NodeID(), id.NodeID)
	case <-time.After(waitFor):
		t.Fatal("connect handler not called")
	}
}

func TestHost_SelfConnection(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := startTestHost(t, chain, "x", nil)

	r := connect(x, x.ListenEndpoint())
	require.Error(t, r.err)
	reason, ok := DiscReasonOf(r.err)
	require.True(t, ok)
	assert.Equal(t, DiscLocalIdentity, reason)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, x.Sessions())
}

func TestHost_SameDirectionDuplicate(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := startTestHost(t, chain, "x", nil)
	y := startTestHost(t, chain, "y", nil)

	first := connect(x, y.ListenEndpoint())
	require.NoError(t, first.err)
	require.Eventually(t, connectedTo(y, x.NodeID()), waitFor, tick)
	require.Eventually(t, func() bool {
		return x.PendingCount() == 0
	}, waitFor, tick)

	second := connect(x, y.ListenEndpoint())
	reason, _ := DiscReasonOf(second.err)
	assert.Equal(t, DiscDuplicatePeer, reason)

	// the existing session survives
	s, ok := x.SessionByNodeID(y.NodeID())
	require.True(t, ok)
	assert.Equal(t, first.s, s)
	assert.True(t, s.Active())

	require.Eventually(t, connectedTo(x, y.NodeID()), waitFor, tick)
	require.Eventually(t, connectedTo(y, x.NodeID()), waitFor, tick)
}

func TestHost_CrossDirectionDuplicate(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := startTestHost(t, chain, "x", nil)
	y := startTestHost(t, chain, "y", nil)

	done := make(chan struct{}, 2)
	go func() {
		connect(x, y.ListenEndpoint())
		done <- struct{}{}
	}()
	go func() {
		connect(y, x.ListenEndpoint())
		done <- struct{}{}
	}()
	<-done
	<-done

	// one connection survives, the same on both sides
	require.Eventually(t, func() bool {
		xs, ys := x.Sessions(), y.Sessions()
		if len(xs) != 1 || len(ys) != 1 || !xs[0].Active() || !ys[0].Active() {
			return false
		}
		return xs[0].Socket().LocalEndpoint() == ys[0].Socket().RemoteEndpoint() &&
			xs[0].Socket().RemoteEndpoint() == ys[0].Socket().LocalEndpoint()
	}, waitFor, tick)
}

func TestHost_MaxPeers(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := startTestHost(t, chain, "x", func(cfg *Config) {
		cfg.MaxPeers = 1
	})
	y := startTestHost(t, chain, "y", nil)
	z := startTestHost(t, chain, "z", nil)

	require.NoError(t, connect(y, x.ListenEndpoint()).err)
	require.Eventually(t, connectedTo(x, y.NodeID()), waitFor, tick)

	r := connect(z, x.ListenEndpoint())
	assert.Equal(t, ConnectError, ErrorCodeOf(r.err))

	// existing sessions are not affected
	assert.True(t, x.IsConnected(y.NodeID()))
	assert.False(t, x.IsConnected(z.NodeID()))
}

func TestHost_Blacklisted(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	yCreds := chain.credentials(t, chain.node(t, "y"))
	yID, err := yCreds.Identity()
	require.NoError(t, err)

	x := startTestHost(t, chain, "x", func(cfg *Config) {
		cfg.EnableBlacklist = true
		cfg.Blacklist = []vnode.NodeID{yID.NodeID}
	})

	cfg := newTestConfig()
	y, err := NewHost(cfg, yCreds, nil)
	require.NoError(t, err)
	t.Cleanup(y.Stop)
	require.NoError(t, y.Start())

	r := connect(y, x.ListenEndpoint())
	assert.Equal(t, ConnectError, ErrorCodeOf(r.err))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, x.Sessions())
	assert.Empty(t, y.Sessions())
}

func TestHost_DisconnectRemovesSession(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := startTestHost(t, chain, "x", nil)
	y := startTestHost(t, chain, "y", nil)

	r := connect(y, x.ListenEndpoint())
	require.NoError(t, r.err)
	require.Eventually(t, connectedTo(x, y.NodeID()), waitFor, tick)

	r.s.Drop(DiscRequested)

	require.Eventually(t, connectedTo(x), waitFor, tick)
	require.Eventually(t, connectedTo(y), waitFor, tick)
}

func TestHost_StaticNodes(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	y := startTestHost(t, chain, "y", nil)

	x := startTestHost(t, chain, "x", func(cfg *Config) {
		cfg.StaticNodes = []vnode.Node{{EndPoint: y.ListenEndpoint()}}
	})

	// Start runs a reconnect pass
	require.Eventually(t, connectedTo(x, y.NodeID()), waitFor, tick)

	nodes := x.StaticNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, y.NodeID(), nodes[0].ID)

	require.Eventually(t, func() bool {
		id, _, err := x.db.Retrieve(y.ListenEndpoint())
		return err == nil && id == y.NodeID()
	}, waitFor, tick)

	// connected nodes are skipped
	require.Eventually(t, func() bool {
		return x.PendingCount() == 0
	}, waitFor, tick)
	x.ReconnectAllNodes()
	assert.Equal(t, 0, x.PendingCount())
}

func TestHost_ReconnectUnreachable(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	dead := closedEndpoint(t)
	y := startTestHost(t, chain, "y", nil)

	x := startTestHost(t, chain, "x", func(cfg *Config) {
		cfg.ConnectTimeout = 200 * time.Millisecond
		cfg.StaticNodes = []vnode.Node{{EndPoint: dead}, {EndPoint: y.ListenEndpoint()}}
	})

	received := make(chan *Msg, 16)
	y.SetMessageHandler(func(err error, s *Session, msg *Msg) {
		if err == nil {
			received <- msg
		}
	})

	require.Eventually(t, connectedTo(x, y.NodeID()), waitFor, tick)
	s, _ := x.SessionByNodeID(y.NodeID())

	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			return x.PendingCount() == 0
		}, waitFor, tick)

		x.ReconnectAllNodes()

		msg := NewMsg(10, 0, []byte{byte(i)})
		msg.Seq = uint32(i + 1)
		s.AsyncSendMessage(msg, nil, 0)

		select {
		case m := <-received:
			assert.Equal(t, uint32(i+1), m.Seq)
		case <-time.After(waitFor):
			t.Fatal("traffic blocked by reconnect")
		}
	}

	id, ok := x.static.Get(dead)
	assert.True(t, ok)
	assert.True(t, id.IsZero())
	assert.True(t, x.IsConnected(y.NodeID()))
}

func TestHost_ReconnectBackoff(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	dead := closedEndpoint(t)

	x := startTestHost(t, chain, "x", func(cfg *Config) {
		cfg.MinReconnectInterval = time.Minute
		cfg.ReconnectInterval = 2 * time.Minute
		cfg.ReconnectBackoff = true
		cfg.StaticNodes = []vnode.Node{{EndPoint: dead}}
	})

	// the cron tick may have dialed already
	require.Eventually(t, func() bool {
		return x.PendingCount() == 0
	}, waitFor, tick)

	r := connect(x, dead)
	assert.Equal(t, ConnectError, ErrorCodeOf(r.err))
	assert.True(t, x.failures.Blocked(dead.String()))

	x.lastReconnect.Store(0)
	x.ReconnectAllNodes()
	assert.Equal(t, 0, x.PendingCount(), "endpoint is backing off")
}

// acceptAndClose listen on a free port and close every accepted conn, dials counts them
func acceptAndClose(t *testing.T) (e vnode.EndPoint, dials *atomic.Int32) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ln.Close()
	})

	dials = atomic.NewInt32(0)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			dials.Inc()
			_ = conn.Close()
		}
	}()

	return vnode.FromAddr(ln.Addr()), dials
}

func TestHost_ReconnectWithoutBackoff(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	e, dials := acceptAndClose(t)

	x := startTestHost(t, chain, "x", func(cfg *Config) {
		cfg.MinReconnectInterval = time.Millisecond
		cfg.ReconnectInterval = time.Minute
		cfg.StaticNodes = []vnode.Node{{EndPoint: e}}
	})

	for i := 1; i <= 5; i++ {
		require.Eventually(t, func() bool {
			return x.PendingCount() == 0
		}, waitFor, tick)

		time.Sleep(5 * time.Millisecond)
		x.ReconnectAllNodes()

		n := int32(i)
		require.Eventually(t, func() bool {
			return dials.Load() >= n
		}, waitFor, tick, "reconnect %d did not dial", i)
	}
	require.Eventually(t, func() bool {
		return x.PendingCount() == 0
	}, waitFor, tick)
	assert.GreaterOrEqual(t, x.failures.Failures(e.String()), 5)
}

func TestHost_ReconnectInterval(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := newTestHost(t, chain, "x", func(cfg *Config) {
		cfg.MinReconnectInterval = time.Hour
	})

	x.ReconnectAllNodes()
	last := x.lastReconnect.Load()
	require.NotZero(t, last)

	x.ReconnectAllNodes()
	assert.Equal(t, last, x.lastReconnect.Load())
}

func TestHost_SkipSelfEndpoint(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := startTestHost(t, chain, "x", func(cfg *Config) {
		cfg.PublicAddress = "10.0.0.1:30300"
	})

	assert.True(t, x.isSelf(x.ListenEndpoint()))
	assert.True(t, x.isSelf(vnode.EndPoint{Host: "10.0.0.1", Port: 30300}))
	assert.False(t, x.isSelf(vnode.EndPoint{Host: "10.0.0.2", Port: 30300}))
}

func TestHost_KeepAliveCleansPeerStore(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := newTestHost(t, chain, "x", func(cfg *Config) {
		cfg.PeerStoreExpiration = time.Hour
	})

	stale := vnode.EndPoint{Host: "10.0.0.2", Port: 30300}
	fresh := vnode.EndPoint{Host: "10.0.0.3", Port: 30300}
	require.NoError(t, x.db.Store(stale, randNodeID(), time.Now().Add(-2*time.Hour)))
	require.NoError(t, x.db.Store(fresh, randNodeID(), time.Now()))

	x.keepAlivePeers()

	_, _, err := x.db.Retrieve(stale)
	assert.Error(t, err)
	_, _, err = x.db.Retrieve(fresh)
	assert.NoError(t, err)
}

func TestHost_StopWithoutStart(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := newTestHost(t, chain, "x", nil)

	x.Stop()
	x.Stop()

	assert.Equal(t, errHostStopped, x.Start())

	r := connect(x, vnode.EndPoint{Host: "127.0.0.1", Port: 30300})
	assert.Equal(t, ConnectError, ErrorCodeOf(r.err))
}

func TestHost_StopDropsSessions(t *testing.T) {
	chain := newTestChain(t, "agency-a")
	x := startTestHost(t, chain, "x", nil)
	y := startTestHost(t, chain, "y", nil)

	r := connect(y, x.ListenEndpoint())
	require.NoError(t, r.err)
	require.Eventually(t, connectedTo(x, y.NodeID()), waitFor, tick)

	x.Stop()
	assert.Empty(t, x.Sessions())

	select {
	case <-r.s.Done():
	case <-time.After(waitFor):
		t.Fatal("peer session not dropped")
	}
}
