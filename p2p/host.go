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
	"context"
	"crypto/tls"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"go.uber.org/atomic"

	"github.com/bcosnet/go-bcosnet/common"
	"github.com/bcosnet/go-bcosnet/p2p/block"
	"github.com/bcosnet/go-bcosnet/p2p/nodedb"
	"github.com/bcosnet/go-bcosnet/p2p/vnode"
	"github.com/bcosnet/go-bcosnet/tools/ticket"
)

const peerStoreVersion = 1

var errHostStarted = errors.New("host has started")
var errHostStopped = errors.New("host has stopped")

// ConnectHandler is told about every session the host establishes
type ConnectHandler func(err error, s *Session)

// hostPeer is one entry of the live session table
type hostPeer struct {
	session  *Session
	outbound bool
}

// Host owns the listener and the table of live sessions, one per NodeID.
// It dials the static nodes and keeps reconnecting them.
type Host struct {
	cfg      *Config
	self     Identity
	creds    *Credentials
	access   *AccessControl
	verifier *Verifier
	tlsCfg   *tls.Config
	codec    *Codec
	exec     *executor
	db       *nodedb.DB
	static   *staticNodes

	// endpoint -> struct{}, outbound connections not yet established
	pending    *cache.Cache
	handshakes ticket.Ticket
	dialer     *net.Dialer

	mu       sync.RWMutex
	running  bool
	sessions map[vnode.NodeID]hostPeer
	ln       net.Listener
	crontab  *cron.Cron

	connectHandler atomic.Value // ConnectHandler
	messageHandler atomic.Value // MessageHandler

	lastReconnect atomic.Int64
	stopped       atomic.Bool
	// dial failures per endpoint, with ReconnectBackoff reconnect skips endpoints still backing off
	failures *block.Block

	wg  sync.WaitGroup
	log log15.Logger
}

// NewHost create a host for creds. access is shared with the caller so lists can be updated at runtime,
// if nil it is built from cfg.
func NewHost(cfg *Config, creds *Credentials, access *AccessControl) (*Host, error) {
	cfg.ensureDefaults()

	if creds == nil {
		return nil, errMissingCredentials
	}
	if access == nil {
		access = cfg.accessControl()
	}

	self, err := creds.Identity()
	if err != nil {
		return nil, errors.Wrap(err, "local identity")
	}

	issuer := cfg.ExpectedIssuer
	if issuer == "" {
		issuer = creds.Leaf.Issuer.String()
	}

	verifier := NewVerifier(creds.Roots, access, VerifyOptions{
		EnforceChain: cfg.EnableSSLVerify,
		CheckIssuer:  cfg.CheckIssuer,
		Issuer:       issuer,
		CheckExpiry:  cfg.CheckExpiry,
		MaxDepth:     cfg.VerifyDepth,
	})

	dbPath := ""
	if cfg.DataDir != "" {
		dbPath = filepath.Join(cfg.DataDir, "peers")
	}
	db, err := nodedb.Open(dbPath, peerStoreVersion)
	if err != nil {
		return nil, err
	}

	h := &Host{
		cfg:        cfg,
		self:       self,
		creds:      creds,
		access:     access,
		verifier:   verifier,
		tlsCfg:     newTLSConfig(creds),
		codec:      cfg.codec(),
		exec:       newExecutor(cfg.Workers),
		db:         db,
		static:     newStaticNodes(cfg.StaticNodes),
		pending:    cache.New(cfg.ConnectTimeout+cfg.HandshakeTimeout, time.Minute),
		handshakes: ticket.New(cfg.MaxPendingHandshakes),
		failures:   block.New(block.Backoff(cfg.MinReconnectInterval, cfg.ReconnectInterval)),
		dialer:     &net.Dialer{Timeout: cfg.ConnectTimeout},
		sessions:   make(map[vnode.NodeID]hostPeer),
		log:        log15.New("module", "p2p/host", "self", self.NodeID.Brief()),
	}

	h.seedStaticNodes()

	return h, nil
}

// seedStaticNodes fill the NodeIDs the peer store remembers for static endpoints
func (h *Host) seedStaticNodes() {
	for _, n := range h.db.ReadNodes(h.cfg.PeerStoreExpiration) {
		if id, ok := h.static.Get(n.EndPoint); ok && id.IsZero() {
			h.static.Update(n.EndPoint, n.ID)
		}
	}
}

func (h *Host) Config() *Config {
	return h.cfg
}

// NodeID of the local node
func (h *Host) NodeID() vnode.NodeID {
	return h.self.NodeID
}

func (h *Host) Identity() Identity {
	return h.self
}

func (h *Host) Verifier() *Verifier {
	return h.verifier
}

// Executor runs the callbacks of every session of this host
func (h *Host) Executor() Executor {
	return h.exec
}

// SetConnectHandler must be called before Start
func (h *Host) SetConnectHandler(fn ConnectHandler) {
	h.connectHandler.Store(fn)
}

// SetMessageHandler receive messages of every session, and the drop error of each session once
func (h *Host) SetMessageHandler(fn MessageHandler) {
	h.messageHandler.Store(fn)
}

// Start listen and begin the keepalive and reconnect schedules
func (h *Host) Start() error {
	if h.stopped.Load() {
		return errHostStopped
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return errHostStarted
	}

	ln, err := net.Listen("tcp", h.cfg.ListenAddress())
	if err != nil {
		return errors.Wrapf(err, "listen %s", h.cfg.ListenAddress())
	}
	h.ln = ln
	h.log.Info("tcp listen at " + ln.Addr().String())

	crontab := cron.New()
	if err = crontab.AddFunc("@every "+h.cfg.KeepAliveInterval.String(), h.keepAlivePeers); err != nil {
		_ = ln.Close()
		return err
	}
	if err = crontab.AddFunc("@every "+h.cfg.ReconnectInterval.String(), h.ReconnectAllNodes); err != nil {
		_ = ln.Close()
		return err
	}
	crontab.Start()
	h.crontab = crontab

	h.running = true

	h.wg.Add(1)
	common.Go(func() {
		defer h.wg.Done()
		h.acceptLoop(ln)
	})

	h.wg.Add(1)
	common.Go(func() {
		defer h.wg.Done()
		h.ReconnectAllNodes()
	})

	h.log.Info("p2p host started")
	return nil
}

// Stop close the listener and every session, it can be called without Start
func (h *Host) Stop() {
	if !h.stopped.CAS(false, true) {
		return
	}

	h.mu.Lock()
	h.running = false
	ln, crontab := h.ln, h.crontab
	peers := h.sessions
	h.sessions = make(map[vnode.NodeID]hostPeer)
	h.mu.Unlock()

	h.log.Warn("p2p host stop")

	if ln != nil {
		_ = ln.Close()
	}
	if crontab != nil {
		crontab.Stop()
	}

	for _, p := range peers {
		p.session.Drop(DiscClientQuit)
	}

	h.wg.Wait()
	h.exec.Stop()

	if err := h.db.Close(); err != nil {
		h.log.Warn("close peer store failed", "err", err)
	}

	h.log.Warn("p2p host stopped")
}

// goTask run fn on a tracked goroutine, false if the host is not running
func (h *Host) goTask(fn func()) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		return false
	}

	h.wg.Add(1)
	common.Go(func() {
		defer h.wg.Done()
		fn()
	})

	return true
}

// ListenEndpoint is the bound address, zero before Start
func (h *Host) ListenEndpoint() vnode.EndPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.ln == nil {
		return vnode.EndPoint{}
	}
	return vnode.FromAddr(h.ln.Addr())
}

func (h *Host) socketOptions() socketOptions {
	return socketOptions{
		closeTimeout: h.cfg.CloseTimeout,
		writeTimeout: h.cfg.WriteTimeout,
	}
}

// slotsFull count live sessions and outbound connections in progress
func (h *Host) slotsFull() bool {
	h.mu.RLock()
	n := len(h.sessions)
	h.mu.RUnlock()

	return n+h.pending.ItemCount() >= h.cfg.MaxPeers
}

func (h *Host) acceptLoop(ln net.Listener) {
	var tempDelay time.Duration
	var maxDelay = time.Second

	for {
		conn, err := ln.Accept()
		if err != nil {
			// temporary error
			if err, ok := err.(net.Error); ok && err.Temporary() {
				h.log.Warn("accept temp error", "err", err)

				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}

				if tempDelay > maxDelay {
					tempDelay = maxDelay
				}

				time.Sleep(tempDelay)
				continue
			}

			if !h.stopped.Load() {
				h.log.Error("accept error", "err", err)
			}
			return
		}
		tempDelay = 0

		if h.slotsFull() {
			h.log.Warn("too many peers, refuse " + conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		if !h.handshakes.TryTake() {
			h.log.Warn("too many handshakes, refuse " + conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		if !h.goTask(func() {
			defer h.handshakes.Return()
			h.handleInbound(conn)
		}) {
			h.handshakes.Return()
			_ = conn.Close()
			return
		}
	}
}

func (h *Host) handleInbound(conn net.Conn) {
	sock := newTLSSocket(conn, roleServer, h.tlsCfg, h.verifier, h.socketOptions())

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.HandshakeTimeout)
	defer cancel()

	if err := sock.Handshake(ctx); err != nil {
		h.log.Warn("handshake failed", "remote", conn.RemoteAddr().String(), "err", err)
		_ = sock.Close()
		return
	}

	h.startPeerSession(sock, false, nil)
}

// Connect dial e unless a connection to it is in progress, cb may be nil
func (h *Host) Connect(e vnode.EndPoint, cb ConnectHandler) {
	fail := func(err error) {
		if cb != nil {
			post(h.exec, func() {
				cb(err, nil)
			})
		}
	}

	key := e.String()
	if err := h.pending.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		fail(newNetworkError(ConnectError, "%s is connecting", key))
		return
	}

	if !h.goTask(func() {
		defer h.pending.Delete(key)
		h.dial(e, cb)
	}) {
		h.pending.Delete(key)
		fail(newNetworkError(ConnectError, "%v", errHostStopped))
	}
}

func (h *Host) dial(e vnode.EndPoint, cb ConnectHandler) {
	fail := func(err error) {
		h.failures.Block(e.String())
		h.log.Warn("connect failed", "endpoint", e.String(), "err", err, "failures", h.failures.Failures(e.String()))
		if cb != nil {
			post(h.exec, func() {
				cb(newNetworkError(ConnectError, "%s: %v", e, err), nil)
			})
		}
	}

	conn, err := h.dialer.Dial("tcp", e.String())
	if err != nil {
		fail(err)
		return
	}

	sock := newTLSSocket(conn, roleClient, h.tlsCfg, h.verifier, h.socketOptions())
	sock.SetNodeIPEndpoint(e)

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.HandshakeTimeout)
	defer cancel()

	if err = sock.Handshake(ctx); err != nil {
		_ = sock.Close()
		fail(err)
		return
	}

	h.startPeerSession(sock, true, cb)
}

// startPeerSession turn a handshaked socket into a live session, or close it
func (h *Host) startPeerSession(sock Socket, outbound bool, cb ConnectHandler) {
	id := sock.Identity()
	callback := func(err error, s *Session) {
		if cb != nil {
			post(h.exec, func() {
				cb(err, s)
			})
		}
	}

	if id.NodeID.IsZero() {
		_ = sock.Close()
		callback(newDisconnectError(DiscNullIdentity), nil)
		return
	}

	if outbound {
		h.failures.UnBlock(sock.NodeIPEndpoint().String())
		h.static.Update(sock.NodeIPEndpoint(), id.NodeID)
	}

	if id.NodeID == h.self.NodeID {
		h.log.Warn("connected to self", "endpoint", sock.NodeIPEndpoint().String())
		_ = sock.Close()
		callback(newDisconnectError(DiscLocalIdentity), nil)
		return
	}

	s := NewSession(sock, h.codec, h.exec, h.cfg.sessionConfig())
	s.SetMessageHandler(h.handleMessage)

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		_ = sock.Close()
		callback(newDisconnectError(DiscClientQuit), nil)
		return
	}

	var replaced *Session
	if old, ok := h.sessions[id.NodeID]; ok && old.session.Active() {
		if !h.keepNew(old, outbound) {
			h.mu.Unlock()
			h.log.Info("duplicate peer, keep the existing session", "peer", id.String(), "outbound", outbound)
			_ = sock.Close()
			callback(newDisconnectError(DiscDuplicatePeer), nil)
			return
		}
		replaced = old.session
	}

	h.sessions[id.NodeID] = hostPeer{session: s, outbound: outbound}
	s.Start()
	count := len(h.sessions)
	h.mu.Unlock()

	if replaced != nil {
		h.log.Info("duplicate peer, replace the existing session", "peer", id.String(), "outbound", outbound)
		replaced.Drop(DiscDuplicatePeer)
	}

	if outbound {
		if err := h.db.Store(sock.NodeIPEndpoint(), id.NodeID, time.Now()); err != nil {
			h.log.Warn("store peer failed", "err", err)
		}
	}

	h.log.Info("new session", "peer", id.String(), "remote", sock.RemoteEndpoint().String(), "outbound", outbound, "total", count)

	if fn, _ := h.connectHandler.Load().(ConnectHandler); fn != nil {
		post(h.exec, func() {
			fn(nil, s)
		})
	}
	callback(nil, s)
}

// keepNew decide a duplicate. The existing session wins, unless the two connections go in
// opposite directions: then both sides keep the one dialed by the smaller NodeID.
func (h *Host) keepNew(old hostPeer, outbound bool) bool {
	if old.outbound == outbound {
		return false
	}

	peer := old.session.Identity().NodeID
	keepOutbound := h.self.NodeID.Less(peer)
	return outbound == keepOutbound
}

func (h *Host) handleMessage(err error, s *Session, msg *Msg) {
	if err != nil {
		h.onSessionDisconnect(err, s)
	}

	if fn, _ := h.messageHandler.Load().(MessageHandler); fn != nil {
		fn(err, s, msg)
	}
}

func (h *Host) onSessionDisconnect(err error, s *Session) {
	id := s.Identity().NodeID

	h.mu.Lock()
	if p, ok := h.sessions[id]; ok && p.session == s {
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	if reason, _ := DiscReasonOf(err); reason != DiscDuplicatePeer {
		h.static.ClearNodeID(s.Socket().NodeIPEndpoint())
	}

	h.log.Info("session disconnected", "peer", id.Brief(), "err", err)
}

// keepAlivePeers drop sessions whose socket is gone
func (h *Host) keepAlivePeers() {
	var dead []*Session

	h.mu.Lock()
	for id, p := range h.sessions {
		if !p.session.Active() || !p.session.Socket().IsConnected() {
			delete(h.sessions, id)
			dead = append(dead, p.session)
		}
	}
	h.mu.Unlock()

	for _, s := range dead {
		h.log.Warn("drop dead session", "peer", s.Identity().NodeID.Brief())
		s.Drop(DiscTCPError)
	}

	h.db.Clean(h.cfg.PeerStoreExpiration)
}

// isSelf report whether e is where this node listens
func (h *Host) isSelf(e vnode.EndPoint) bool {
	if pub, ok := h.cfg.publicEndPoint(); ok && pub == e {
		return true
	}

	listen := h.ListenEndpoint()
	if listen.IsZero() {
		listen = vnode.EndPoint{Host: h.cfg.ListenIP, Port: h.cfg.ListenPort}
	}
	if e.Port != listen.Port {
		return false
	}
	if e.Host == listen.Host {
		return true
	}

	ip := net.ParseIP(e.Host)
	return listen.IsUnspecified() && ip != nil && ip.IsLoopback()
}

// ReconnectAllNodes dial every static node which is not connected.
// Calls closer than MinReconnectInterval to the last pass are ignored.
func (h *Host) ReconnectAllNodes() {
	now := time.Now().UnixNano()
	last := h.lastReconnect.Load()
	if last != 0 && time.Duration(now-last) < h.cfg.MinReconnectInterval {
		return
	}
	if !h.lastReconnect.CAS(last, now) {
		return
	}

	for _, n := range h.static.List() {
		if n.ID == h.self.NodeID || h.isSelf(n.EndPoint) {
			continue
		}
		if !n.ID.IsZero() && h.IsConnected(n.ID) {
			continue
		}
		if h.cfg.ReconnectBackoff && h.failures.Blocked(n.EndPoint.String()) {
			h.log.Debug("reconnect backing off", "node", n.String())
			continue
		}

		h.log.Debug("reconnect", "node", n.String())
		h.Connect(n.EndPoint, nil)
	}
}

// IsConnected return true if id has an active session
func (h *Host) IsConnected(id vnode.NodeID) bool {
	s, ok := h.SessionByNodeID(id)
	return ok && s.Active()
}

func (h *Host) SessionByNodeID(id vnode.NodeID) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	p, ok := h.sessions[id]
	return p.session, ok
}

// Sessions return the live sessions
func (h *Host) Sessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for _, p := range h.sessions {
		sessions = append(sessions, p.session)
	}

	return sessions
}

// StaticNodes return the static table with the NodeIDs learned so far
func (h *Host) StaticNodes() []vnode.Node {
	return h.static.List()
}

// SetStaticNodes replace the static table, sessions to removed nodes are kept
func (h *Host) SetStaticNodes(nodes []vnode.Node) {
	h.static.Set(nodes)
}

// PendingCount is the count of outbound connections in progress
func (h *Host) PendingCount() int {
	return h.pending.ItemCount()
}
