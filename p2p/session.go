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
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"go.uber.org/atomic"

	"github.com/bcosnet/go-bcosnet/common"
	"github.com/bcosnet/go-bcosnet/tools/bytes_pool"
	"github.com/bcosnet/go-bcosnet/tools/queue"
)

type SessionState int32

const (
	SessionCreated SessionState = iota
	SessionActive
	SessionDraining
	SessionClosed
)

var sessionStateStr = [...]string{
	SessionCreated:  "created",
	SessionActive:   "active",
	SessionDraining: "draining",
	SessionClosed:   "closed",
}

func (st SessionState) String() string {
	if int(st) < len(sessionStateStr) {
		return sessionStateStr[st]
	}
	return "unknown"
}

// MessageHandler receives every message which is not a matched response,
// and once more with a non-nil err and nil msg when the session drops
type MessageHandler func(err error, s *Session, msg *Msg)

// ResponseCallback receives the response of a request, or the error it failed with
type ResponseCallback func(err error, msg *Msg)

type SessionConfig struct {
	// IdleTimeout drops the session if nothing was read or written for this long, 0 disables
	IdleTimeout    time.Duration
	MaxWriteQueue  int
	ReadBufferSize int
}

type pendingRequest struct {
	cb    ResponseCallback
	timer *time.Timer
}

// Session is the engine of one authenticated connection.
// It owns the socket, the write queue and the table of requests waiting for a response.
type Session struct {
	socket Socket
	codec  *Codec
	exec   Executor
	cfg    SessionConfig

	state   atomic.Int32
	handler atomic.Value // MessageHandler

	pmu     sync.Mutex
	pending map[uint32]*pendingRequest

	wmu     sync.Mutex
	wq      queue.Queue
	writing bool

	lastActive atomic.Int64
	timerMu    sync.Mutex
	idleTimer  *time.Timer

	done chan struct{}
	log  log15.Logger
}

// NewSession wrap an established socket, call Start to begin reading
func NewSession(socket Socket, codec *Codec, exec Executor, cfg SessionConfig) *Session {
	if cfg.MaxWriteQueue <= 0 {
		cfg.MaxWriteQueue = DefaultMaxWriteQueue
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}

	id := socket.Identity()

	return &Session{
		socket:  socket,
		codec:   codec,
		exec:    exec,
		cfg:     cfg,
		pending: make(map[uint32]*pendingRequest),
		wq:      queue.NewBlockQueue(cfg.MaxWriteQueue),
		done:    make(chan struct{}),
		log:     log15.New("module", "p2p/session", "peer", id.NodeID.Brief(), "remote", socket.RemoteEndpoint().String()),
	}
}

// SetMessageHandler must be called before Start
func (s *Session) SetMessageHandler(h MessageHandler) {
	s.handler.Store(h)
}

func (s *Session) messageHandler() MessageHandler {
	h, _ := s.handler.Load().(MessageHandler)
	return h
}

// Start the read loop and the idle watchdog, only the first call has effect
func (s *Session) Start() {
	if !s.state.CAS(int32(SessionCreated), int32(SessionActive)) {
		return
	}

	s.touch()
	s.startIdleTimer()
	common.Go(s.readLoop)
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) Active() bool {
	return s.State() == SessionActive
}

func (s *Session) Socket() Socket {
	return s.socket
}

// Identity of the peer
func (s *Session) Identity() Identity {
	return s.socket.Identity()
}

// Done is closed after the socket is closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) WriteQueueSize() int {
	return s.wq.Size()
}

// PendingCount is the count of requests waiting for a response
func (s *Session) PendingCount() int {
	s.pmu.Lock()
	defer s.pmu.Unlock()

	return len(s.pending)
}

// LastActive is the time of the last successful read or write
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) post(fn func()) {
	post(s.exec, fn)
}

// AsyncSendMessage queue msg for writing.
// If cb is not nil, it is called once with the response matching msg.Seq, or with the error the request failed with.
// A timeout of 0 means the request waits until a response arrives or the session drops.
// If the session is not active, cb is called before AsyncSendMessage returns.
func (s *Session) AsyncSendMessage(msg *Msg, cb ResponseCallback, timeout time.Duration) {
	if !s.Active() {
		if cb != nil {
			cb(newNetworkError(SessionInactive, "%s", s.State()), nil)
		}
		return
	}

	buf, err := s.codec.Encode(msg)
	if err != nil {
		s.log.Warn("encode message failed", "msg", msg, "err", err)
		if cb != nil {
			s.post(func() {
				cb(newNetworkError(ProtocolError, "%v", err), nil)
			})
		}
		return
	}

	var req *pendingRequest
	if cb != nil {
		req, err = s.addPending(msg.Seq, cb, timeout)
		if err != nil {
			if ErrorCodeOf(err) == SessionInactive {
				cb(err, nil)
			} else {
				s.post(func() {
					cb(err, nil)
				})
			}
			return
		}
	}

	if !s.send(buf) {
		if req != nil && s.claimIf(msg.Seq, req) {
			s.stopTimer(req)
			s.post(func() {
				cb(newNetworkError(WriteQueueFull, "%d messages queued", s.cfg.MaxWriteQueue), nil)
			})
		}
	}
}

func (s *Session) addPending(seq uint32, cb ResponseCallback, timeout time.Duration) (*pendingRequest, error) {
	req := &pendingRequest{cb: cb}

	s.pmu.Lock()
	defer s.pmu.Unlock()

	// a drop sweeps the table after leaving the active state, so nothing may be added behind it
	if !s.Active() {
		return nil, newNetworkError(SessionInactive, "%s", s.State())
	}
	if _, ok := s.pending[seq]; ok {
		return nil, newNetworkError(DuplicateSeq, "seq %d is waiting for response", seq)
	}

	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			if s.claimIf(seq, req) {
				s.log.Debug("request timeout", "seq", seq, "timeout", timeout)
				s.post(func() {
					cb(newNetworkError(NetworkTimeout, "seq %d after %s", seq, timeout), nil)
				})
			}
		})
	}

	s.pending[seq] = req
	return req, nil
}

// claim remove and return the request waiting for seq, the caller owns the callback
func (s *Session) claim(seq uint32) *pendingRequest {
	s.pmu.Lock()
	defer s.pmu.Unlock()

	req, ok := s.pending[seq]
	if !ok {
		return nil
	}
	delete(s.pending, seq)
	return req
}

// claimIf remove the entry of seq only if it is still req
func (s *Session) claimIf(seq uint32, req *pendingRequest) bool {
	s.pmu.Lock()
	defer s.pmu.Unlock()

	if s.pending[seq] != req {
		return false
	}
	delete(s.pending, seq)
	return true
}

func (s *Session) stopTimer(req *pendingRequest) {
	if req.timer != nil {
		req.timer.Stop()
	}
}

// send append buf to the write queue and start a writer if none is running
func (s *Session) send(buf []byte) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if !s.wq.Add(buf) {
		return false
	}

	if !s.writing {
		s.writing = true
		common.Go(s.writeLoop)
	}

	return true
}

// writeLoop is the only writer of the socket, it exits when the queue is empty
func (s *Session) writeLoop() {
	for {
		s.wmu.Lock()
		v, ok := s.wq.Pop()
		if !ok || !s.Active() {
			s.writing = false
			s.wmu.Unlock()
			return
		}
		s.wmu.Unlock()

		if _, err := s.socket.Write(v.([]byte)); err != nil {
			if s.Active() {
				s.log.Warn("write failed", "err", err)
			}
			s.wmu.Lock()
			s.writing = false
			s.wmu.Unlock()
			s.Drop(DiscTCPError)
			return
		}

		s.touch()
	}
}

func (s *Session) readLoop() {
	buf := bytes_pool.Get(s.cfg.ReadBufferSize)
	defer bytes_pool.Put(buf)

	var recv []byte
	for {
		n, err := s.socket.Read(buf)
		if n > 0 && s.Active() {
			s.touch()
			recv = append(recv, buf[:n]...)

			var derr error
			if recv, derr = s.decode(recv); derr != nil {
				s.log.Warn("decode message failed", "err", derr)
				s.Drop(DiscBadProtocol)
				return
			}
		}

		if err != nil {
			if s.Active() {
				s.log.Info("read failed", "err", err)
			}
			s.Drop(DiscTCPError)
			return
		}

		if !s.Active() {
			return
		}
	}
}

// decode dispatch every whole message in recv and return the bytes left
func (s *Session) decode(recv []byte) ([]byte, error) {
	for {
		msg, used, err := s.codec.Decode(recv)
		if errors.Is(err, ErrIncomplete) {
			break
		}
		if err != nil {
			return nil, err
		}

		recv = recv[used:]
		msg.ReceivedAt = time.Now()
		s.dispatch(msg)
	}

	if len(recv) == 0 {
		return nil, nil
	}
	return recv, nil
}

func (s *Session) dispatch(msg *Msg) {
	if msg.IsResponse() {
		if req := s.claim(msg.Seq); req != nil {
			s.stopTimer(req)
			s.post(func() {
				req.cb(nil, msg)
			})
			return
		}
	}

	h := s.messageHandler()
	if h == nil {
		s.log.Debug("no handler, drop message", "msg", msg)
		return
	}

	s.post(func() {
		h(nil, s, msg)
	})
}

func (s *Session) startIdleTimer() {
	if s.cfg.IdleTimeout <= 0 {
		return
	}

	s.timerMu.Lock()
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, s.checkIdle)
	s.timerMu.Unlock()
}

func (s *Session) checkIdle() {
	if !s.Active() {
		return
	}

	idle := time.Since(s.LastActive())
	if idle >= s.cfg.IdleTimeout {
		s.log.Warn("session idle", "idle", idle)
		s.Drop(DiscIdleTimeout)
		return
	}

	s.timerMu.Lock()
	if s.Active() {
		s.idleTimer.Reset(s.cfg.IdleTimeout - idle)
	}
	s.timerMu.Unlock()
}

// Drop the session, only the first call has effect.
// Every pending request fails with the reason, the message handler is told once, and the socket is closed.
func (s *Session) Drop(reason DiscReason) {
	if !s.state.CAS(int32(SessionActive), int32(SessionDraining)) &&
		!s.state.CAS(int32(SessionCreated), int32(SessionDraining)) {
		return
	}

	s.log.Info("drop session", "reason", reason)

	s.timerMu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.timerMu.Unlock()

	s.wmu.Lock()
	s.wq.Close()
	s.wmu.Unlock()

	err := newDisconnectError(reason)

	s.pmu.Lock()
	pending := s.pending
	s.pending = make(map[uint32]*pendingRequest)
	s.pmu.Unlock()

	for _, req := range pending {
		s.stopTimer(req)
		cb := req.cb
		s.post(func() {
			cb(err, nil)
		})
	}

	if h := s.messageHandler(); h != nil {
		s.post(func() {
			h(err, s, nil)
		})
	}

	common.Go(func() {
		_ = s.socket.Close()
		s.state.Store(int32(SessionClosed))
		close(s.done)
	})
}
